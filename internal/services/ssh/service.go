// Package ssh powers the storage host off once a pass has finished.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for storage host shutdown.
type Service interface {
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	Probe(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

// Client wraps ssh.Client for mocking.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Session wraps ssh.Session for mocking.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Dialer opens SSH connections.
type Dialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (Client, error)
}

// NetDialer dials real SSH servers.
type NetDialer struct{}

// Dial connects to addr.
func (NetDialer) Dial(network, addr string, config *ssh.ClientConfig) (Client, error) {
	c, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return sshClient{c}, nil
}

type sshClient struct{ *ssh.Client }

func (c sshClient) NewSession() (Session, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Impl implements the ssh Service interface.
type Impl struct {
	dialer Dialer
	logger zerolog.Logger
}

// New creates a new ssh service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		dialer: NetDialer{},
		logger: logger,
	}
}

// NewWithDialer creates a new ssh service with a custom dialer (for testing).
func NewWithDialer(logger zerolog.Logger, dialer Dialer) *Impl {
	return &Impl{
		dialer: dialer,
		logger: logger,
	}
}

// ShutdownCommand returns the delayed shutdown command for the host OS.
func ShutdownCommand(cfg models.SSHShutdownConfig) string {
	if cfg.OS == "windows" {
		seconds := cfg.ShutdownDelay * 60
		if seconds == 0 {
			seconds = 60
		}
		return "shutdown /s /t " + strconv.Itoa(seconds)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return "sudo shutdown -h +" + strconv.Itoa(cfg.ShutdownDelay)
}

// Shutdown schedules a shutdown of the storage host. A command error is only
// logged because the host may drop the connection while going down.
func (s *Impl) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	cmd := ShutdownCommand(cfg)

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Int("delay_minutes", cfg.ShutdownDelay).
		Msg("shutting down storage host")

	result, err := s.exec(ctx, cfg, cmd)
	if result.Error != nil || err != nil {
		return result, err
	}

	s.logger.Info().Str("output", result.Output).Msg("shutdown scheduled")
	return result, nil
}

// Probe checks that the host accepts the configured key.
func (s *Impl) Probe(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("probing ssh connection")
	return s.exec(ctx, cfg, "echo OK")
}

func (s *Impl) exec(ctx context.Context, cfg models.SSHShutdownConfig, cmd string) (*models.SSHResult, error) {
	result := &models.SSHResult{}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	client, err := s.dial(ctx, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), clientCfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to open session: %w", err)
		return result, nil
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("running remote command")

	output, err := session.CombinedOutput(cmd)
	result.Output = string(output)
	result.CommandRun = true

	if err != nil {
		if ctx.Err() != nil {
			result.Error = ctx.Err()
			return result, nil
		}
		s.logger.Warn().Err(err).Str("output", result.Output).Msg("remote command returned error")
	}
	return result, nil
}

// dial connects in the background so a cancelled ctx does not wait for the
// SSH handshake timeout.
func (s *Impl) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Client, error) {
	type dialResult struct {
		client Client
		err    error
	}
	ch := make(chan dialResult, 1)

	go func() {
		c, err := s.dialer.Dial("tcp", addr, cfg)
		ch <- dialResult{c, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		return res.client, nil
	}
}

func clientConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // storage host on the local network
		Timeout:         30 * time.Second,
	}, nil
}
