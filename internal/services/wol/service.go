// Package wol wakes the storage host before a pass and waits until its
// object storage endpoint answers.
package wol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for waking the storage host.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// PacketSender sends magic packets.
type PacketSender interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UDPSender sends magic packets to the discard port of the broadcast address.
type UDPSender struct{}

// Wake broadcasts a magic packet for mac.
func (UDPSender) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the wol Service interface.
type Impl struct {
	sender     PacketSender
	httpClient HTTPClient
	clock      clock.Clock
	logger     zerolog.Logger
}

// New creates a new wol service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender:     UDPSender{},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		clock:      clock.WallClock,
		logger:     logger,
	}
}

// NewWithDeps creates a new wol service with custom clients and clock (for testing).
func NewWithDeps(logger zerolog.Logger, sender PacketSender, httpClient HTTPClient, clk clock.Clock) *Impl {
	return &Impl{
		sender:     sender,
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
	}
}

// Wake powers on the storage host and blocks until its object storage
// endpoint serves requests. Failures are reported in the result.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := s.clock.Now()
	done := func(err error) (*models.WOLResult, error) {
		result.Error = err
		result.TargetReady = err == nil
		result.WaitDuration = s.clock.Now().Sub(start)
		return result, nil
	}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return done(fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err))
	}

	if err := s.sender.Wake(cfg.BroadcastIP, mac); err != nil {
		return done(err)
	}
	result.PacketSent = true

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("magic packet sent to storage host")

	if cfg.PollURL == "" {
		return done(nil)
	}

	attempts, err := s.awaitEndpoint(ctx, cfg)
	result.Attempts = attempts
	if err != nil {
		return done(err)
	}

	// MinIO and similar stores answer before their disks are mounted.
	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("letting object store settle")
		if err := s.pause(ctx, cfg.StabilizeWait); err != nil {
			return done(err)
		}
	}

	res, err := done(nil)
	s.logger.Info().
		Str("endpoint", cfg.PollURL).
		Int("attempts", result.Attempts).
		Dur("duration", result.WaitDuration).
		Msg("object store is up")
	return res, err
}

// EndpointReady reports whether an HTTP status from an S3 endpoint means the
// store is serving. Anonymous requests get 403 AccessDenied from a healthy
// store; 5xx means it is still starting.
func EndpointReady(status int) bool {
	return status < http.StatusInternalServerError
}

// awaitEndpoint probes cfg.PollURL every PollInterval until EndpointReady
// holds or Timeout elapses. It returns the number of probes sent.
func (s *Impl) awaitEndpoint(ctx context.Context, cfg models.WOLConfig) (int, error) {
	s.logger.Info().
		Str("endpoint", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for object store")

	deadline := s.clock.Now().Add(cfg.Timeout)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		if s.clock.Now().After(deadline) {
			return attempts, fmt.Errorf("timeout waiting for storage endpoint %s after %d attempt(s)", cfg.PollURL, attempts)
		}

		attempts++
		status, err := s.probe(ctx, cfg.PollURL)
		switch {
		case err != nil:
			s.logger.Debug().Err(err).Int("attempt", attempts).Msg("object store unreachable")
		case EndpointReady(status):
			return attempts, nil
		default:
			s.logger.Debug().Int("status", status).Int("attempt", attempts).Msg("object store still starting")
		}

		if err := s.pause(ctx, cfg.PollInterval); err != nil {
			return attempts, err
		}
	}
}

func (s *Impl) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Impl) pause(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
