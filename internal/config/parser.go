// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults applied when a key is absent from the file.
const (
	DefaultRegion             = "us-east-1"
	DefaultSchedule           = "0 2 * * *"
	DefaultArchiveDepthInDays = 7
	DefaultSMTPPort           = 25
)

var validate = validator.New()

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupOptions, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, models.NewConfigError("load", "reading config file", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupOptions, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, models.NewConfigError("load", "reading config", err)
	}

	return p.parse()
}

// databaseEntry mirrors one item of backup.databases.
type databaseEntry struct {
	DatabasePath string `mapstructure:"database_path"`
	DatabaseName string `mapstructure:"database_name"`
	BackupPath   string `mapstructure:"backup_path"`
	BackupName   string `mapstructure:"backup_name"`
	IsActive     *bool  `mapstructure:"is_active"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupOptions, error) {
	cfg := &models.BackupOptions{
		ServiceURL: p.expandEnv(p.v.GetString("backup.service_url")),
		Region:     p.v.GetString("backup.region"),
		AccessKey:  p.expandEnv(p.v.GetString("backup.access_key")),
		SecretKey:  p.expandEnv(p.v.GetString("backup.secret_key")),
		BucketName: p.v.GetString("backup.bucket_name"),
		Schedule:   p.v.GetString("backup.schedule"),
	}

	if cfg.BucketName == "" {
		return nil, models.NewConfigError("parse", "backup.bucket_name is required", nil)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}

	// S3-compatible stores mostly want path-style addressing.
	cfg.UsePathStyle = true
	if p.v.IsSet("backup.use_path_style") {
		cfg.UsePathStyle = p.v.GetBool("backup.use_path_style")
	}

	cfg.ArchiveDepthInDays = DefaultArchiveDepthInDays
	if p.v.IsSet("backup.archive_depth_in_days") {
		cfg.ArchiveDepthInDays = p.v.GetInt("backup.archive_depth_in_days")
	}

	// Email settings are checked by the runner before a pass starts, not here.
	cfg.Email = models.EmailConfig{
		SMTPServer: p.v.GetString("backup.email.smtp_server"),
		Port:       p.v.GetInt("backup.email.port"),
		From:       p.v.GetString("backup.email.from"),
		To:         p.v.GetString("backup.email.to"),
		Username:   p.expandEnv(p.v.GetString("backup.email.username")),
		Password:   p.expandEnv(p.v.GetString("backup.email.password")),
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = DefaultSMTPPort
	}

	var entries []databaseEntry
	if err := p.v.UnmarshalKey("backup.databases", &entries); err != nil {
		return nil, models.NewConfigError("parse", "parsing backup.databases", err)
	}
	if len(entries) == 0 {
		return nil, models.NewConfigError("parse", "backup.databases must list at least one database", nil)
	}

	// Empty path fields are reported per database at run time so one bad
	// entry does not block the others.
	for _, e := range entries {
		db := models.DatabaseConfig{
			DatabasePath: p.expandEnv(e.DatabasePath),
			DatabaseName: e.DatabaseName,
			BackupPath:   p.expandEnv(e.BackupPath),
			BackupName:   e.BackupName,
			IsActive:     true,
		}
		if e.IsActive != nil {
			db.IsActive = *e.IsActive
		}
		cfg.Databases = append(cfg.Databases, db)
	}

	// Parse optional WOL config.
	if p.v.IsSet("backup.wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("backup.wol.mac_address"),
			BroadcastIP:   p.v.GetString("backup.wol.broadcast_ip"),
			PollURL:       p.v.GetString("backup.wol.poll_url"),
			Timeout:       p.v.GetDuration("backup.wol.timeout"),
			PollInterval:  p.v.GetDuration("backup.wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("backup.wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, models.NewConfigError("parse", "backup.wol.mac_address is required when wol is configured", nil)
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.PollURL == "" {
			cfg.WOL.PollURL = cfg.ServiceURL
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("backup.ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("backup.ssh_shutdown.host"),
			Port:          p.v.GetInt("backup.ssh_shutdown.port"),
			Username:      p.v.GetString("backup.ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("backup.ssh_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("backup.ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("backup.ssh_shutdown.os"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, models.NewConfigError("parse", "backup.ssh_shutdown.host is required when ssh_shutdown is configured", nil)
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, models.NewConfigError("parse", "backup.ssh_shutdown.key_path is required when ssh_shutdown is configured", nil)
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, models.NewConfigError("parse", "backup.ssh_shutdown.os must be one of: linux, windows", nil)
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// options carries the struct-level rules checked by Validate.
type options struct {
	BucketName         string `validate:"required"`
	AccessKey          string `validate:"required"`
	SecretKey          string `validate:"required"`
	Region             string `validate:"required"`
	ServiceURL         string `validate:"omitempty,url"`
	ArchiveDepthInDays int    `validate:"gte=0"`
	Databases          int    `validate:"gte=1"`
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupOptions) error {
	if cfg == nil {
		return models.NewConfigError("validate", "configuration is nil", nil)
	}

	err := validate.Struct(options{
		BucketName:         cfg.BucketName,
		AccessKey:          cfg.AccessKey,
		SecretKey:          cfg.SecretKey,
		Region:             cfg.Region,
		ServiceURL:         cfg.ServiceURL,
		ArchiveDepthInDays: cfg.ArchiveDepthInDays,
		Databases:          len(cfg.Databases),
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewConfigError("validate", "invalid configuration", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return models.NewConfigError("validate", "invalid settings: "+strings.Join(fields, ", "), nil)
}
