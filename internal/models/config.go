// Package models contains the data structures used throughout dbbackup-cloud.
package models

// BackupOptions holds the complete configuration for a backup pass.
type BackupOptions struct {
	ServiceURL         string
	Region             string
	AccessKey          string
	SecretKey          string
	BucketName         string
	UsePathStyle       bool
	ArchiveDepthInDays int    // retention window in days
	Schedule           string // cron expression used by the daemon command
	Email              EmailConfig
	Databases          []DatabaseConfig
	WOL                *WOLConfig         // nil if not configured
	SSHShutdown        *SSHShutdownConfig // nil if not configured
}

// DatabaseConfig describes one managed database file.
type DatabaseConfig struct {
	DatabasePath string // directory holding the live database file
	DatabaseName string // file name of the database, also the archive entry name
	BackupPath   string // local backup directory
	BackupName   string // archive name prefix
	IsActive     bool
}

// ActiveDatabases returns the databases that take part in a pass, in configured order.
func (o BackupOptions) ActiveDatabases() []DatabaseConfig {
	active := make([]DatabaseConfig, 0, len(o.Databases))
	for _, db := range o.Databases {
		if db.IsActive {
			active = append(active, db)
		}
	}
	return active
}

// EmailConfig holds SMTP settings for failure reports.
type EmailConfig struct {
	SMTPServer string `validate:"required"`
	Port       int    `validate:"required,gt=0,lte=65535"`
	From       string `validate:"required"`
	To         string `validate:"required"`
	Username   string `validate:"required"`
	Password   string `validate:"required"`
}
