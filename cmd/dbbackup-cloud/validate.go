package main

import (
	"errors"
	"fmt"

	"github.com/fgeck/dbbackup-cloud/internal/services/mailer"
	"github.com/fgeck/dbbackup-cloud/internal/services/scheduler"
	"github.com/fgeck/dbbackup-cloud/internal/services/ssh"
	"github.com/fgeck/dbbackup-cloud/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var probe bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without running a backup pass.
With --probe, also check that the bucket exists and the storage host accepts SSH.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&probe, "probe", false, "connect to the object store and the SSH host")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		if errors.Is(err, errConfigRequired) {
			_ = cmd.Help()
		}
		return err
	}

	if _, err := scheduler.Parse(opts.Schedule); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	mailErr := mailer.New(log.Logger).ValidateConfig(opts.Email)

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Service URL: %s\n", opts.ServiceURL)
	fmt.Printf("  Region: %s\n", opts.Region)
	fmt.Printf("  Bucket: %s\n", opts.BucketName)
	fmt.Printf("  Path-style addressing: %v\n", opts.UsePathStyle)
	fmt.Printf("  Retention: %d day(s)\n", opts.ArchiveDepthInDays)
	fmt.Printf("  Schedule: %s\n", opts.Schedule)
	fmt.Println()
	fmt.Printf("Databases (%d of %d active):\n", len(opts.ActiveDatabases()), len(opts.Databases))
	for _, db := range opts.Databases {
		state := "active"
		if !db.IsActive {
			state = "inactive"
		}
		fmt.Printf("  %s (%s): %s/%s -> %s\n", db.BackupName, state, db.DatabasePath, db.DatabaseName, db.BackupPath)
	}
	fmt.Println()
	fmt.Println("Email:")
	fmt.Printf("  Server: %s:%d\n", opts.Email.SMTPServer, opts.Email.Port)
	fmt.Printf("  To: %s\n", opts.Email.To)
	if mailErr != nil {
		fmt.Printf("  WARNING: %v (passes will abort)\n", mailErr)
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", opts.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", opts.SSHShutdown != nil)

	if opts.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", opts.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", opts.WOL.BroadcastIP)
		fmt.Printf("  Poll URL: %s\n", opts.WOL.PollURL)
	}

	if opts.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", opts.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", opts.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", opts.SSHShutdown.Username)
		fmt.Printf("  OS: %s\n", opts.SSHShutdown.OS)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", opts.SSHShutdown.ShutdownDelay)
	}

	if !probe {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println()
	fmt.Println("Probes:")

	store, err := storage.NewS3Store(ctx, *opts)
	if err != nil {
		return err
	}
	if err := storage.New(log.Logger, store).CheckBucketExists(ctx, opts.BucketName); err != nil {
		fmt.Printf("  Bucket: FAILED (%v)\n", err)
		return err
	}
	fmt.Println("  Bucket: OK")

	if opts.SSHShutdown != nil {
		result, err := ssh.New(log.Logger).Probe(ctx, *opts.SSHShutdown)
		if err == nil {
			err = result.Error
		}
		if err != nil {
			fmt.Printf("  SSH: FAILED (%v)\n", err)
			return err
		}
		fmt.Println("  SSH: OK")
	}

	return nil
}
