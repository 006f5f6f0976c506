package main

import (
	"context"
	"errors"

	"github.com/fgeck/dbbackup-cloud/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runNow bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run backup passes on the configured cron schedule",
	Long: `Stay in the foreground and run one backup pass on every tick of the
cron expression in backup.schedule (default "0 2 * * *"). SIGINT or SIGTERM
stop the daemon after the current database.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVar(&runNow, "now", false, "run one pass immediately before waiting for the schedule")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		if errors.Is(err, errConfigRequired) {
			_ = cmd.Help()
		}
		return err
	}

	// Reject a bad expression before touching the network.
	if _, err := scheduler.Parse(opts.Schedule); err != nil {
		log.Error().Err(err).Msg("invalid schedule")
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	pass := func(ctx context.Context) error {
		result, err := r.Run(ctx, *opts)
		if err != nil {
			return err
		}
		logPass(result)
		return nil
	}

	if runNow {
		if err := pass(ctx); err != nil {
			log.Error().Err(err).Msg("backup pass failed")
		}
	}

	return scheduler.New(log.Logger).Run(ctx, opts.Schedule, pass)
}
