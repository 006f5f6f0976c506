package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one backup pass",
	Long: `Execute one backup pass over all active databases:
1. Wake-on-LAN of the storage host (if configured)
2. Per database: copy, archive, upload, verify checksum
3. Per database: delete local and remote archives older than the retention window
4. SSH shutdown of the storage host (if configured)

A failed database is reported by email and does not stop the pass.`,
	RunE: runPass,
}

func runPass(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		if errors.Is(err, errConfigRequired) {
			_ = cmd.Help()
		}
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	result, err := r.Run(ctx, *opts)
	if err != nil {
		log.Error().Err(err).Msg("backup pass failed")
		return err
	}

	logPass(result)
	return nil
}
