package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "dbbackup-cloud",
	Short: "Back up database files to S3-compatible storage",
	Long: `dbbackup-cloud copies database files, packs them into dated zip archives,
uploads the archives to an S3-compatible bucket and verifies them:
  - Wake-on-LAN of the storage host (optional)
  - local and remote retention cleanup
  - email report for every failed database
  - SSH shutdown of the storage host (optional)

Use "run" with an external scheduler, or "daemon" to run passes on a cron schedule.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
}

// setupLogging configures the global logger. Logs go to stderr so that the
// validate summary on stdout stays readable when piped.
func setupLogging() {
	host, _ := os.Hostname()
	log.Logger = zerolog.New(logWriter()).With().
		Timestamp().
		Str("host", host).
		Logger()
	zerolog.SetGlobalLevel(logLevel())
}

func logWriter() io.Writer {
	if jsonOutput {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			return strings.ToUpper(s)
		},
		FieldsExclude: []string{"host"},
	}
}

func logLevel() zerolog.Level {
	if quiet {
		return zerolog.ErrorLevel
	}
	if verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
