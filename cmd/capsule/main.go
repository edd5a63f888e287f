// Command capsule is the journaling time capsule: an interactive terminal
// journal, the HTTP API server and the diary maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/config"
	"github.com/scrypster/capsule/internal/logging"
)

var (
	logLevel string
	devLogs  bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "capsule",
	Short: "capsule - a consent-first AI journaling time capsule",
	Long: `capsule keeps a private journal with an AI companion that remembers
what you write, and lets you talk to your past self later.

Configuration is read from CAPSULE_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logger, err = logging.New(level, cfg.Log.Development || devLogs)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error); overrides CAPSULE_LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "human-readable console logs")

	rootCmd.AddCommand(serveCmd, journalCmd, memoryCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
