package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"blogdesk/api/internal/config"
	"blogdesk/api/internal/logging"
)

var (
	cfg    config.Config
	logger *logrus.Logger

	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:           "blogdesk-api",
	Short:         "Blogdesk editor backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if logLevelFlag != "" {
			cfg.LogLevel = logLevelFlag
		}
		if logFormatFlag != "" {
			cfg.LogFormat = logFormatFlag
		}
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level, overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "json or text, overrides LOG_FORMAT")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
