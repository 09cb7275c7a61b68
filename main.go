package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jarvishome/jarvis-tesla-exporter/cmd"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/config"
	"github.com/jarvishome/jarvis-tesla-exporter/pkg/logger"
)

func main() {
	cfg := config.NewConfiguration()

	rootCmd := &cobra.Command{
		Use:   "jarvis-tesla-exporter",
		Short: "Prometheus exporter for Tesla vehicle telemetry",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateLogging(cfg); err != nil {
				return err
			}
			log := logger.Init(cfg.LogFormat, cfg.LogLevel)
			zap.ReplaceGlobals(log)
			return nil
		},
	}
	registerLoggingFlags(rootCmd, cfg)

	rootCmd.AddCommand(cmd.NewRunCommand(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
}

func validateLogging(cfg *config.Configuration) error {
	switch cfg.LogFormat {
	case "console":
	case "json":
	default:
		return fmt.Errorf("invalid log-format: %s", cfg.LogFormat)
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %s", cfg.LogLevel)
	}

	return nil
}

func registerLoggingFlags(cmd *cobra.Command, config *config.Configuration) {
	cmd.PersistentFlags().StringVar(&config.LogFormat, "log-format", config.LogFormat, "format of the logs: console or json")
	cmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
}
