package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ecordell/optgen/helpers"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	v1 "github.com/jarvishome/jarvis-tesla-exporter/api/v1"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/auth"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/backoff"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/cache"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/config"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/exporter"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/handlers"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/poller"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/ratelimit"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/scheduler"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/server"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

const shutdownGrace = 10 * time.Second

func NewRunCommand(cfg *config.Configuration) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the exporter",
		Example: `  # Run with the default config file location
  jarvis-tesla-exporter run

  # Run against a specific config file on a custom port
  jarvis-tesla-exporter run --config-file /etc/jarvis/tesla.yaml --server-http-port 9536`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfiguration(cfg); err != nil {
				return err
			}

			exporterCfg, err := config.LoadExporter(cfg.ConfigFile)
			if err != nil {
				zap.S().Errorw("failed to load exporter configuration", "error", err)
				return err
			}

			zap.S().Infow("using configuration",
				"server", helpers.Flatten(cfg.DebugMap()),
				"exporter", helpers.Flatten(exporterCfg.DebugMap()),
			)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
			defer cancel()

			// shared process-wide state, constructed once and passed down
			client := tesla.NewClient(exporterCfg.API.BaseURL, exporterCfg.Auth.TokenURL, exporterCfg.API.Timeout)
			tokens := auth.NewManager(client, exporterCfg.Auth.RefreshToken, exporterCfg.Auth.SafetyMargin)
			limiter := ratelimit.NewLimiter(map[ratelimit.Class]ratelimit.Budget{
				ratelimit.ClassTelemetry: {
					Capacity:       exporterCfg.RateLimits.Telemetry.Capacity,
					RefillInterval: exporterCfg.RateLimits.Telemetry.RefillInterval,
				},
				ratelimit.ClassWake: {
					Capacity:       exporterCfg.RateLimits.Wake.Capacity,
					RefillInterval: exporterCfg.RateLimits.Wake.RefillInterval,
				},
			})

			metricCache := cache.NewCache(exporterCfg.Poll.StaleAfter)
			prometheus.MustRegister(exporter.NewCollector(metricCache, exporter.StalenessMode(exporterCfg.StalenessMode)))

			sched := scheduler.NewScheduler(client, tokens, limiter, metricCache, scheduler.Config{
				OnlineInterval:    exporterCfg.Poll.OnlineInterval,
				AsleepInterval:    exporterCfg.Poll.AsleepInterval,
				DiscoveryInterval: exporterCfg.Poll.DiscoveryInterval,
				Vehicles:          exporterCfg.Vehicles,
				Poller: poller.Config{
					PresenceCheckEvery: exporterCfg.Poll.PresenceCheckEvery,
					FailureThreshold:   exporterCfg.Poll.FailureThreshold,
					WakePolicy:         models.WakePolicy(exporterCfg.WakePolicy),
					Geofences:          exporterCfg.Geofences,
					DefaultLocation:    exporterCfg.Location,
					UnreachableBackoff: backoff.Policy{
						Initial: exporterCfg.Poll.UnreachableBackoff.Initial,
						Max:     exporterCfg.Poll.UnreachableBackoff.Max,
					},
				},
			})

			h := handlers.New(sched, tokens)

			srv, err := server.NewServer(cfg, func(router *gin.RouterGroup) {
				v1.RegisterHandlers(router, h)
			})
			if err != nil {
				zap.S().Errorw("failed to create http server", "error", err)
				return err
			}

			wg := sync.WaitGroup{}
			wg.Add(2)

			go func() {
				defer func() {
					wg.Done()
					cancel()
				}()
				if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zap.S().Errorw("scheduler stopped", "error", err)
				}
			}()

			go func() {
				defer func() {
					wg.Done()
					cancel()
				}()
				zap.S().Infof("Starting HTTP server on port %d", cfg.HTTPPort)

				if err := srv.Start(ctx); err != nil {
					if !errors.Is(err, http.ErrServerClosed) {
						zap.S().Errorw("failed to start http server", "error", err)
					}
				}
			}()

			go func() {
				<-ctx.Done()
				stopCtx, cancelStop := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancelStop()
				srv.Stop(stopCtx)
			}()

			<-ctx.Done()

			// let in-flight polls finish within a bounded grace period
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				zap.S().Warn("shutdown grace period expired with polls still in flight")
			}

			zap.S().Info("exporter shutdown")

			return nil
		},
	}

	registerFlags(runCmd, cfg)

	return runCmd
}

func registerFlags(cmd *cobra.Command, config *config.Configuration) {
	nfs := cobrautil.NewNamedFlagSets(cmd)

	serverFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Server"))
	registerServerFlags(serverFlagSet, config)

	exporterFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Exporter"))
	registerExporterFlags(exporterFlagSet, config)

	nfs.AddFlagSets(cmd)
}

func validateConfiguration(cfg *config.Configuration) error {
	switch cfg.ServerMode {
	case config.ServerModeProd, config.ServerModeDev:
	default:
		return fmt.Errorf("invalid server mode %q: must be %q or %q", cfg.ServerMode, config.ServerModeProd, config.ServerModeDev)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("invalid http-port %d: must be between 1 and 65535", cfg.HTTPPort)
	}

	if cfg.ConfigFile == "" {
		return errors.New("config-file cannot be empty")
	}

	return nil
}

func registerServerFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.IntVar(&config.HTTPPort, "server-http-port", config.HTTPPort, "Port on which the HTTP server is listening")
	flagSet.StringVar(&config.ServerMode, "server-mode", config.ServerMode, "Server mode: either prod or dev")
}

func registerExporterFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.StringVar(&config.ConfigFile, "config-file", config.ConfigFile, "Path to the exporter YAML configuration")
}
