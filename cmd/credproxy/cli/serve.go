package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/credential"
	"github.com/JohnPreston/credproxy/internal/log"
	"github.com/JohnPreston/credproxy/internal/metrics"
	"github.com/JohnPreston/credproxy/internal/server"
	"github.com/JohnPreston/credproxy/internal/watcher"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credential endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetAppInfo(version)

	table := credential.NewTable(cfg.Credentials)
	defer table.StopAll()

	// Static services seed the table; their entries begin fetching
	// immediately.
	for _, def := range cfg.Services {
		if err := table.Register(def); err != nil {
			return err
		}
	}

	if cfg.DynamicServices != nil && cfg.DynamicServices.Enabled {
		w := watcher.New(*cfg.DynamicServices, cfg.AWSDefaults, table)
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Prometheus.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Prometheus.Host, cfg.Metrics.Prometheus.Port)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics server listening",
			"host", cfg.Metrics.Prometheus.Host, "port", cfg.Metrics.Prometheus.Port)
	}

	srv := server.New(cfg.Server, table)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
