package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/observes"
	"github.com/upcast/upcast/server"
)

// NewServeCommand runs the engine with its HTTP API.
func NewServeCommand() *cobra.Command {
	var conf string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(conf)
			if err != nil {
				return err
			}

			logCleanup, err := logger.Init(cfg.Logger)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logCleanup()

			if err := observes.InitSentry(cfg.Observes.Sentry, cfg.AppName); err != nil {
				return fmt.Errorf("init sentry: %w", err)
			}
			tracerShutdown, err := observes.InitTracer(cfg.Observes.Tracer)
			if err != nil {
				return fmt.Errorf("init tracer: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			srv := server.New(cfg, eng.coord, eng.collector, eng.gate, eng.routes)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Run()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logger.Infof(ctx, "received %s, shutting down", sig)
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf(ctx, "http shutdown: %v", err)
			}
			return tracerShutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&conf, "conf", "", "config file path")
	return cmd
}

// loadConfig reads the named config file, falling back to built-in defaults
// when no file is present anywhere on the search path.
func loadConfig(conf string) (*config.Config, error) {
	if conf != "" {
		return config.LoadConfig(conf)
	}
	cfg, err := config.LoadConfig("")
	if err != nil {
		return config.Default(), nil
	}
	return cfg, nil
}
