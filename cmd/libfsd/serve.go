package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/internal/ratelimiter"
	"github.com/marmos91/libfs/pkg/config"
	"github.com/marmos91/libfs/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Mount the configured devices and serve lookups",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logCloser, err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	reg, err := config.InitializeRegistry(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Failed to close back-ends: %v", err)
		}
	}()

	srv := server.New(server.Config{
		PLBSize:         cfg.PLB.Size,
		NameMax:         cfg.Lookup.NameMax,
		MaxRecordSize:   cfg.Server.MaxRecordSize,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit: ratelimiter.Config{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		PerClientRateLimit: ratelimiter.Config{
			RequestsPerSecond: cfg.Server.RateLimit.PerClientRequestsPerSecond,
			Burst:             cfg.Server.RateLimit.PerClientBurst,
		},
	}, reg, m.Connections, m.Lookup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Listen)
	})
	if m.Server != nil {
		g.Go(func() error {
			return m.Server.Start(gctx)
		})
	}

	err = g.Wait()
	logger.Info("libfsd stopped")
	return err
}
