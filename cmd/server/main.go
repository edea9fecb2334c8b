package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/beamcast/beamcast/internal/broadcast"
	"github.com/beamcast/beamcast/internal/config"
	"github.com/beamcast/beamcast/internal/gateway"
	"github.com/beamcast/beamcast/internal/logging"
	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/recording"
	"github.com/beamcast/beamcast/internal/room"
	"github.com/beamcast/beamcast/internal/server"
	"github.com/beamcast/beamcast/internal/session"
	"github.com/beamcast/beamcast/internal/status"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "beamcast",
	Short: "Signaling engine for one-to-many live broadcasts",
	Long: `beamcast is the control-plane signaling engine of a one-to-many live
broadcast system: streamers push media through an external media engine,
viewers and admins consume it, and beamcast owns the room lifecycle,
disconnect tolerance and fan-out in between.`,
	RunE: run,
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		return err
	}

	logger := logging.Init(cfg.Logging)
	logger.Info("service starting",
		slog.String("listen_addr", cfg.Server.ListenAddr()),
		slog.String("media_endpoint", cfg.Media.Endpoint),
		slog.Duration("streamer_grace", cfg.Session.StreamerGrace()),
		slog.Duration("viewer_grace", cfg.Session.ViewerGrace()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	engine, err := media.NewClient(ctx, media.ClientConfig{
		Endpoint: cfg.Media.Endpoint,
		Token:    cfg.Media.Token,
		Timeout:  cfg.Media.Timeout(),
	}, logger)
	if err != nil {
		logger.Error("failed to connect to media engine", slog.String("error", err.Error()))
		return err
	}
	provider := media.Instrument(engine, m)

	notifier := status.New(cfg.Status.Endpoint, cfg.Status.Token, cfg.Status.Timeout(), logger)
	// Previously-reported live state does not survive a restart; mark
	// everything offline before accepting connections.
	notifier.Reset(ctx)

	registry := room.NewRegistry(provider, logger)
	fanout := broadcast.New(registry, cfg.Broadcast.HeartbeatInterval(), cfg.Broadcast.ActiveRoomsInterval(), m, logger)
	sessions := session.NewManager(registry, fanout, notifier, cfg.Session.StreamerGrace(), cfg.Session.ViewerGrace(), m, logger)
	gw := gateway.New(registry, sessions, fanout, m, logger)

	bridge := recording.NewBridge(registry, provider, logger)
	recHandlers := recording.NewHandlers(bridge, cfg.Recording.SharedSecret, logger)

	srv := server.New(cfg, gw, recHandlers, prometheus.DefaultGatherer, logger)

	go fanout.Run(ctx)
	go engine.Watch(ctx, cfg.Media.HealthInterval(), func(err error) {
		// The media engine dying is fatal; the supervisor restarts us and
		// the startup reset clears stale live state.
		logger.Error("media engine died", slog.String("error", err.Error()))
		os.Exit(1)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", slog.String("error", err.Error()))
	}
	logger.Info("service stopped")
	return nil
}
