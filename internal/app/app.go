// Package app wires configuration, logging, the gateway, and the
// replication engine together and runs the simulation loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"ironfront/server/internal/config"
	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/game"
	"ironfront/server/internal/gateway"
	"ironfront/server/internal/logging"
	"ironfront/server/internal/metrics"
	"ironfront/server/internal/replication"
)

// Run builds every subsystem from cfg and blocks until ctx is cancelled or
// the HTTP listener fails. On cancellation it stops the tick loop, drops
// the live sessions, and shuts both listeners down within the configured
// grace period.
func Run(ctx context.Context, cfg config.Config) error {
	log, err := logging.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	algo, err := cfg.CompressionAlgorithm()
	if err != nil {
		return fmt.Errorf("snapshot compression: %w", err)
	}

	router := dispatch.NewRouter(logging.Component(log, "dispatch"))
	hub := gateway.NewHub(cfg.Gateway, router, logging.Component(log, "gateway"))
	manager := replication.NewManager(router, replication.Config{
		Algorithm: algo,
		Level:     cfg.Replication.CompressionLevel,
	}, logging.Component(log, "replication"))
	world := game.NewWorld(game.Options{
		MapName:         cfg.Game.MapName,
		MapExtent:       cfg.Game.MapExtent,
		ChatHistory:     cfg.Game.ChatHistory,
		TickRate:        cfg.Replication.TickRate,
		HeartbeatMillis: uint32(cfg.Gateway.HeartbeatInterval / time.Millisecond),
	}, manager, hub, logging.Component(log, "game"))
	hub.SetListener(world)
	world.RegisterHandlers(router)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, logging.Component(log, "metrics"))
		metricsSrv.Start()
	}

	mux := chi.NewRouter()
	mux.Post("/join", hub.HandleJoin)
	mux.Get("/ws", hub.HandleSocket)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	// The tick loop advances the world before the manager so this tick's
	// mutations ride this tick's snapshot, and sweeps the hub last.
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ticker := time.NewTicker(cfg.TickInterval())
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				dt := now.Sub(last).Seconds()
				last = now
				started := time.Now()
				world.Tick(dt)
				manager.Tick(dt)
				hub.Sweep(now)
				metrics.TickDuration.Observe(time.Since(started).Seconds())
			}
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":      cfg.Server.Addr,
			"map":       cfg.Game.MapName,
			"tick_rate": cfg.Replication.TickRate,
		}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		stopLoop()
		<-loopDone
		return fmt.Errorf("http server: %w", err)
	}

	stopLoop()
	<-loopDone
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics shutdown incomplete")
		}
	}
	log.Info("server stopped")
	return nil
}
