// Package app wires the relay's components and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chatrelay/internal/retention"
	"chatrelay/pkg/classify"
	"chatrelay/pkg/config"
	"chatrelay/pkg/fanout"
	"chatrelay/pkg/ingest"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/seed"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store    *store.Pebble
	bus      *fanout.Bus
	queue    *ingest.Queue
	pipeline *ingest.Pipeline

	srv *http.Server
}

// New validates the effective config and opens resources that do not need a
// running context. Call Run to start workers and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	st, err := store.OpenPebble(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	cfg := eff.Config
	if n := cfg.Ingest.Queue.MaxPooledBufferBytes.Int64(); n > 0 {
		ingest.SetMaxPooledBuffer(int(n))
	}

	bus := fanout.New(cfg.Fanout.SubscriberBuffer)
	queue := ingest.NewQueue(cfg.Ingest.Queue.Capacity)
	pipeline := ingest.NewPipeline(classify.New(cfg.Relay.SelfID), st, bus)

	telemetry.RegisterFanout(bus)
	telemetry.RegisterStore(st)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		bus:       bus,
		queue:     queue,
		pipeline:  pipeline,
	}, nil
}

// validateConfig rejects configs the server cannot run with.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("no configuration resolved")
	}
	if eff.DBPath == "" && eff.Config.Server.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	c := eff.Config
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	if c.Retention.Enabled && c.Retention.Period == "" {
		return fmt.Errorf("retention.period is required when retention is enabled")
	}
	return nil
}

// Run starts the ingest workers, seed replay, retention and the HTTP
// server, then blocks until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	cfg := a.eff.Config

	// a single worker keeps per-conversation ordering end to end; with
	// more workers, payloads for the same conversation can interleave
	// (see config.example.yaml)
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	a.pipeline.Run(ctx, a.queue, workers)

	if dir := cfg.Ingest.SeedDir; dir != "" {
		if _, err := seed.Replay(ctx, dir, a.pipeline); err != nil {
			logger.Log.Warn("seed_replay_failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	retCancel, err := retention.Start(ctx, cfg.Retention, a.store)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	defer retCancel()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.shutdown()
			return err
		}
		return nil
	}
}

// shutdown drains in dependency order: stop accepting requests, finish
// queued payloads, close subscribers, then the store.
func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer cancel()
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Log.Warn("http_shutdown_error", zap.Error(err))
		}
	}
	a.queue.CloseAndDrain()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Log.Warn("store_close_error", zap.Error(err))
	}
	logger.Log.Info("shutdown_complete")
	logger.Sync()
}
