package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nativeorders/internal/server"
	"github.com/alanyoungcy/nativeorders/internal/server/handler"
	"github.com/alanyoungcy/nativeorders/internal/server/ws"
)

// ServerMode serves the HTTP API and websocket stream. It also runs badger
// value-log GC and periodic archive passes when those are configured.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Replay:         deps.Replay,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	signing := deps.Engine.Hasher().Domain()
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: &handler.StatusHandler{
			Mode:              a.cfg.Mode,
			DomainName:        signing.Name,
			DomainVersion:     signing.Version,
			ChainID:           signing.ChainID,
			VerifyingContract: signing.VerifyingContract,
			StateBackend:      a.cfg.Settlement.StateBackend,
			StartedAt:         time.Now(),
		},
		Orders:   handler.NewOrderHandler(deps.Engine, a.logger),
		Registry: handler.NewRegistryHandler(deps.Engine, a.logger),
	}
	if deps.EventLog != nil {
		var archive handler.ArchiveLoader
		if deps.Archiver != nil {
			archive = deps.Archiver
		}
		handlers.Events = handler.NewEventHandler(deps.EventLog, archive, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Badger != nil && a.cfg.Badger.GCInterval.Duration > 0 {
		g.Go(func() error {
			return ignoreCanceled(deps.Badger.RunGC(ctx, a.cfg.Badger.GCInterval.Duration))
		})
	}

	if deps.Notifier != nil {
		g.Go(func() error {
			return deps.Notifier.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return ignoreCanceled(g.Wait())
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not configured")
	}
	return a.archiveOnce(ctx, deps)
}

// archiveLoop runs an archive pass every archive.interval until ctx ends.
// Failed passes are logged and retried on the next tick.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.archiveOnce(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	before := time.Now().UTC().Add(-a.cfg.Archive.Retention.Duration)
	n, err := deps.Archiver.ArchiveEvents(ctx, before)
	if err != nil {
		return fmt.Errorf("archive events before %s: %w", before.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("events", n),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return nil
}

// ignoreCanceled treats context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
