// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/api"
	"github.com/JakeFAU/mediawatch/internal/archive"
	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/config"
	"github.com/JakeFAU/mediawatch/internal/dispatcher"
	"github.com/JakeFAU/mediawatch/internal/grounding"
	"github.com/JakeFAU/mediawatch/internal/media"
	gcppublisher "github.com/JakeFAU/mediawatch/internal/publisher/pubsub"
	"github.com/JakeFAU/mediawatch/internal/queue"
	"github.com/JakeFAU/mediawatch/internal/realtime"
	"github.com/JakeFAU/mediawatch/internal/scheduler"
	"github.com/JakeFAU/mediawatch/internal/watchdog"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  media.Clock

	pool            *pgxpool.Pool
	redis           *redis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	broker          queue.Broker
	queue           *queue.Client
	stores          Stores
	hub             *realtime.Hub

	runner    *collector.Runner
	social    *social.Collector
	executor  *grounding.Executor
	archiver  *archive.Archiver
	watchdog  *watchdog.Watchdog
	scheduler *scheduler.Scheduler
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	closeOnce sync.Once
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts workers, the scheduler, and the HTTP server, and blocks until
// the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.registerSchedules(); err != nil {
		return err
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()
	go a.scheduler.Run(ctx)
	go a.resyncSchedules(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// registerSchedules installs one recurring entry per queue with a cron pattern.
func (a *App) registerSchedules() error {
	for name, job := range a.cfg.Jobs {
		if job.Cron == "" {
			continue
		}
		if err := a.scheduler.ScheduleRecurring(name, name, job.Cron, struct{}{}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return nil
}

func (a *App) resyncSchedules(ctx context.Context) {
	if a.cfg.Queue.ResyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.Queue.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.registerSchedules(); err != nil {
				a.logger.Warn("schedule resync failed", zap.Error(err))
			}
		}
	}
}

// CollectSocial sweeps every social-enabled client, or only clientID when set.
func (a *App) CollectSocial(ctx context.Context, clientID string, opts social.Options) (social.Stats, error) {
	if clientID == "" {
		return a.social.CollectAll(ctx)
	}
	return a.social.CollectClient(ctx, clientID, opts)
}

// Ground runs a grounding search for one client in the calling goroutine.
func (a *App) Ground(ctx context.Context, clientID string, days int, trigger media.GroundingTrigger) (media.GroundingResult, error) {
	client, err := a.stores.Clients.Get(ctx, clientID)
	if err != nil {
		return media.GroundingResult{}, fmt.Errorf("load client %s: %w", clientID, err)
	}
	return a.executor.Execute(ctx, grounding.Request(client, trigger, days))
}

// Archive flags mentions older than the retention window as legacy.
func (a *App) Archive(ctx context.Context) (archive.Result, error) {
	return a.archiver.Run(ctx)
}

// CheckLiveness runs the mention watchdog once.
func (a *App) CheckLiveness(ctx context.Context) (watchdog.Status, error) {
	return a.watchdog.Check(ctx)
}

// ready reports whether the external dependencies answer.
func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}

// Close gracefully shuts down the application. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("realtime hub close failed", zap.Error(err))
		}
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("queue broker close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
