package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediawatch/internal/config"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/queue"
	"github.com/JakeFAU/mediawatch/internal/watchdog"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Logging:  config.LoggingConfig{Development: true, Level: "error"},
		Queue:    config.QueueConfig{Backend: "memory", PollInterval: 10 * time.Millisecond},
		Jobs:     config.DefaultJobs(),
		Articles: config.ArticlesConfig{MaxAgeDays: 2},
		RSS:      config.RSSConfig{DeactivateThreshold: 10},
		Watchdog: config.WatchdogConfig{ThresholdHours: 6, CooldownHours: 6},
		AI:       config.AIConfig{BaseURL: "http://127.0.0.1:11434", Model: "llama3.1"},
	}
}

func TestBuild_InMemoryWiresEveryQueue(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.ElementsMatch(t, []string{
		queue.CollectRSS,
		queue.CollectGDELT,
		queue.CollectNewsData,
		queue.CollectGoogle,
		queue.CollectSocial,
		queue.ExtractSocialComments,
		queue.IngestArticle,
		queue.AnalyzeMention,
		queue.NotifyAlert,
		queue.GroundingCheck,
		queue.GroundingWeekly,
		queue.GroundingExecute,
		queue.DeactivateSources,
		queue.ArchiveOldMentions,
		queue.WatchdogMentions,
	}, app.dispatch.Queues())
	require.Equal(t, []string{"gdelt", "google", "newsdata", "rss"}, app.runner.Names())
	require.Nil(t, app.pool)
	require.Nil(t, app.redis)
}

func TestBuild_RegistersCronSchedules(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.NoError(t, app.registerSchedules())
	entries := app.scheduler.Entries()
	require.Len(t, entries, 10)
	for _, e := range entries {
		require.Equal(t, e.Name, e.Queue)
		require.Equal(t, app.cfg.Jobs[e.Name].Cron, e.Pattern)
	}

	require.NoError(t, app.registerSchedules())
	require.Len(t, app.scheduler.Entries(), 10)
}

func TestBuild_ServesHealthAndQueues(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/collectors/rss/run", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	counts, err := app.queue.Counts(context.Background(), queue.CollectRSS)
	require.NoError(t, err)
	require.Equal(t, 1, counts[queue.StateWaiting])
}

func TestApp_OneShotCommands(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })
	ctx := context.Background()

	res, err := app.Archive(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Mentions)

	status, err := app.CheckLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, watchdog.StatusSkipped, status)

	_, err = app.Ground(ctx, "missing", 7, media.TriggerManual)
	require.ErrorIs(t, err, media.ErrNotFound)
}

func TestQueueOptions(t *testing.T) {
	t.Parallel()

	got := queueOptions(config.JobConfig{Attempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second})
	require.Equal(t, queue.Options{
		Attempts: 3,
		Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 5 * time.Second},
	}, got)
}
