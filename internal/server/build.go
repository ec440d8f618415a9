package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/ai"
	"github.com/JakeFAU/mediawatch/internal/api"
	"github.com/JakeFAU/mediawatch/internal/archive"
	"github.com/JakeFAU/mediawatch/internal/classify"
	"github.com/JakeFAU/mediawatch/internal/clock/system"
	"github.com/JakeFAU/mediawatch/internal/collector"
	"github.com/JakeFAU/mediawatch/internal/collector/gdelt"
	"github.com/JakeFAU/mediawatch/internal/collector/google"
	"github.com/JakeFAU/mediawatch/internal/collector/newsdata"
	"github.com/JakeFAU/mediawatch/internal/collector/rss"
	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/config"
	"github.com/JakeFAU/mediawatch/internal/dispatcher"
	"github.com/JakeFAU/mediawatch/internal/grounding"
	"github.com/JakeFAU/mediawatch/internal/hash/sha256"
	"github.com/JakeFAU/mediawatch/internal/id/uuid"
	"github.com/JakeFAU/mediawatch/internal/ingest"
	"github.com/JakeFAU/mediawatch/internal/kv"
	"github.com/JakeFAU/mediawatch/internal/logging"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/mention"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/notify"
	"github.com/JakeFAU/mediawatch/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/mediawatch/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/mediawatch/internal/publisher/redis"
	"github.com/JakeFAU/mediawatch/internal/queue"
	queueMemory "github.com/JakeFAU/mediawatch/internal/queue/memory"
	queuePostgres "github.com/JakeFAU/mediawatch/internal/queue/postgres"
	"github.com/JakeFAU/mediawatch/internal/realtime"
	"github.com/JakeFAU/mediawatch/internal/scheduler"
	memoryStorage "github.com/JakeFAU/mediawatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/mediawatch/internal/storage/postgres"
	"github.com/JakeFAU/mediawatch/internal/watchdog"
	"github.com/JakeFAU/mediawatch/internal/worker"
)

// Stores groups the repositories shared by every component.
type Stores struct {
	Articles media.ArticleStore
	Clients  media.ClientStore
	Keywords media.KeywordStore
	Mentions media.MentionStore
	Sources  media.SourceStore
	Social   media.SocialStore
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	ids := uuid.New()
	if err := setupDatabase(ctx, app, ids); err != nil {
		return nil, err
	}
	setupQueue(app, ids)
	if err := setupRedis(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := setupRealtime(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := setupPipeline(app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.apiServer = api.NewServer(api.Deps{
		Clients:    app.stores.Clients,
		Enqueuer:   app.queue,
		Queues:     app.queue,
		Social:     app.social,
		QueueNames: app.dispatch.Queues(),
		Ready:      app.ready,
	}, api.Options{APIKey: cfg.Server.APIKey}, logger)

	return app, nil
}

func setupDatabase(ctx context.Context, app *App, ids media.IDGenerator) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory stores")
		db := memoryStorage.New(ids, app.clock)
		app.stores = Stores{
			Articles: db.Articles(),
			Clients:  db.Clients(),
			Keywords: db.Keywords(),
			Mentions: db.MentionStore(),
			Sources:  db.Sources(),
			Social:   db.Social(),
		}
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	app.stores = Stores{
		Articles: pgstore.NewArticleStore(pool, ids, app.clock),
		Clients:  pgstore.NewClientStore(pool),
		Keywords: pgstore.NewKeywordStore(pool),
		Mentions: pgstore.NewMentionStore(pool, ids, app.clock),
		Sources:  pgstore.NewSourceStore(pool),
		Social:   pgstore.NewSocialStore(pool, ids, app.clock),
	}
	app.logger.Info("postgres stores initialized", zap.Int32("max_conns", app.cfg.DB.MaxConns))
	return nil
}

func setupQueue(app *App, ids media.IDGenerator) {
	if app.cfg.Queue.Backend == "postgres" && app.pool != nil {
		app.broker = queuePostgres.NewBroker(app.pool, app.clock, ids, brokerLeases(app.cfg.Jobs)...)
		app.logger.Info("using postgres job broker")
	} else {
		app.broker = queueMemory.NewBroker(app.clock, ids)
		app.logger.Warn("using in-memory job broker, jobs do not survive restarts")
	}
	defaults := make(map[string]queue.Options, len(app.cfg.Jobs))
	for name, job := range app.cfg.Jobs {
		defaults[name] = queueOptions(job)
	}
	app.queue = queue.NewClient(app.broker, defaults, app.logger.Named("queue"))
}

// brokerLeases gives each queue a lease one minute longer than its handler
// timeout, so a live worker is never overtaken by a reclaim.
func brokerLeases(jobs map[string]config.JobConfig) []queuePostgres.Option {
	opts := make([]queuePostgres.Option, 0, len(jobs))
	for name, job := range jobs {
		if job.Timeout > 0 {
			opts = append(opts, queuePostgres.WithLease(name, job.Timeout+time.Minute))
		}
	}
	return opts
}

func queueOptions(job config.JobConfig) queue.Options {
	return queue.Options{
		Attempts: job.Attempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffType(job.BackoffType),
			Delay: job.BackoffDelay,
		},
	}
}

func setupRedis(ctx context.Context, app *App) error {
	if app.cfg.Redis.URL == "" {
		app.logger.Info("no redis url configured, realtime events stay in-process")
		return nil
	}
	opts, err := redis.ParseURL(app.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	app.redis = redis.NewClient(opts)
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	app.logger.Info("redis connected", zap.String("addr", opts.Addr))
	return nil
}

func setupRealtime(ctx context.Context, app *App) error {
	sinks := []realtime.Sink{realtime.NewLogSink(app.logger.Named("realtime_log"))}
	if app.redis != nil {
		sinks = append(sinks, realtime.NewPublisherSink(
			redispublisher.New(app.redis),
			app.cfg.Redis.ChannelPrefix,
			nil,
		))
		app.logger.Debug("added redis realtime sink", zap.String("prefix", app.cfg.Redis.ChannelPrefix))
	}
	if app.cfg.PubSub.ProjectID != "" && app.cfg.PubSub.TopicName != "" {
		publisher, client, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName, app.logger)
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		app.pubsubClient, app.pubsubPublisher = client, publisher
		sinks = append(sinks, realtime.NewPublisherSink(publisher, "", publisher.Stop))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	}
	app.hub = realtime.NewHub(realtime.Config{
		BufferSize: app.cfg.Queue.HubBuffer,
		Logger:     app.logger,
	}, sinks...)
	return nil
}

func setupKV(app *App) media.KV {
	if app.redis != nil {
		return kv.NewRedis(app.redis)
	}
	return kv.NewMemory(app.clock)
}

//nolint:funlen // Linear wiring of every pipeline stage.
func setupPipeline(app *App) error {
	cfg := app.cfg
	logger := app.logger
	clock := app.clock
	st := app.stores
	maxAge := cfg.Articles.MaxAge()

	model, err := ai.New(ai.Config{
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("ai client init failed: %w", err)
	}
	prefilter := ai.NewPrefilter(model)
	telegram := notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.Timeout)

	factory := mention.New(st.Mentions, prefilter, app.queue, app.hub, clock, mention.Config{
		Threshold: cfg.Prefilter.Threshold,
		MaxAge:    maxAge,
	}, logger)

	feeds := make([]rss.Feed, 0, len(cfg.RSS.Fallback))
	for _, f := range cfg.RSS.Fallback {
		feeds = append(feeds, rss.Feed{Name: f.Name, URL: f.URL})
	}
	rssCollector := rss.New(st.Sources, clock, rss.Config{
		Timeout:             cfg.RSS.Timeout,
		MaxRedirects:        cfg.RSS.MaxRedirects,
		Retries:             cfg.RSS.Retries,
		RetryDelay:          cfg.RSS.RetryDelay,
		DeactivateThreshold: cfg.RSS.DeactivateThreshold,
		UserAgent:           cfg.Collectors.UserAgent,
		Fallback:            feeds,
	}, logger)
	app.runner = collector.NewRunner(st.Keywords, app.queue, logger,
		rssCollector,
		gdelt.New(gdelt.Config{
			BaseURL:    cfg.Collectors.GDELT.BaseURL,
			BatchSize:  cfg.Collectors.GDELT.BatchSize,
			BatchPause: cfg.Collectors.GDELT.BatchPause,
			Timespan:   cfg.Collectors.GDELT.Timespan,
			MaxRecords: cfg.Collectors.GDELT.MaxRecords,
			Timeout:    cfg.Collectors.GDELT.Timeout,
			UserAgent:  cfg.Collectors.UserAgent,
		}, logger),
		newsdata.New(newsdata.Config{
			APIKey:     cfg.Collectors.NewsData.APIKey,
			BaseURL:    cfg.Collectors.NewsData.BaseURL,
			BatchSize:  cfg.Collectors.NewsData.BatchSize,
			MaxAgeDays: cfg.Articles.MaxAgeDays,
			Timeout:    cfg.Collectors.NewsData.Timeout,
			UserAgent:  cfg.Collectors.UserAgent,
		}, logger),
		google.New(google.Config{
			APIKey:      cfg.Collectors.Google.APIKey,
			CX:          cfg.Collectors.Google.CX,
			BaseURL:     cfg.Collectors.Google.BaseURL,
			MaxKeywords: cfg.Collectors.Google.MaxKeywords,
			MaxAgeDays:  cfg.Articles.MaxAgeDays,
			Timeout:     cfg.Collectors.Google.Timeout,
			UserAgent:   cfg.Collectors.UserAgent,
		}, logger),
	)

	ensemble := social.NewClient(cfg.Social.BaseURL, cfg.Social.Token, cfg.Social.Timeout, cfg.Collectors.UserAgent, clock)
	app.social = social.New(ensemble, st.Clients, st.Keywords, st.Social, app.hub, clock, social.Config{
		MaxPosts:   cfg.Social.MaxPosts,
		MaxAgeDays: cfg.Social.MaxAgeDays,
		CallDelay:  cfg.Social.CallDelay,
	}, logger)
	comments := social.NewCommentsExtractor(ensemble, st.Social, clock, social.CommentsConfig{
		Enabled:      cfg.Social.Comments.Enabled,
		TikTokMax:    cfg.Social.Comments.TikTokMax,
		InstagramMax: cfg.Social.Comments.InstagramMax,
	}, logger)

	searchClient := &http.Client{Timeout: cfg.Grounding.Timeout}
	app.executor = grounding.NewExecutor(grounding.Stores{
		Clients:  st.Clients,
		Keywords: st.Keywords,
		Articles: st.Articles,
		Mentions: st.Mentions,
	}, factory, prefilter, []grounding.Searcher{
		grounding.NewGoogleNews(cfg.Grounding.GoogleNewsURL, searchClient, cfg.Collectors.UserAgent),
		grounding.NewBingNews(cfg.Grounding.BingNewsURL, searchClient, cfg.Collectors.UserAgent),
	}, clock, grounding.Config{
		ExtraKeywords:   cfg.Grounding.ExtraKeywords,
		SearchPause:     cfg.Grounding.SearchPause,
		DBSupplement:    cfg.Grounding.DBSupplement,
		PrefilterCutoff: cfg.Grounding.PrefilterCutoff,
	}, logger)
	triggers := grounding.NewTriggers(st.Clients, st.Mentions, app.queue, clock, grounding.TriggerConfig{
		WeeklyStagger:     cfg.Grounding.WeeklyStagger,
		LowVolumeStagger:  cfg.Grounding.LowVolumeStagger,
		LowVolumeCooldown: cfg.Grounding.LowVolumeCooldown,
	}, logger)

	app.archiver = archive.New(st.Mentions, st.Social, clock, maxAge, logger)
	app.watchdog = watchdog.New(st.Mentions, setupKV(app), telegram, clock, watchdog.Config{
		Threshold:   time.Duration(cfg.Watchdog.ThresholdHours) * time.Hour,
		Cooldown:    time.Duration(cfg.Watchdog.CooldownHours) * time.Hour,
		AdminChatID: cfg.Watchdog.AdminChatID,
	}, logger)

	handlers := map[string]worker.Handler{
		queue.CollectRSS:            app.collectorHandler(rssCollector.Name()),
		queue.CollectGDELT:          app.collectorHandler("gdelt"),
		queue.CollectNewsData:       app.collectorHandler("newsdata"),
		queue.CollectGoogle:         app.collectorHandler("google"),
		queue.CollectSocial:         worker.HandlerFunc(app.handleSocialSweep),
		queue.ExtractSocialComments: comments,
		queue.IngestArticle:         ingest.New(st.Articles, st.Keywords, factory, sha256.New(), clock, maxAge, logger),
		queue.AnalyzeMention:        classify.NewHandler(st.Mentions, ai.NewAnalyzer(model), app.queue, app.hub, clock, logger),
		queue.NotifyAlert:           notify.NewAlerter(st.Mentions, telegram, clock, logger),
		queue.GroundingCheck:        worker.HandlerFunc(triggers.HandleCheck),
		queue.GroundingWeekly:       worker.HandlerFunc(triggers.HandleWeekly),
		queue.GroundingExecute:      app.executor,
		queue.DeactivateSources:     deactivateHandler(rssCollector, logger),
		queue.ArchiveOldMentions:    app.archiver,
		queue.WatchdogMentions:      app.watchdog,
	}
	app.dispatch = setupDispatcher(app, handlers)
	app.scheduler = scheduler.New(app.queue, clock, cfg.Queue.SchedulerInterval, logger)
	return nil
}

func setupDispatcher(app *App, handlers map[string]worker.Handler) *dispatcher.Dispatcher {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make(map[string]ratelimit.Rule, len(names))
	for _, name := range names {
		job := app.cfg.Jobs[name]
		rules[name] = ratelimit.Rule{Max: job.LimitMax, Window: job.LimitWindow}
	}
	limiter := ratelimit.New(rules)

	workers := make([]*worker.Worker, 0, len(names))
	for _, name := range names {
		job, ok := app.cfg.Jobs[name]
		if !ok {
			app.logger.Warn("no job config for queue, using defaults", zap.String("queue", name))
		}
		workers = append(workers, worker.New(app.broker, handlers[name], limiter, app.clock, worker.Config{
			Queue:        name,
			Concurrency:  job.Concurrency,
			PollInterval: app.cfg.Queue.PollInterval,
			Timeout:      job.Timeout,
		}, app.logger.Named("worker")))
		app.logger.Debug("worker registered",
			zap.String("queue", name),
			zap.Int("concurrency", job.Concurrency),
			zap.Int("limit_max", job.LimitMax),
			zap.Duration("limit_window", job.LimitWindow),
		)
	}
	return dispatcher.New(workers, app.logger.Named("dispatcher"))
}

func (a *App) collectorHandler(name string) worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, _ queue.Job) error {
		_, err := a.runner.Run(ctx, name)
		return err
	})
}

func (a *App) handleSocialSweep(ctx context.Context, _ queue.Job) error {
	_, err := a.social.CollectAll(ctx)
	return err
}

func deactivateHandler(c *rss.Collector, logger *zap.Logger) worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, _ queue.Job) error {
		n, err := c.DeactivateFailing(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("failing feeds deactivated", zap.Int64("count", n))
		}
		return nil
	})
}
