// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Logging    LoggingConfig        `mapstructure:"logging"`
	DB         DBConfig             `mapstructure:"db"`
	Redis      RedisConfig          `mapstructure:"redis"`
	PubSub     PubSubConfig         `mapstructure:"pubsub"`
	Queue      QueueConfig          `mapstructure:"queue"`
	Jobs       map[string]JobConfig `mapstructure:"jobs"`
	Articles   ArticlesConfig       `mapstructure:"articles"`
	Prefilter  PrefilterConfig      `mapstructure:"prefilter"`
	Collectors CollectorsConfig     `mapstructure:"collectors"`
	RSS        RSSConfig            `mapstructure:"rss"`
	Social     SocialConfig         `mapstructure:"social"`
	Grounding  GroundingConfig      `mapstructure:"grounding"`
	Watchdog   WatchdogConfig       `mapstructure:"watchdog"`
	Telegram   TelegramConfig       `mapstructure:"telegram"`
	AI         AIConfig             `mapstructure:"ai"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig points at the shared key-value store. An empty URL selects the
// in-process fallback.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// PubSubConfig holds metadata for the optional Pub/Sub realtime sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig selects the job broker.
type QueueConfig struct {
	// Backend is "postgres" or "memory".
	Backend           string        `mapstructure:"backend"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	// ResyncInterval re-registers recurring jobs from configuration.
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	// HubBuffer sizes the realtime event buffer.
	HubBuffer int `mapstructure:"hub_buffer"`
}

// JobConfig holds per-queue worker and retry settings.
type JobConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	LimitMax     int           `mapstructure:"limit_max"`
	LimitWindow  time.Duration `mapstructure:"limit_window"`
	Attempts     int           `mapstructure:"attempts"`
	BackoffType  string        `mapstructure:"backoff_type"`
	BackoffDelay time.Duration `mapstructure:"backoff_delay"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Cron         string        `mapstructure:"cron"`
}

// ArticlesConfig bounds article freshness. MaxAgeDays is also the retention
// window for legacy flags.
type ArticlesConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// MaxAge converts MaxAgeDays to a duration.
func (a ArticlesConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxAgeDays) * 24 * time.Hour
}

// PrefilterConfig tunes the relevance gate.
type PrefilterConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// CollectorsConfig groups the search API collectors.
type CollectorsConfig struct {
	UserAgent string         `mapstructure:"user_agent"`
	GDELT     GDELTConfig    `mapstructure:"gdelt"`
	NewsData  NewsDataConfig `mapstructure:"newsdata"`
	Google    GoogleConfig   `mapstructure:"google"`
}

// GDELTConfig configures the event aggregator collector.
type GDELTConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
	Timespan   string        `mapstructure:"timespan"`
	MaxRecords int           `mapstructure:"max_records"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// NewsDataConfig configures the NewsData.io collector.
type NewsDataConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// GoogleConfig configures the Custom Search collector.
type GoogleConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	CX          string        `mapstructure:"cx"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxKeywords int           `mapstructure:"max_keywords"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// FeedConfig is a fallback RSS feed.
type FeedConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// RSSConfig configures feed polling and source health.
type RSSConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRedirects        int           `mapstructure:"max_redirects"`
	Retries             int           `mapstructure:"retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	DeactivateThreshold int           `mapstructure:"deactivate_threshold"`
	Fallback            []FeedConfig  `mapstructure:"fallback"`
}

// SocialConfig configures the EnsembleData collector and comment extraction.
type SocialConfig struct {
	Token      string         `mapstructure:"token"`
	BaseURL    string         `mapstructure:"base_url"`
	MaxAgeDays int            `mapstructure:"max_age_days"`
	MaxPosts   int            `mapstructure:"max_posts"`
	CallDelay  time.Duration  `mapstructure:"call_delay"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Comments   CommentsConfig `mapstructure:"comments"`
}

// CommentsConfig is the social-comments feature flag and per-platform caps.
type CommentsConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	TikTokMax    int  `mapstructure:"tiktok_max"`
	InstagramMax int  `mapstructure:"instagram_max"`
}

// GroundingConfig configures broad searches.
type GroundingConfig struct {
	GoogleNewsURL     string        `mapstructure:"google_news_url"`
	BingNewsURL       string        `mapstructure:"bing_news_url"`
	ExtraKeywords     int           `mapstructure:"extra_keywords"`
	SearchPause       time.Duration `mapstructure:"search_pause"`
	DBSupplement      int           `mapstructure:"db_supplement"`
	PrefilterCutoff   float64       `mapstructure:"prefilter_cutoff"`
	WeeklyStagger     time.Duration `mapstructure:"weekly_stagger"`
	LowVolumeStagger  time.Duration `mapstructure:"low_volume_stagger"`
	LowVolumeCooldown time.Duration `mapstructure:"low_volume_cooldown"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// WatchdogConfig configures the mention liveness check.
type WatchdogConfig struct {
	ThresholdHours int    `mapstructure:"threshold_hours"`
	CooldownHours  int    `mapstructure:"cooldown_hours"`
	AdminChatID    string `mapstructure:"admin_chat_id"`
}

// TelegramConfig configures the alert channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AIConfig points at the Ollama server backing the prefilter and analyzer.
type AIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Jobs = mergeJobs(DefaultJobs(), cfg.Jobs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("redis.channel_prefix", "mediabot:")
	v.SetDefault("queue.backend", "postgres")
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.scheduler_interval", 5*time.Second)
	v.SetDefault("queue.resync_interval", 30*time.Minute)
	v.SetDefault("queue.hub_buffer", 256)
	v.SetDefault("articles.max_age_days", 2)
	v.SetDefault("prefilter.threshold", 0.6)
	v.SetDefault("collectors.user_agent", "mediawatch/1.0")
	v.SetDefault("collectors.gdelt.base_url", "https://api.gdeltproject.org/api/v2/doc/doc")
	v.SetDefault("collectors.gdelt.batch_size", 8)
	v.SetDefault("collectors.gdelt.batch_pause", 6*time.Second)
	v.SetDefault("collectors.gdelt.timespan", "15min")
	v.SetDefault("collectors.gdelt.max_records", 50)
	v.SetDefault("collectors.gdelt.timeout", 30*time.Second)
	v.SetDefault("collectors.newsdata.base_url", "https://newsdata.io/api/1/news")
	v.SetDefault("collectors.newsdata.batch_size", 5)
	v.SetDefault("collectors.newsdata.timeout", 20*time.Second)
	v.SetDefault("collectors.google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("collectors.google.max_keywords", 8)
	v.SetDefault("collectors.google.timeout", 20*time.Second)
	v.SetDefault("rss.timeout", 15*time.Second)
	v.SetDefault("rss.max_redirects", 3)
	v.SetDefault("rss.retries", 2)
	v.SetDefault("rss.retry_delay", 2*time.Second)
	v.SetDefault("rss.deactivate_threshold", 10)
	v.SetDefault("rss.fallback", defaultFeeds())
	v.SetDefault("social.base_url", "https://ensembledata.com/apis")
	v.SetDefault("social.max_age_days", 7)
	v.SetDefault("social.max_posts", 20)
	v.SetDefault("social.call_delay", 500*time.Millisecond)
	v.SetDefault("social.timeout", 30*time.Second)
	v.SetDefault("social.comments.enabled", false)
	v.SetDefault("social.comments.tiktok_max", 60)
	v.SetDefault("social.comments.instagram_max", 30)
	v.SetDefault("grounding.google_news_url", "https://news.google.com/rss/search")
	v.SetDefault("grounding.bing_news_url", "https://www.bing.com/news/search")
	v.SetDefault("grounding.extra_keywords", 3)
	v.SetDefault("grounding.search_pause", 500*time.Millisecond)
	v.SetDefault("grounding.db_supplement", 20)
	v.SetDefault("grounding.prefilter_cutoff", 0.5)
	v.SetDefault("grounding.weekly_stagger", time.Minute)
	v.SetDefault("grounding.low_volume_stagger", 30*time.Second)
	v.SetDefault("grounding.low_volume_cooldown", 12*time.Hour)
	v.SetDefault("grounding.timeout", 20*time.Second)
	v.SetDefault("watchdog.threshold_hours", 6)
	v.SetDefault("watchdog.cooldown_hours", 6)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 10*time.Second)
	v.SetDefault("ai.base_url", "http://localhost:11434")
	v.SetDefault("ai.model", "llama3.1")
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.timeout", 60*time.Second)
}

func defaultFeeds() []map[string]string {
	feeds := []FeedConfig{
		{Name: "EFE", URL: "https://efe.com/feed/"},
		{Name: "Europa Press", URL: "https://www.europapress.es/rss/rss.aspx"},
		{Name: "El Pais", URL: "https://feeds.elpais.com/mrss-s/pages/ep/site/elpais.com/portada"},
		{Name: "El Mundo", URL: "https://e00-elmundo.uecdn.es/elmundo/rss/portada.xml"},
		{Name: "La Vanguardia", URL: "https://www.lavanguardia.com/rss/home.xml"},
		{Name: "20 Minutos", URL: "https://www.20minutos.es/rss/"},
		{Name: "ABC", URL: "https://www.abc.es/rss/feeds/abc_ultima.xml"},
		{Name: "Infobae", URL: "https://www.infobae.com/feeds/rss/"},
		{Name: "CNN Espanol", URL: "https://cnnespanol.cnn.com/feed/"},
		{Name: "BBC Mundo", URL: "https://feeds.bbci.co.uk/mundo/rss.xml"},
	}
	out := make([]map[string]string, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, map[string]string{"name": f.Name, "url": f.URL})
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres queue backend")
		}
	default:
		return fmt.Errorf("queue.backend must be postgres or memory, got %q", c.Queue.Backend)
	}
	if c.Articles.MaxAgeDays <= 0 {
		return fmt.Errorf("articles.max_age_days must be > 0")
	}
	if c.Prefilter.Threshold < 0 || c.Prefilter.Threshold > 1 {
		return fmt.Errorf("prefilter.threshold must be within [0,1]")
	}
	if c.RSS.DeactivateThreshold <= 0 {
		return fmt.Errorf("rss.deactivate_threshold must be > 0")
	}
	if c.Watchdog.ThresholdHours <= 0 || c.Watchdog.CooldownHours <= 0 {
		return fmt.Errorf("watchdog.threshold_hours and watchdog.cooldown_hours must be > 0")
	}
	for name, job := range c.Jobs {
		if job.Concurrency <= 0 {
			return fmt.Errorf("jobs.%s.concurrency must be > 0", name)
		}
		if job.LimitMax > 0 && job.LimitWindow <= 0 {
			return fmt.Errorf("jobs.%s.limit_window must be > 0 when limit_max is set", name)
		}
	}
	return nil
}
