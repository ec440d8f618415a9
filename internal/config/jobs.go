package config

import "time"

// Queue names as configured under jobs.<name>. They match internal/queue.
const (
	jobCollectRSS         = "collect-rss"
	jobCollectGDELT       = "collect-gdelt"
	jobCollectNewsData    = "collect-newsdata"
	jobCollectGoogle      = "collect-google"
	jobCollectSocial      = "collect-social"
	jobExtractComments    = "extract-social-comments"
	jobIngestArticle      = "ingest-article"
	jobAnalyzeMention     = "analyze-mention"
	jobNotifyAlert        = "notify-alert"
	jobGroundingCheck     = "grounding-check"
	jobGroundingWeekly    = "grounding-weekly"
	jobGroundingExecute   = "grounding-execute"
	jobDeactivateSources  = "rss-deactivate"
	jobArchiveOldMentions = "archive-old-mentions"
	jobWatchdogMentions   = "watchdog-mentions"
)

// DefaultJobs is the built-in queue catalogue.
func DefaultJobs() map[string]JobConfig {
	single := func(cron string) JobConfig {
		return JobConfig{Concurrency: 1, Attempts: 1, Cron: cron, Timeout: 10 * time.Minute}
	}
	social := single("0 */4 * * *")
	social.LimitMax, social.LimitWindow = 10, time.Minute
	return map[string]JobConfig{
		jobCollectRSS:      single("*/10 * * * *"),
		jobCollectGDELT:    single("*/15 * * * *"),
		jobCollectNewsData: single("*/30 * * * *"),
		jobCollectGoogle:   single("0 */2 * * *"),
		jobCollectSocial:   social,
		jobExtractComments: {
			Concurrency: 2, LimitMax: 10, LimitWindow: time.Minute,
			Attempts: 2, BackoffType: "exponential", BackoffDelay: 10 * time.Second, Timeout: 2 * time.Minute,
		},
		jobIngestArticle: {
			Concurrency: 5, Attempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second, Timeout: 2 * time.Minute,
		},
		jobAnalyzeMention: {
			Concurrency: 3, LimitMax: 20, LimitWindow: time.Minute,
			Attempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second, Timeout: 2 * time.Minute,
		},
		jobNotifyAlert: {
			Concurrency: 5, Attempts: 3, BackoffType: "exponential", BackoffDelay: 5 * time.Second, Timeout: 30 * time.Second,
		},
		jobGroundingCheck:  single("0 7 * * *"),
		jobGroundingWeekly: single("0 6 * * *"),
		jobGroundingExecute: {
			Concurrency: 2, LimitMax: 5, LimitWindow: time.Minute,
			Attempts: 2, BackoffType: "exponential", BackoffDelay: 10 * time.Second, Timeout: 10 * time.Minute,
		},
		jobDeactivateSources:  single("30 * * * *"),
		jobArchiveOldMentions: single("0 3 * * *"),
		jobWatchdogMentions:   single("0 * * * *"),
	}
}

// mergeJobs fills zero fields of configured queues from defaults.
func mergeJobs(defaults, configured map[string]JobConfig) map[string]JobConfig {
	out := make(map[string]JobConfig, len(defaults))
	for name, def := range defaults {
		out[name] = def
	}
	for name, job := range configured {
		def := out[name]
		if job.Concurrency == 0 {
			job.Concurrency = def.Concurrency
		}
		if job.LimitMax == 0 {
			job.LimitMax, job.LimitWindow = def.LimitMax, def.LimitWindow
		}
		if job.Attempts == 0 {
			job.Attempts = def.Attempts
		}
		if job.BackoffType == "" {
			job.BackoffType = def.BackoffType
		}
		if job.BackoffDelay == 0 {
			job.BackoffDelay = def.BackoffDelay
		}
		if job.Timeout == 0 {
			job.Timeout = def.Timeout
		}
		if job.Cron == "" {
			job.Cron = def.Cron
		}
		out[name] = job
	}
	return out
}
