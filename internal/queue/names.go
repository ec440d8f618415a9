package queue

// Queue names.
const (
	CollectRSS            = "collect-rss"
	CollectGDELT          = "collect-gdelt"
	CollectNewsData       = "collect-newsdata"
	CollectGoogle         = "collect-google"
	CollectSocial         = "collect-social"
	IngestArticle         = "ingest-article"
	AnalyzeMention        = "analyze-mention"
	NotifyAlert           = "notify-alert"
	GroundingCheck        = "grounding-check"
	GroundingWeekly       = "grounding-weekly"
	GroundingExecute      = "grounding-execute"
	ExtractSocialComments = "extract-social-comments"
	DeactivateSources     = "rss-deactivate"
	ArchiveOldMentions    = "archive-old-mentions"
	WatchdogMentions      = "watchdog-mentions"
)
