package media

import (
	"context"
	"time"
)

// ArticleStore persists articles.
type ArticleStore interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	ExistsByContentHash(ctx context.Context, hash string) (bool, error)
	GetByURL(ctx context.Context, url string) (Article, error)
	// Create returns ErrDuplicate when the URL is already stored.
	Create(ctx context.Context, article Article) (Article, error)
	// SearchRecent lists articles published since the given time whose title or
	// content contains term, excluding the given IDs.
	SearchRecent(ctx context.Context, term string, since time.Time, exclude []string, limit int) ([]Article, error)
}

// KeywordStore reads keywords.
type KeywordStore interface {
	// ListActive returns active keywords with Client populated.
	ListActive(ctx context.Context) ([]Keyword, error)
	ListActiveForClient(ctx context.Context, clientID string) ([]Keyword, error)
}

// ClientStore reads clients and records grounding outcomes.
type ClientStore interface {
	Get(ctx context.Context, id string) (Client, error)
	ListActive(ctx context.Context) ([]Client, error)
	UpdateGrounding(ctx context.Context, id string, at time.Time, result GroundingResult) error
}

// MentionStore persists mentions.
type MentionStore interface {
	// Create returns ErrDuplicate if a mention for (ArticleID, ClientID) exists.
	Create(ctx context.Context, mention Mention) (Mention, error)
	Exists(ctx context.Context, articleID, clientID string) (bool, error)
	GetDetail(ctx context.Context, id string) (MentionDetail, error)
	UpdateAnalysis(ctx context.Context, id string, a Analysis, urgency Urgency) error
	MarkNotified(ctx context.Context, id string, at time.Time) error
	LatestCreatedAt(ctx context.Context) (*time.Time, error)
	// DailyCounts returns mention counts per UTC day for the last days days,
	// oldest first, with zero-filled gaps.
	DailyCounts(ctx context.Context, clientID string, days int, now time.Time) ([]int, error)
	// ArchiveBefore flags mentions whose effective date predates cutoff.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SourceStore tracks RSS sources and their health.
type SourceStore interface {
	ListActive(ctx context.Context) ([]RssSource, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string) error
	// UpdateURL repoints a source after its feed permanently moved.
	UpdateURL(ctx context.Context, id, url string) error
	DeactivateFailing(ctx context.Context, threshold int) (int64, error)
}

// SocialStore persists social mentions and their comments.
type SocialStore interface {
	// Create returns ErrDuplicate when (Platform, PostID) is already stored.
	Create(ctx context.Context, m SocialMention) (SocialMention, error)
	// UpdateEngagement refreshes counters of an already stored post.
	UpdateEngagement(ctx context.Context, platform Platform, postID string, likes, comments, shares, views int) error
	Get(ctx context.Context, id string) (SocialMention, error)
	SaveComments(ctx context.Context, mentionID string, comments []SocialComment, at time.Time) error
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Analysis is the AI output for a mention.
type Analysis struct {
	Summary         string    `json:"summary"`
	Sentiment       Sentiment `json:"sentiment"`
	Relevance       int       `json:"relevance"`
	SuggestedAction string    `json:"suggestedAction"`
}

// PrefilterInput describes a candidate match.
type PrefilterInput struct {
	ArticleTitle      string
	ArticleContent    string
	ClientName        string
	ClientDescription string
	Keyword           string
}

// PrefilterResult is the relevance verdict for a candidate match.
type PrefilterResult struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AnalysisInput is what the analyzer sees for a mention.
type AnalysisInput struct {
	ArticleTitle      string
	ArticleContent    string
	Source            string
	ClientName        string
	ClientDescription string
	ClientIndustry    string
	Keyword           string
}

// Prefilter decides whether a keyword match is a genuine mention.
type Prefilter interface {
	Check(ctx context.Context, in PrefilterInput) (PrefilterResult, error)
}

// Analyzer produces sentiment, relevance and summary for a mention.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (Analysis, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Enqueuer adds jobs to a named queue.
type Enqueuer interface {
	Add(ctx context.Context, queue string, payload any, opts JobOptions) error
}

// JobOptions are the per-job knobs producers may set. Zero values fall back to
// the queue defaults.
type JobOptions struct {
	Delay          time.Duration
	Attempts       int
	BackoffDelay   time.Duration
	Priority       int
	IdempotencyKey string
}

// KV is the shared key-value store used for cooldown flags.
type KV interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AlertSender delivers a message to a chat.
type AlertSender interface {
	Send(ctx context.Context, chatID, text string) error
}
