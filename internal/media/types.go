// Package media defines the domain types shared by the monitoring pipeline.
package media

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Sentiment is the AI-assigned tone of a mention.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentMixed    Sentiment = "MIXED"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
		return true
	}
	return false
}

// Urgency is the alerting tier derived from relevance, sentiment and source reach.
type Urgency string

// Urgency values, most urgent first.
const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

// NormalizedArticle is the shape every collector produces.
type NormalizedArticle struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Article is a persisted news item. URL is globally unique.
type Article struct {
	ID          string
	URL         string
	Title       string
	Source      string
	Content     string
	ContentHash string
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// Text returns the text keywords are matched against.
func (a Article) Text() string {
	if a.Content == "" {
		return a.Title
	}
	return a.Title + " " + a.Content
}

// Client is a tracked entity owned by an organization.
type Client struct {
	ID                       string
	OrgID                    string
	Name                     string
	Description              string
	Industry                 string
	Active                   bool
	TelegramGroupID          string
	WeeklyGroundingEnabled   bool
	WeeklyGroundingDay       int
	GroundingArticleCount    int
	MinDailyMentions         int
	ConsecutiveDaysThreshold int
	LastGroundingAt          *time.Time
	LastGroundingResult      *GroundingResult
	Social                   SocialConfig
}

// SocialConfig lists the handles and hashtags swept for a client.
type SocialConfig struct {
	Enabled   bool       `json:"enabled"`
	Platforms []Platform `json:"platforms"`
	Handles   []string   `json:"handles"`
	Hashtags  []string   `json:"hashtags"`
}

// Keyword is a word tracked for a client. Soft-deleted through Active.
type Keyword struct {
	ID       string
	Word     string
	Type     KeywordType
	ClientID string
	Active   bool
	Client   *Client
}

// Mention links an article to a client. At most one per (article, client).
type Mention struct {
	ID             string
	ArticleID      string
	ClientID       string
	KeywordMatched string
	Snippet        string
	IsLegacy       bool
	PublishedAt    *time.Time
	CreatedAt      time.Time
	Sentiment      Sentiment
	Relevance      int
	Urgency        Urgency
	AISummary      string
	AIAction       string
	ClientNotified bool
	NotifiedAt     *time.Time
}

// MentionDetail is a mention joined with its article and client.
type MentionDetail struct {
	Mention Mention
	Article Article
	Client  Client
}

// RssSource is a feed polled by the RSS collector.
type RssSource struct {
	ID         string
	Name       string
	URL        string
	Tier       int
	Type       string
	Active     bool
	ErrorCount int
	LastFetch  *time.Time
}

// Platform identifies a social network.
type Platform string

// Supported social platforms.
const (
	PlatformTwitter   Platform = "TWITTER"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformInstagram, PlatformTikTok:
		return true
	}
	return false
}

// SocialMention is a post collected from a social platform.
type SocialMention struct {
	ID                  string
	ClientID            string
	Platform            Platform
	PostID              string
	URL                 string
	Author              string
	AuthorName          string
	Content             string
	PostedAt            *time.Time
	Likes               int
	Comments            int
	Shares              int
	Views               int
	SourceType          SocialSourceType
	SourceValue         string
	IsLegacy            bool
	CreatedAt           time.Time
	CommentsExtractedAt *time.Time
}

// SocialSourceType records how a social post was found.
type SocialSourceType string

// Social source types.
const (
	SourceHandle  SocialSourceType = "HANDLE"
	SourceHashtag SocialSourceType = "HASHTAG"
	SourceKeyword SocialSourceType = "KEYWORD"
)

// SocialComment is a comment extracted from a social post.
type SocialComment struct {
	ID              string
	SocialMentionID string
	Author          string
	AuthorName      string
	Text            string
	Likes           int
	Replies         int
	PostedAt        *time.Time
}

// GroundingTrigger records why a grounding search ran.
type GroundingTrigger string

// Grounding triggers.
const (
	TriggerManual          GroundingTrigger = "manual"
	TriggerAutoLowMentions GroundingTrigger = "auto_low_mentions"
	TriggerWeekly          GroundingTrigger = "weekly"
	TriggerOnboarding      GroundingTrigger = "onboarding"
)

// GroundingRequest is the payload of a grounding-execute job.
type GroundingRequest struct {
	ClientID     string           `json:"clientId"`
	ClientName   string           `json:"clientName"`
	Industry     string           `json:"industry"`
	Days         int              `json:"days"`
	ArticleCount int              `json:"articleCount"`
	Trigger      GroundingTrigger `json:"trigger"`
}

// GroundingResult is the outcome of a grounding search.
type GroundingResult struct {
	Success         bool             `json:"success"`
	ArticlesFound   int              `json:"articlesFound"`
	MentionsCreated int              `json:"mentionsCreated"`
	Error           string           `json:"error,omitempty"`
	Trigger         GroundingTrigger `json:"trigger"`
	ExecutedAt      time.Time        `json:"executedAt"`
}
