package media

import "time"

// Channel names a realtime topic.
type Channel string

// Realtime channels consumed by the dashboard.
const (
	ChannelMentionNew      Channel = "mention:new"
	ChannelMentionAnalyzed Channel = "mention:analyzed"
	ChannelSocialNew       Channel = "social:new"
	ChannelCrisisNew       Channel = "crisis:new"
)

// Event is an ephemeral realtime message. It is never persisted.
type Event struct {
	Channel   Channel   `json:"-"`
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	OrgID     string    `json:"orgId,omitempty"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Urgency   Urgency   `json:"urgency,omitempty"`
	Platform  Platform  `json:"platform,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes realtime events. Notify never blocks and never fails;
// delivery is best effort.
type Notifier interface {
	Notify(Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Event) {}
