package classify

import (
	"strings"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// HighReachSources are matched case-insensitively as substrings of an article source.
var HighReachSources = []string{
	"elpais.com",
	"elmundo.es",
	"lavanguardia.com",
	"abc.es",
	"20minutos.es",
	"europapress.es",
	"efe.com",
	"rtve.es",
	"infobae.com",
	"cnn",
	"bbc",
	"reuters",
	"elconfidencial.com",
}

// IsHighReach reports whether source contains any high-reach marker.
func IsHighReach(source string) bool {
	lower := strings.ToLower(source)
	for _, s := range HighReachSources {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Urgency derives the alert tier. A negative mention is never below HIGH.
func Urgency(relevance int, sentiment media.Sentiment, source string) media.Urgency {
	switch {
	case relevance >= 8 && sentiment == media.SentimentNegative && IsHighReach(source):
		return media.UrgencyCritical
	case relevance >= 7 || sentiment == media.SentimentNegative:
		return media.UrgencyHigh
	case relevance >= 4:
		return media.UrgencyMedium
	default:
		return media.UrgencyLow
	}
}

// NotifyPriority returns the notify-alert queue priority for u, or false when
// the urgency does not warrant an alert.
func NotifyPriority(u media.Urgency) (int, bool) {
	switch u {
	case media.UrgencyCritical:
		return 1, true
	case media.UrgencyHigh:
		return 2, true
	case media.UrgencyMedium, media.UrgencyLow:
		return 0, false
	}
	return 0, false
}
