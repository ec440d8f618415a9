package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Elpais.com/rss", "elpais.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if jobsProcessedTotal == nil || articlesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(articlesTotal.WithLabelValues("duplicate_hash"))
	ObserveArticle("duplicate_hash")
	if val := testutil.ToFloat64(articlesTotal.WithLabelValues("duplicate_hash")); val != before+1 {
		t.Errorf("Expected articlesTotal to grow by 1, got %f", val-before)
	}
}

func TestObserveJob(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsProcessedTotal.WithLabelValues("notify-alert", "completed"))
	ObserveJob("notify-alert", "completed", 20*time.Millisecond)
	if val := testutil.ToFloat64(jobsProcessedTotal.WithLabelValues("notify-alert", "completed")); val != before+1 {
		t.Errorf("Expected jobsProcessedTotal to grow by 1, got %f", val-before)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://news.google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
