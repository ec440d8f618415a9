package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// Fallback analysis used when the model answers with something unparseable.
const (
	FallbackSummary = "Mencion detectada - analisis automatico no disponible"
	FallbackAction  = "Revisar manualmente"
)

// ErrUnparseable is returned when the model output is not the expected JSON.
var ErrUnparseable = errors.New("unparseable model output")

const (
	analysisContentLimit  = 1500
	prefilterContentLimit = 1000
)

// Analyzer implements media.Analyzer.
type Analyzer struct {
	client *Client
}

// NewAnalyzer wraps client.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze asks the model for summary, sentiment, relevance and a suggested
// action. Transport errors are returned so the job retries; malformed output
// degrades to a neutral fallback.
func (a *Analyzer) Analyze(ctx context.Context, in media.AnalysisInput) (media.Analysis, error) {
	in.ArticleContent = truncate(in.ArticleContent, analysisContentLimit)
	raw, err := a.client.generate(ctx, analysisTmpl, in)
	if err != nil {
		return media.Analysis{}, err
	}
	out, err := ParseAnalysis(raw)
	if err != nil {
		a.client.logger.Warn("analysis output unparseable, using fallback",
			zap.String("client", in.ClientName),
			zap.Error(err),
		)
		return Fallback(), nil
	}
	return out, nil
}

// Fallback is the analysis recorded when the model output cannot be used.
func Fallback() media.Analysis {
	return media.Analysis{
		Summary:         FallbackSummary,
		Sentiment:       media.SentimentNeutral,
		Relevance:       5,
		SuggestedAction: FallbackAction,
	}
}

// ParseAnalysis decodes model output, clamping relevance to 1..10 and mapping
// unknown sentiments to NEUTRAL.
func ParseAnalysis(raw string) (media.Analysis, error) {
	var parsed struct {
		Summary         string   `json:"summary"`
		Sentiment       string   `json:"sentiment"`
		Relevance       *float64 `json:"relevance"`
		SuggestedAction string   `json:"suggestedAction"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return media.Analysis{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if parsed.Relevance == nil {
		return media.Analysis{}, fmt.Errorf("%w: missing relevance", ErrUnparseable)
	}
	sentiment := media.Sentiment(strings.ToUpper(strings.TrimSpace(parsed.Sentiment)))
	if !sentiment.Valid() {
		sentiment = media.SentimentNeutral
	}
	relevance := int(math.Round(*parsed.Relevance))
	relevance = max(1, min(10, relevance))
	return media.Analysis{
		Summary:         strings.TrimSpace(parsed.Summary),
		Sentiment:       sentiment,
		Relevance:       relevance,
		SuggestedAction: strings.TrimSpace(parsed.SuggestedAction),
	}, nil
}
