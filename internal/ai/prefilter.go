package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/mediawatch/internal/media"
)

// Prefilter implements media.Prefilter.
type Prefilter struct {
	client *Client
}

// NewPrefilter wraps client.
func NewPrefilter(client *Client) *Prefilter {
	return &Prefilter{client: client}
}

// Check asks the model whether the match is really about the client. Both
// transport failures and unparseable output are errors; the caller decides
// whether to fail open or closed.
func (p *Prefilter) Check(ctx context.Context, in media.PrefilterInput) (media.PrefilterResult, error) {
	in.ArticleContent = truncate(in.ArticleContent, prefilterContentLimit)
	raw, err := p.client.generate(ctx, prefilterTmpl, in)
	if err != nil {
		return media.PrefilterResult{}, err
	}
	return ParsePrefilter(raw)
}

// ParsePrefilter decodes model output and clamps confidence to 0..1.
func ParsePrefilter(raw string) (media.PrefilterResult, error) {
	var parsed struct {
		Relevant   *bool   `json:"relevant"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return media.PrefilterResult{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if parsed.Relevant == nil {
		return media.PrefilterResult{}, fmt.Errorf("%w: missing relevant", ErrUnparseable)
	}
	return media.PrefilterResult{
		Relevant:   *parsed.Relevant,
		Confidence: max(0, min(1, parsed.Confidence)),
		Reason:     strings.TrimSpace(parsed.Reason),
	}, nil
}
