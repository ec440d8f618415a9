// Package ai backs the relevance prefilter and the mention analyzer with a
// local Ollama model.
package ai

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

//go:embed prompts/analysis.txt
var analysisPrompt string

//go:embed prompts/prefilter.txt
var prefilterPrompt string

var (
	analysisTmpl  = template.Must(template.New("analysis").Parse(analysisPrompt))
	prefilterTmpl = template.Must(template.New("prefilter").Parse(prefilterPrompt))
)

// Config points at the model server.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client wraps the Ollama generate endpoint.
type Client struct {
	api    *api.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client for cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai.model is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ai base url: %w", err)
	}
	return &Client{
		api:    api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		cfg:    cfg,
		logger: logger.Named("ai"),
	}, nil
}

// generate renders tmpl with data and returns the model's full response.
func (c *Client) generate(ctx context.Context, tmpl *template.Template, data any) (string, error) {
	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	req := &api.GenerateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt.String(),
		Stream: new(bool),
		Format: json.RawMessage(`"json"`),
		Options: map[string]interface{}{
			"temperature": c.cfg.Temperature,
		},
	}
	start := time.Now()
	var out strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama %s: %w", tmpl.Name(), err)
	}
	c.logger.Debug("generation finished",
		zap.String("prompt", tmpl.Name()),
		zap.Duration("took", time.Since(start)),
	)
	return out.String(), nil
}

// extractJSON trims any prose around the first JSON object in text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
