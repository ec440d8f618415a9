// Package notify delivers client alerts and operator messages through the
// Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// ErrNotConfigured is returned when no bot token is set.
var ErrNotConfigured = errors.New("telegram bot token not configured")

// Button is an inline keyboard button. Exactly one of URL or Data is set.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Data string `json:"callback_data,omitempty"`
}

// Message is a sendMessage call.
type Message struct {
	ChatID    string
	Text      string
	ParseMode string
	// Rows of inline buttons shown under the message.
	Keyboard [][]Button
}

// Telegram sends messages with a bot token.
type Telegram struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewTelegram builds a sender. An empty baseURL uses DefaultBaseURL.
func NewTelegram(baseURL, token string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Send implements media.AlertSender with a Markdown message.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	return t.SendMessage(ctx, Message{ChatID: chatID, Text: text, ParseMode: "Markdown"})
}

type sendRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts msg to the Bot API.
func (t *Telegram) SendMessage(ctx context.Context, msg Message) error {
	if t.token == "" {
		return ErrNotConfigured
	}
	if msg.ChatID == "" {
		return fmt.Errorf("telegram: empty chat id")
	}
	body := sendRequest{ChatID: msg.ChatID, Text: msg.Text, ParseMode: msg.ParseMode}
	if len(msg.Keyboard) > 0 {
		body.ReplyMarkup = &replyMarkup{InlineKeyboard: msg.Keyboard}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram sendMessage: %w", uerr.Err)
		}
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = resp.Status
		}
		return fmt.Errorf("telegram error: %s", desc)
	}
	return nil
}
