// Package telegram is a minimal Bot API client covering what the
// ChannelPulse notification bot needs: identity, long polling and sending
// messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// Long polls hold the connection open for the requested timeout, so the
	// HTTP client needs headroom beyond it.
	defaultHTTPTimeout = 65 * time.Second
)

// Bot talks to the Telegram Bot API on behalf of one bot token.
type Bot struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option defines a function type to modify the Bot instance.
type Option func(*Bot)

// WithBaseURL points the client at a different API host (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(b *Bot) { b.baseURL = baseURL }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *Bot) { b.httpClient = hc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bot) { b.log = log }
}

// NewBot creates a client for the given bot token.
func NewBot(token string, options ...Option) (*Bot, error) {
	if token == "" {
		return nil, errors.New("[telegram.NewBot] bot token is required")
	}

	b := &Bot{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

func (b *Bot) call(ctx context.Context, method string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "[Bot] marshal %s payload", method)
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return errors.Wrapf(err, "[Bot] build %s request", method)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Bot] %s", method)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrapf(err, "[Bot] decode %s response", method)
	}
	if !envelope.OK {
		return errors.Errorf("[Bot] %s failed: %s (code %d)", method, envelope.Description, envelope.ErrorCode)
	}

	b.log.Trace().Str("method", method).Msg("telegram api call")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return errors.Wrapf(err, "[Bot] decode %s result", method)
	}
	return nil
}

// GetMe returns the bot's own profile. Used as a startup health check.
func (b *Bot) GetMe(ctx context.Context) (*BotProfile, error) {
	var profile BotProfile
	if err := b.call(ctx, "getMe", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Updates long-polls for updates after offset, holding the connection up to
// timeout.
func (b *Bot) Updates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := struct {
		Offset         int64    `json:"offset,omitempty"`
		Timeout        int      `json:"timeout,omitempty"`
		AllowedUpdates []string `json:"allowed_updates,omitempty"`
	}{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}

	var updates []Update
	if err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a plain-text message to a chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}{chatID, text}

	return b.call(ctx, "sendMessage", payload, nil)
}
