// Package api is the HTTP client for the ChannelPulse backend. It attaches
// the stored access token to business requests and reports 401 responses to
// the session lifecycle through a callback; it never refreshes or retries on
// its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/channelpulse/channelpulse-go/session"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// TokenReader supplies the stored session for bearer injection.
// session.Repo satisfies it.
type TokenReader interface {
	Load(ctx context.Context) (*session.Session, error)
}

var _ session.AuthAPI = (*Client)(nil)

// Client talks to one ChannelPulse backend.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenReader
	onUnauthorized func()
	limiter        *rate.Limiter
	log            zerolog.Logger
	userAgent      string
	requestHook    func(method, path string, status int, elapsed time.Duration)
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCredentials attaches the session store the client reads bearer tokens
// from. Without it, business requests go out unauthenticated.
func WithCredentials(tokens TokenReader) Option {
	return func(c *Client) { c.tokens = tokens }
}

// WithRateLimit throttles outbound requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRequestHook registers an observer called after every request, used to
// feed metrics.
func WithRequestHook(hook func(method, path string, status int, elapsed time.Duration)) Option {
	return func(c *Client) { c.requestHook = hook }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("[api.New] invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// OnUnauthorized registers the callback fired when a business request comes
// back 401. Auth-flow endpoints never fire it: a 401 from login or refresh
// is a result, not a session loss. Set this before the client is shared
// between goroutines.
func (c *Client) OnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// request describes one backend call for do.
type request struct {
	method             string
	path               string
	payload            interface{}
	out                interface{}
	bearer             string
	notifyUnauthorized bool
}

func (c *Client) do(ctx context.Context, req request) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "[Client] rate limit wait")
		}
	}

	var body io.Reader
	if req.payload != nil {
		data, err := json.Marshal(req.payload)
		if err != nil {
			return errors.Wrap(err, "[Client] marshal request body")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return errors.Wrapf(err, "[Client] build %s %s", req.method, req.path)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.New().String())
	if req.payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "[Client] %s %s", req.method, req.path)
	}
	defer func() { _ = resp.Body.Close() }()

	elapsed := time.Since(started)
	c.log.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("api request")
	if c.requestHook != nil {
		c.requestHook(req.method, req.path, resp.StatusCode, elapsed)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "[Client] read response for %s %s", req.method, req.path)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if resp.StatusCode == http.StatusUnauthorized && req.notifyUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return decodeError(resp.StatusCode, data)
	}

	if req.out == nil {
		return nil
	}
	if err := json.Unmarshal(data, req.out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "decode %s %s: %v", req.method, req.path, err)
	}
	return nil
}

// storedAccessToken reads the current bearer token. Empty with a nil error
// means logged out; a store failure is an error, not an absent token, so the
// request never goes out unauthenticated and draws a spurious 401.
func (c *Client) storedAccessToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	sess, err := c.tokens.Load(ctx)
	if err != nil {
		return "", errors.Wrap(err, "[Client] read token store")
	}
	if sess == nil {
		return "", nil
	}
	return sess.AccessToken, nil
}
