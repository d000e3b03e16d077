// Package broker is the campaign-side client of the router's registration API.
// A campaign backend uses it to announce its channels, keep the registration
// alive with heartbeats, and withdraw it on shutdown.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"discord-router/internal/registry"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRetryDelay        = 5 * time.Second
	DefaultMaxRetries        = 5
	DefaultRequestTimeout    = 10 * time.Second
)

// ErrGaveUp is returned by Run when registration keeps failing.
var ErrGaveUp = errors.New("max registration retries reached")

// RequestError is a non-2xx answer from the router.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

type Client struct {
	baseURL string
	app     registry.Registration
	http    *http.Client

	heartbeatInterval time.Duration
	retryDelay        time.Duration
	maxRetries        int
	requestTimeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) { c.maxRetries, c.retryDelay = attempts, delay }
}

func WithRequestTimeout(d time.Duration) Option { return func(c *Client) { c.requestTimeout = d } }

// New builds a client for the router at baseURL. When app.AppID is empty it is
// derived from the endpoint so restarts replace the previous registration.
func New(baseURL string, app registry.Registration, opts ...Option) *Client {
	if app.AppID == "" {
		app.AppID = DefaultAppID(app.Endpoint)
	}
	c := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		app:               app,
		http:              &http.Client{},
		heartbeatInterval: DefaultHeartbeatInterval,
		retryDelay:        DefaultRetryDelay,
		maxRetries:        DefaultMaxRetries,
		requestTimeout:    DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 1
	}
	if c.heartbeatInterval <= 0 {
		c.heartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// DefaultAppID is a stable UUIDv5 of the campaign's callback endpoint.
func DefaultAppID(endpoint string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(endpoint)).String()
}

func (c *Client) AppID() string { return c.app.AppID }

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) Register(ctx context.Context) error {
	return c.call(ctx, "/register", c.app)
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.call(ctx, "/heartbeat", map[string]string{
		"appId":     c.app.AppID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) Unregister(ctx context.Context) error {
	return c.call(ctx, "/unregister", map[string]string{"appId": c.app.AppID})
}

func (c *Client) call(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("no response from router: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if !env.Success {
		return fmt.Errorf("%s failed: %s", strings.TrimPrefix(path, "/"), env.Message)
	}
	return nil
}

// Run registers, heartbeats until ctx is cancelled, then unregisters. A failed
// heartbeat triggers a fresh registration.
func (c *Client) Run(ctx context.Context) error {
	l := log.With().Str("app_id", c.app.AppID).Str("router", c.baseURL).Logger()

	if err := c.registerWithRetry(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			uctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
			defer cancel()
			if err := c.Unregister(uctx); err != nil {
				l.Error().Err(err).Msg("failed to unregister from router")
				return nil
			}
			l.Info().Msg("unregistered from router")
			return nil

		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				l.Error().Err(err).Msg("router heartbeat failed; re-registering")
				if err := c.registerWithRetry(ctx); err != nil {
					return err
				}
				continue
			}
			l.Debug().Msg("router heartbeat sent")
		}
	}
}

func (c *Client) registerWithRetry(ctx context.Context) error {
	l := log.With().Str("app_id", c.app.AppID).Str("router", c.baseURL).Logger()

	for attempt := 1; ; attempt++ {
		err := c.Register(ctx)
		if err == nil {
			l.Info().Strs("channels", channelIDs(c.app)).Msg("registered with router")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Error().Err(err).Int("attempt", attempt).Int("max", c.maxRetries).Msg("failed to register with router")
		if attempt >= c.maxRetries {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func channelIDs(app registry.Registration) []string {
	out := make([]string, 0, len(app.Channels))
	for id := range app.Channels {
		out = append(out, id)
	}
	return out
}
