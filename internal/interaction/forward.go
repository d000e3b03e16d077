package interaction

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

	"github.com/go-chi/chi/v5/middleware"

	"discord-router/internal/registry"
)

const (
	DefaultTimeout = 2500 * time.Millisecond
	ForwardedFrom  = "discord-handler"
	interactPath   = "/discord/interactions"
	maxReplyBytes  = 1 << 20
)

// UpstreamError describes a failed forward to a campaign backend.
type UpstreamError struct {
	Campaign   string
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("campaign %s: request to %s timed out", e.Campaign, e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("campaign %s: %s returned status %d", e.Campaign, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("campaign %s: %s: %v", e.Campaign, e.URL, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Outcome is a short label suitable for metrics.
func (e *UpstreamError) Outcome() string {
	switch {
	case e.Timeout:
		return "timeout"
	case e.StatusCode != 0:
		return "status"
	default:
		return "error"
	}
}

// Forwarder delivers a raw interaction to a campaign backend.
type Forwarder interface {
	Forward(ctx context.Context, campaign registry.CampaignConfig, raw []byte) (Reply, error)
}

// HTTPForwarder makes a single bounded POST per interaction. It never retries:
// Discord expects an answer within three seconds.
type HTTPForwarder struct {
	client  *http.Client
	timeout time.Duration
}

func NewHTTPForwarder(client *http.Client, timeout time.Duration) *HTTPForwarder {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPForwarder{client: client, timeout: timeout}
}

func (f *HTTPForwarder) Timeout() time.Duration { return f.timeout }

// InteractionsURL is where a campaign backend receives forwarded interactions.
func InteractionsURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + interactPath
}

// Forward posts raw unchanged. The caller's cancellation is not propagated so a
// client hang-up does not abort a request that is already on its way.
func (f *HTTPForwarder) Forward(ctx context.Context, campaign registry.CampaignConfig, raw []byte) (Reply, error) {
	url := InteractionsURL(campaign.Endpoint)
	fail := func(status int, err error) error {
		return &UpstreamError{
			Campaign:   campaign.Name,
			URL:        url,
			StatusCode: status,
			Timeout:    errors.Is(err, context.DeadlineExceeded) || isTimeout(err),
			Err:        err,
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-From", ForwardedFrom)
	req.Header.Set("X-Campaign-Instance", campaign.Name)
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		return nil, fail(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fail(0, fmt.Errorf("read reply: %w", err))
	}
	if !json.Valid(body) {
		return nil, fail(0, errors.New("reply is not valid JSON"))
	}
	return Reply(bytes.TrimSpace(body)), nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
