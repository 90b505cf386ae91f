// Package ingress implements the Notifier actuator: delivering a completed
// invocation's response back to the ingress layer that originally admitted
// it. The partition processor itself has no reply path (spec §1 places
// ingress out of scope); this is the worker-side half of that handoff,
// called from leadership's ActionIngressResponse dispatch.
//
// Adapted from the teacher's webhook adapter (adapter/webhook/webhook.go):
// same HTTP POST + exponential backoff + 4xx-is-terminal retry shape,
// retargeted from a run-completion event payload to an invocation
// response payload.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/iox"
)

// DefaultTimeout is the default per-request HTTP timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts after the first.
const DefaultRetries = 3

// Config configures the HTTP ingress notifier.
type Config struct {
	// URL is the ingress endpoint invocation responses are POSTed to.
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int
}

// Notifier delivers invocation responses to the ingress layer over HTTP.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New constructs a Notifier. Returns an error if URL is empty.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("ingress: URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("ingress: retries must be >= 0, got %d", cfg.Retries)
	}
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// responsePayload is the JSON body POSTed for one invocation response.
type responsePayload struct {
	InvocationID string `json:"invocation_id"`
	Response     []byte `json:"response,omitempty"`
	Failure      bool   `json:"failure"`
}

// Notify delivers resp to the configured ingress endpoint, retrying 5xx
// responses and network errors with exponential backoff. A 4xx response
// is treated as non-retriable: the ingress layer rejected the payload
// outright and retrying it unchanged would fail again.
func (n *Notifier) Notify(ctx context.Context, resp *envelope.InvocationResponse) error {
	body, err := json.Marshal(responsePayload{
		InvocationID: string(resp.InvocationID),
		Response:     resp.Response,
		Failure:      resp.Failure,
	})
	if err != nil {
		return fmt.Errorf("ingress: marshal response: %w", err)
	}

	var lastErr error
	attempts := 1 + n.cfg.Retries
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingress: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("ingress: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = n.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("ingress: non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("ingress: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError wraps a non-2xx HTTP response so callers can tell retriable
// (5xx) failures from terminal (4xx) ones.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingress: unexpected status %d", e.Code)
}

func (n *Notifier) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ingress: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingress: request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections held by the notifier's HTTP client.
func (n *Notifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}
