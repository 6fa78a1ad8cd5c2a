package buildsystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/toolhive-pattern-catalog/internal/httpclient"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
)

const (
	defaultMaxTries       = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// HTTPOption configures an HTTP build system client
type HTTPOption func(*HTTPClient) error

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c httpclient.Client) HTTPOption {
	return func(h *HTTPClient) error {
		if c == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		h.http = c
		return nil
	}
}

// WithRetry sets how many times a request is tried and the backoff between tries
func WithRetry(maxTries uint, initial, maxInterval time.Duration) HTTPOption {
	return func(h *HTTPClient) error {
		if maxTries == 0 {
			return fmt.Errorf("max tries must be at least 1")
		}
		h.maxTries = maxTries
		if initial > 0 {
			h.initialBackoff = initial
		}
		if maxInterval > 0 {
			h.maxBackoff = maxInterval
		}
		return nil
	}
}

// WithCallbackURL sets the base URL the build system posts signals to; the
// pattern id is appended as /v1/patterns/{id}/pipeline-signal
func WithCallbackURL(u string) HTTPOption {
	return func(h *HTTPClient) error {
		if u != "" {
			if _, err := url.ParseRequestURI(u); err != nil {
				return fmt.Errorf("invalid callback URL: %w", err)
			}
		}
		h.callbackURL = strings.TrimSuffix(u, "/")
		return nil
	}
}

// HTTPClient talks to a build system exposing a JSON API under {endpoint}/v1
type HTTPClient struct {
	endpoint       string
	callbackURL    string
	http           httpclient.Client
	maxTries       uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the build system at endpoint
func NewHTTPClient(endpoint string, timeout time.Duration, opts ...HTTPOption) (*HTTPClient, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid build system endpoint: %w", err)
	}
	h := &HTTPClient{
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		http:           httpclient.NewDefaultClient(timeout),
		maxTries:       defaultMaxTries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type requestBody struct {
	Request
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type refResponse struct {
	Ref string `json:"ref"`
}

// ProvisionRepository posts to /v1/repositories
func (h *HTTPClient) ProvisionRepository(ctx context.Context, req Request) error {
	_, err := h.post(ctx, "/v1/repositories", req)
	return err
}

// ProvisionPipeline posts to /v1/pipelines
func (h *HTTPClient) ProvisionPipeline(ctx context.Context, req Request) (string, error) {
	return h.post(ctx, "/v1/pipelines", req)
}

// Build posts to /v1/builds
func (h *HTTPClient) Build(ctx context.Context, req Request) (string, error) {
	return h.post(ctx, "/v1/builds", req)
}

// Teardown posts to /v1/teardowns
func (h *HTTPClient) Teardown(ctx context.Context, req Request) (string, error) {
	return h.post(ctx, "/v1/teardowns", req)
}

// RunStatus fetches /v1/runs/{runId}. A 404 or an empty body means nothing reported yet.
func (h *HTTPClient) RunStatus(ctx context.Context, req Request) (*service.Signal, error) {
	target := fmt.Sprintf("%s/v1/runs/%s", h.endpoint, url.PathEscape(req.RunID.String()))
	data, err := h.do(ctx, http.MethodGet, target, nil)
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	signal := &service.Signal{}
	if err := json.Unmarshal(data, signal); err != nil {
		return nil, fmt.Errorf("%w: malformed run status: %v", service.ErrExternalFailure, err)
	}
	signal.PatternID = req.PatternID
	if signal.RunID == nil {
		runID := req.RunID
		signal.RunID = &runID
	}
	return signal, nil
}

func (h *HTTPClient) post(ctx context.Context, path string, req Request) (string, error) {
	body := requestBody{Request: req}
	if h.callbackURL != "" {
		body.CallbackURL = fmt.Sprintf("%s/v1/patterns/%s/pipeline-signal", h.callbackURL, req.PatternID)
	}

	data, err := h.do(ctx, http.MethodPost, h.endpoint+path, body)
	if err != nil {
		return "", err
	}
	var resp refResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.DebugContext(ctx, "Ignoring non-JSON build system response", "path", path, "error", err)
		}
	}
	return resp.Ref, nil
}

// do retries transport failures and retryable statuses with exponential backoff
func (h *HTTPClient) do(ctx context.Context, method, target string, body any) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialBackoff
	b.MaxInterval = h.maxBackoff

	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		data, err := h.http.Do(ctx, method, target, body, nil)
		if err != nil && !httpclient.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(h.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Build system request failed, retrying",
				"method", method,
				"url", target,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", service.ErrExternalFailure, err)
	}
	return data, nil
}
