// Package dispatch issues single synchronous requests to the control plane
// and folds every outcome into a status/data Result.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/l0p7/blockpanel/internal/metrics"
)

const (
	// DefaultTimeout bounds action dispatches when the caller passes zero.
	DefaultTimeout = 90 * time.Second
	// maxBodyBytes is the largest response body accepted; anything longer is
	// a transport failure.
	maxBodyBytes = 4 << 20
)

// HTTPDoer is the minimal client contract the dispatcher depends on.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	HTTPClient        HTTPDoer
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
	DefaultTimeout    time.Duration
	CorrelationHeader string
}

// Client posts payloads to a fixed control-plane base URL. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	baseURL           string
	client            HTTPDoer
	logger            *slog.Logger
	metrics           *metrics.Recorder
	timeout           time.Duration
	correlationHeader string
}

// New binds a dispatcher to baseURL. Trailing slashes are trimmed.
func New(baseURL string, opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	header := strings.TrimSpace(opts.CorrelationHeader)
	if header == "" {
		header = "X-Request-ID"
	}
	return &Client{
		baseURL:           strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:            client,
		logger:            logger.With(slog.String("agent", "dispatcher")),
		metrics:           opts.Metrics,
		timeout:           timeout,
		correlationHeader: header,
	}
}

// BaseURL reports the control-plane root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Dispatch POSTs payload as JSON to baseURL+path and returns the normalized
// result. It never returns an error: timeouts map to StatusTimeout and every
// other local failure to StatusTransportFailure.
func (c *Client) Dispatch(ctx context.Context, path string, payload any, timeout time.Duration) Result {
	return c.post(ctx, path, c.baseURL+path, payload, timeout)
}

// DispatchURL behaves like Dispatch against an absolute URL that does not
// live under the configured base URL, such as a workflow webhook.
func (c *Client) DispatchURL(ctx context.Context, target string, payload any, timeout time.Duration) Result {
	return c.post(ctx, "webhook", target, payload, timeout)
}

func (c *Client) post(ctx context.Context, label, target string, payload any, timeout time.Duration) (result Result) {
	start := time.Now()
	class := metrics.DispatchRemote
	defer func() {
		if rec := recover(); rec != nil {
			result = transportResult("unexpected error: %v", fmt.Errorf("%v", rec))
			class = metrics.DispatchTransport
		}
		c.metrics.ObserveDispatch(label, class, result.StatusCode, time.Since(start))
	}()

	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		class = metrics.DispatchTransport
		return transportResult("unexpected error encoding payload: %v", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		class = metrics.DispatchTransport
		return transportResult("network error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(c.correlationHeader, requestID)

	logger := c.logger.With(slog.String("target", label), slog.String("request_id", requestID))
	logger.Debug("dispatching request", slog.String("url", target), slog.Duration("timeout", timeout))

	resp, err := c.client.Do(req)
	if err != nil {
		return c.failure(logger, err, &class)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return c.failure(logger, err, &class)
	}
	if len(raw) > maxBodyBytes {
		class = metrics.DispatchTransport
		logger.Warn("response body too large", slog.Int("status", resp.StatusCode), slog.Int("limit", maxBodyBytes))
		return transportResult("unexpected error reading response: %v", fmt.Errorf("response exceeds %d bytes", maxBodyBytes))
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		decoded, err := decodeJSON(raw)
		if err != nil {
			class = metrics.DispatchTransport
			logger.Warn("malformed json response", slog.Int("status", resp.StatusCode), slog.Any("error", err))
			return transportResult("unexpected error decoding response: %v", err)
		}
		logger.Debug("dispatch completed", slog.Int("status", resp.StatusCode))
		return Result{StatusCode: resp.StatusCode, Data: decoded}
	}
	logger.Debug("dispatch completed with non-json body", slog.Int("status", resp.StatusCode))
	return Result{StatusCode: resp.StatusCode, Data: map[string]any{RawKey: string(raw)}}
}

func (c *Client) failure(logger *slog.Logger, err error, class *metrics.DispatchClass) Result {
	if isTimeout(err) {
		*class = metrics.DispatchTimeout
		logger.Warn("dispatch timed out", slog.Any("error", err))
		return timeoutResult(err)
	}
	*class = metrics.DispatchTransport
	logger.Warn("dispatch failed", slog.Any("error", err))
	return transportResult("network error: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/json") {
		return true
	}
	mediaType, _, _ := strings.Cut(ct, ";")
	return strings.HasSuffix(strings.TrimSpace(mediaType), "+json")
}

func decodeJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after json value")
	}
	return normalizeJSONNumbers(payload), nil
}

// normalizeJSONNumbers recursively converts json.Number values to int64 or float64
// for consistent CEL evaluation.
func normalizeJSONNumbers(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalizeJSONNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalizeJSONNumbers(val)
		}
		return out
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}
