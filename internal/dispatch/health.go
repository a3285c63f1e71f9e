package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/l0p7/blockpanel/internal/metrics"
)

const (
	// HealthPath is the control-plane liveness route.
	HealthPath = "/health"
	// ProbePath is the action route exercised by Diagnose with an empty list.
	ProbePath = "/bloquear"

	DefaultHealthTimeout = 10 * time.Second
	DefaultProbeTimeout  = 15 * time.Second

	healthPreviewBytes = 200
)

// HealthResult surfaces the raw liveness answer. Err is set instead of
// StatusCode when the request could not complete.
type HealthResult struct {
	StatusCode int           `json:"status,omitempty"`
	Body       string        `json:"body,omitempty"`
	Err        string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Healthy reports a 200 answer.
func (h HealthResult) Healthy() bool {
	return h.Err == "" && h.StatusCode == http.StatusOK
}

// Health issues GET baseURL+/health. The body is truncated for display and
// failures are reported through Err rather than returned.
func (c *Client) Health(ctx context.Context, timeout time.Duration) HealthResult {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+HealthPath, http.NoBody)
	if err != nil {
		c.metrics.ObserveDispatch(HealthPath, metrics.DispatchTransport, 0, time.Since(start))
		return HealthResult{Err: err.Error(), Latency: time.Since(start)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		class := metrics.DispatchTransport
		if isTimeout(err) {
			class = metrics.DispatchTimeout
		}
		c.metrics.ObserveDispatch(HealthPath, class, 0, time.Since(start))
		c.logger.Warn("health check failed", slog.Any("error", err))
		return HealthResult{Err: err.Error(), Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	preview, err := io.ReadAll(io.LimitReader(resp.Body, healthPreviewBytes))
	latency := time.Since(start)
	c.metrics.ObserveDispatch(HealthPath, metrics.DispatchRemote, resp.StatusCode, latency)
	if len(preview) == healthPreviewBytes {
		preview = trimPartialRune(preview)
	}
	result := HealthResult{StatusCode: resp.StatusCode, Body: string(preview), Latency: latency}
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

// trimPartialRune drops a UTF-8 sequence left incomplete by a byte cut.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b
		}
		return b[:i]
	}
	return b
}

// Diagnosis bundles the liveness check with an empty-list probe of the
// block route, mirroring what an operator checks before submitting work.
type Diagnosis struct {
	BaseURL      string       `json:"base_url"`
	Health       HealthResult `json:"health"`
	Probe        Result       `json:"probe"`
	RouteMissing bool         `json:"route_missing"`
}

// Diagnose runs Health then posts {"instance_ids": []} to ProbePath.
func (c *Client) Diagnose(ctx context.Context, healthTimeout, probeTimeout time.Duration) Diagnosis {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	health := c.Health(ctx, healthTimeout)
	probe := c.Dispatch(ctx, ProbePath, map[string]any{"instance_ids": []string{}}, probeTimeout)
	return Diagnosis{
		BaseURL:      c.baseURL,
		Health:       health,
		Probe:        probe,
		RouteMissing: probe.StatusCode == http.StatusNotFound,
	}
}
