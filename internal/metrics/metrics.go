package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DispatchClass buckets a dispatch outcome for labelling.
type DispatchClass string

const (
	// DispatchRemote indicates the remote peer answered with a status code.
	DispatchRemote DispatchClass = "remote"
	// DispatchTimeout indicates the call exceeded its timeout.
	DispatchTimeout DispatchClass = "timeout"
	// DispatchTransport indicates a transport or decoding failure.
	DispatchTransport DispatchClass = "transport"
)

// ActionResult captures how an operator action ended.
type ActionResult string

const (
	// ActionSucceeded indicates the success condition held.
	ActionSucceeded ActionResult = "success"
	// ActionFailed indicates the dispatch ran but the success condition did not hold.
	ActionFailed ActionResult = "failure"
	// ActionRejected indicates the action never dispatched (unknown, unavailable, no identifiers).
	ActionRejected ActionResult = "rejected"
)

// Recorder publishes Prometheus metrics for dispatcher and panel activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	dispatchRequests *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec

	actions *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	dispatchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockpanel",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Total outbound control-plane requests issued by the dispatcher.",
	}, []string{"target", "class", "status_code"})

	dispatchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockpanel",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for outbound control-plane requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
	}, []string{"target", "class"})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockpanel",
		Subsystem: "actions",
		Name:      "executions_total",
		Help:      "Operator actions handled by the panel.",
	}, []string{"action", "result"})

	reg.MustRegister(dispatchRequests, dispatchLatency, actions)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		dispatchRequests: dispatchRequests,
		dispatchLatency:  dispatchLatency,
		actions:          actions,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveDispatch records one outbound request and its latency.
func (r *Recorder) ObserveDispatch(target string, class DispatchClass, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	targetLabel := normalizeLabel(target)
	classLabel := normalizeLabel(string(class))
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.dispatchRequests.WithLabelValues(targetLabel, classLabel, statusLabel).Inc()
	r.dispatchLatency.WithLabelValues(targetLabel, classLabel).Observe(duration.Seconds())
}

// ObserveAction records the result of an operator action.
func (r *Recorder) ObserveAction(action string, result ActionResult) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(ActionRejected)
	}
	r.actions.WithLabelValues(normalizeLabel(action), resultLabel).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
