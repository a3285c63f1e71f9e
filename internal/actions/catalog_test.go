package actions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/config"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type call struct {
	path    string
	url     string
	payload any
	timeout time.Duration
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []call
	result dispatch.Result
}

func (f *fakeDispatcher) Dispatch(_ context.Context, path string, payload any, timeout time.Duration) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{path: path, payload: payload, timeout: timeout})
	return f.result
}

func (f *fakeDispatcher) DispatchURL(_ context.Context, target string, payload any, timeout time.Duration) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{url: target, payload: payload, timeout: timeout})
	return f.result
}

func newCatalog(t *testing.T, d Dispatcher, overrides map[string]config.ActionConfig) (*Catalog, activity.Log, *metrics.Recorder) {
	t.Helper()
	log := activity.NewMemory(10)
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	catalog, err := NewCatalog(Options{
		Dispatcher:     d,
		Activity:       log,
		Metrics:        rec,
		Timeout:        90 * time.Second,
		WebhookURL:     "https://hooks.example.com/recover",
		WebhookTimeout: 60 * time.Second,
		Overrides:      overrides,
	})
	require.NoError(t, err)
	return catalog, log, rec
}

func boolPtr(v bool) *bool { return &v }

func TestCatalogListsBuiltins(t *testing.T) {
	catalog, _, _ := newCatalog(t, &fakeDispatcher{}, nil)

	list := catalog.List()
	names := make([]string, 0, len(list))
	available := make(map[string]bool)
	for _, info := range list {
		names = append(names, info.Name)
		available[info.Name] = info.Available
	}
	require.Equal(t, []string{"block", "block_cancelled", "notify_block", "notify_overdue", "notify_termination", "recover_cancellation"}, names)
	require.True(t, available["block"])
	require.False(t, available["notify_overdue"])
	require.False(t, available["notify_termination"])
	require.True(t, available["recover_cancellation"])

	info, ok := catalog.Lookup("block_cancelled")
	require.True(t, ok)
	require.Equal(t, "/bloquear_cancelados", info.Target)
	require.Equal(t, float64(90), info.TimeoutSeconds)
	require.Equal(t, "status == 200", info.SuccessWhen)

	_, ok = catalog.Lookup("missing")
	require.False(t, ok)
}

func TestCatalogGroups(t *testing.T) {
	catalog, _, _ := newCatalog(t, &fakeDispatcher{}, nil)

	groups := catalog.Groups()
	require.Len(t, groups, 3)
	require.Equal(t, "block", groups[0].Name)
	require.Len(t, groups[0].Actions, 1)
	require.Equal(t, "notices", groups[2].Name)
	require.Len(t, groups[2].Actions, 4)
	require.Equal(t, "recover_cancellation", groups[2].Actions[3].Name)
}

func TestCatalogOverrides(t *testing.T) {
	catalog, _, _ := newCatalog(t, &fakeDispatcher{}, map[string]config.ActionConfig{
		"notify_overdue":       {Available: boolPtr(true), Path: "/avisar_inadimplencia", TimeoutSeconds: 30},
		"block":                {Available: boolPtr(false)},
		"recover_cancellation": {Path: "/recuperar"},
	})

	overdue, _ := catalog.Lookup("notify_overdue")
	require.True(t, overdue.Available)
	require.Equal(t, "/avisar_inadimplencia", overdue.Target)
	require.Equal(t, float64(30), overdue.TimeoutSeconds)

	block, _ := catalog.Lookup("block")
	require.False(t, block.Available)

	recovery, _ := catalog.Lookup("recover_cancellation")
	require.Equal(t, "/recuperar", recovery.Target)
}

func TestNewCatalogErrors(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantErr   string
		wantIsErr error
	}{
		{name: "dispatcher required", opts: Options{}, wantErr: "dispatcher required"},
		{
			name:      "unknown override",
			opts:      Options{Dispatcher: &fakeDispatcher{}, Overrides: map[string]config.ActionConfig{"reboot": {}}},
			wantIsErr: ErrUnknownAction,
		},
		{
			name:    "available without target",
			opts:    Options{Dispatcher: &fakeDispatcher{}, Overrides: map[string]config.ActionConfig{"notify_termination": {Available: boolPtr(true)}}},
			wantErr: "no path or url",
		},
		{
			name:    "bad success condition",
			opts:    Options{Dispatcher: &fakeDispatcher{}, Overrides: map[string]config.ActionConfig{"block": {SuccessWhen: "status +"}}},
			wantErr: "successWhen",
		},
		{
			name:    "non-bool success condition",
			opts:    Options{Dispatcher: &fakeDispatcher{}, Overrides: map[string]config.ActionConfig{"block": {SuccessWhen: "status"}}},
			wantErr: "must return bool",
		},
		{
			name:    "bad message template",
			opts:    Options{Dispatcher: &fakeDispatcher{}, Overrides: map[string]config.ActionConfig{"block": {SuccessMessage: "{{ .Count "}}},
			wantErr: "successMessage",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.opts)
			require.Error(t, err)
			if tc.wantIsErr != nil {
				require.ErrorIs(t, err, tc.wantIsErr)
			}
			if tc.wantErr != "" {
				require.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestWebhookUnavailableWithoutURL(t *testing.T) {
	catalog, err := NewCatalog(Options{Dispatcher: &fakeDispatcher{}})
	require.NoError(t, err)
	info, ok := catalog.Lookup("recover_cancellation")
	require.True(t, ok)
	require.False(t, info.Available)
}

func TestExecuteRejections(t *testing.T) {
	d := &fakeDispatcher{}
	catalog, log, _ := newCatalog(t, d, nil)
	ctx := context.Background()

	_, err := catalog.Execute(ctx, "reboot", "1")
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = catalog.Execute(ctx, "notify_overdue", "1, 2")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = catalog.Execute(ctx, "block", "  ,;\n ")
	require.ErrorIs(t, err, ErrNoIdentifiers)

	require.Empty(t, d.calls, "rejected actions never dispatch")
	entries, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExecuteSuccess(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 200, Data: map[string]any{"log": []any{"7618 bloqueada", "7620 bloqueada"}}}}
	catalog, log, _ := newCatalog(t, d, nil)

	outcome, err := catalog.Execute(context.Background(), "block", "7618, 7620;7618\n")
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, []string{"7618", "7620"}, outcome.IDs)
	require.Equal(t, 2, outcome.Count)
	require.Equal(t, "Bloqueio realizado com sucesso!", outcome.Message)
	require.Equal(t, []string{"7618 bloqueada", "7620 bloqueada"}, outcome.Log)
	require.Empty(t, outcome.Hint)

	require.Len(t, d.calls, 1)
	require.Equal(t, "/bloquear", d.calls[0].path)
	require.Equal(t, map[string]any{"instance_ids": []string{"7618", "7620"}}, d.calls[0].payload)
	require.Equal(t, 90*time.Second, d.calls[0].timeout)

	entries, err := log.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "block", entries[0].Action)
	require.Equal(t, 2, entries[0].Count)
	require.Equal(t, 200, entries[0].Status)
	require.True(t, entries[0].Success)
}

func TestExecuteFailureMessages(t *testing.T) {
	long := strings.Repeat("x", 800)
	tests := []struct {
		name     string
		action   string
		result   dispatch.Result
		wantMsg  string
		wantHint string
	}{
		{
			name:     "remote 404 carries hint",
			action:   "block",
			result:   dispatch.Result{StatusCode: 404, Data: map[string]any{"raw": "Not Found"}},
			wantMsg:  "Erro 404: Not Found",
			wantHint: RouteNotFoundHint,
		},
		{
			name:    "remote 500 json body",
			action:  "notify_block",
			result:  dispatch.Result{StatusCode: 500, Data: map[string]any{"detail": "boom"}},
			wantMsg: `Erro 500: {"detail":"boom"}`,
		},
		{
			name:    "body truncated to 500",
			action:  "block_cancelled",
			result:  dispatch.Result{StatusCode: 502, Data: map[string]any{"raw": long}},
			wantMsg: "Erro 502: " + long[:500],
		},
		{
			name:    "timeout",
			action:  "block",
			result:  dispatch.Result{StatusCode: dispatch.StatusTimeout, Data: map[string]any{"error": "timeout calling API: deadline"}, Synthetic: true},
			wantMsg: `Erro 408: {"error":"timeout calling API: deadline"}`,
		},
		{
			name:    "webhook remote failure",
			action:  "recover_cancellation",
			result:  dispatch.Result{StatusCode: 503, Data: map[string]any{"raw": "unavailable"}},
			wantMsg: "Erro no webhook: 503 – unavailable",
		},
		{
			name:    "webhook transport failure",
			action:  "recover_cancellation",
			result:  dispatch.Result{StatusCode: dispatch.StatusTransportFailure, Data: map[string]any{"error": "network error: refused"}, Synthetic: true},
			wantMsg: "Erro ao chamar webhook: network error: refused",
		},
		{
			name:    "webhook answering 520 is a remote failure",
			action:  "recover_cancellation",
			result:  dispatch.Result{StatusCode: dispatch.StatusTransportFailure, Data: map[string]any{"error": "origin down"}},
			wantMsg: `Erro no webhook: 520 – {"error":"origin down"}`,
		},
		{
			name:    "truncation keeps whole characters",
			action:  "block",
			result:  dispatch.Result{StatusCode: 502, Data: map[string]any{"raw": strings.Repeat("a", 499) + "ção"}},
			wantMsg: "Erro 502: " + strings.Repeat("a", 499) + "ç",
		},
		{
			name:    "webhook truncation keeps whole characters",
			action:  "recover_cancellation",
			result:  dispatch.Result{StatusCode: 502, Data: map[string]any{"raw": strings.Repeat("a", 199) + "ção"}},
			wantMsg: "Erro no webhook: 502 – " + strings.Repeat("a", 199) + "ç",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDispatcher{result: tc.result}
			catalog, log, _ := newCatalog(t, d, nil)

			outcome, err := catalog.Execute(context.Background(), tc.action, "42")
			require.NoError(t, err, "dispatch failures are outcomes, not errors")
			require.False(t, outcome.Success)
			require.Equal(t, tc.wantMsg, outcome.Message)
			require.Equal(t, tc.wantHint, outcome.Hint)
			require.Equal(t, tc.result, outcome.Result)
			require.Empty(t, outcome.Log)

			entries, err := log.Recent(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.False(t, entries[0].Success)
		})
	}
}

func TestExecuteWebhookTarget(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 200, Data: map[string]any{"raw": ""}}}
	catalog, _, _ := newCatalog(t, d, nil)

	outcome, err := catalog.ExecuteIDs(context.Background(), "recover_cancellation", []string{" 7618 ", "7618", "7844"})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, "Recuperação enviada com sucesso!", outcome.Message)

	require.Len(t, d.calls, 1)
	require.Equal(t, "https://hooks.example.com/recover", d.calls[0].url)
	require.Equal(t, 60*time.Second, d.calls[0].timeout)
	require.Equal(t, map[string]any{"instance_ids": []string{"7618", "7844"}}, d.calls[0].payload)
}

func TestExecuteCustomConditionAndMessages(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 202, Data: map[string]any{"queued": true}}}
	catalog, _, _ := newCatalog(t, d, map[string]config.ActionConfig{
		"block": {
			SuccessWhen:    "status in [200, 202] && lookup(data, 'queued') == true",
			SuccessMessage: "{{ .Count }} instância(s) na fila ({{ .Status }})",
		},
	})

	outcome, err := catalog.Execute(context.Background(), "block", "1 2 3")
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, "3 instância(s) na fila (202)", outcome.Message)
}

func TestExecuteConditionErrorCountsAsFailure(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 200, Data: []any{"not", "a", "map"}}}
	catalog, _, _ := newCatalog(t, d, map[string]config.ActionConfig{
		"block": {SuccessWhen: "lookup(data, 'ok') == true"},
	})

	outcome, err := catalog.Execute(context.Background(), "block", "1")
	require.NoError(t, err)
	require.False(t, outcome.Success)
}

type failingLog struct{ activity.Log }

func (failingLog) Append(context.Context, activity.Entry) error { return errors.New("backend down") }

func TestActivityFailureDoesNotAffectOutcome(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 200, Data: map[string]any{}}}
	catalog, err := NewCatalog(Options{Dispatcher: d, Activity: failingLog{}})
	require.NoError(t, err)

	outcome, err := catalog.Execute(context.Background(), "block", "1")
	require.NoError(t, err)
	require.True(t, outcome.Success)
}

func TestExecuteRecordsMetrics(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{StatusCode: 200, Data: map[string]any{}}}
	catalog, _, rec := newCatalog(t, d, nil)
	ctx := context.Background()

	_, err := catalog.Execute(ctx, "block", "1")
	require.NoError(t, err)
	_, err = catalog.Execute(ctx, "notify_overdue", "1")
	require.ErrorIs(t, err, ErrUnavailable)

	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	counts := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != "blockpanel_actions_executions_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			var action, result string
			for _, label := range m.GetLabel() {
				switch label.GetName() {
				case "action":
					action = label.GetValue()
				case "result":
					result = label.GetValue()
				}
			}
			counts[action+"/"+result] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(1), counts["block/"+string(metrics.ActionSucceeded)])
	require.Equal(t, float64(1), counts["notify_overdue/"+string(metrics.ActionRejected)])
}
