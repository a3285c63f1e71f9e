// Package panel renders the operator dashboard and exposes one handler per
// operator event: run an action, preview parsing, list activity, diagnose.
package panel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/l0p7/blockpanel/internal/actions"
	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/templates"
)

// Diagnoser checks control-plane reachability.
type Diagnoser interface {
	BaseURL() string
	Diagnose(ctx context.Context, healthTimeout, probeTimeout time.Duration) dispatch.Diagnosis
}

// Options wires a Panel.
type Options struct {
	Title         string
	Catalog       *actions.Catalog
	Diagnoser     Diagnoser
	Activity      activity.Log
	ActivityLimit int
	Pages         *templates.Pages
	Logger        *slog.Logger
	HealthTimeout time.Duration
	ProbeTimeout  time.Duration
}

// Panel implements the HTTP surface of the dashboard.
type Panel struct {
	title         string
	catalog       *actions.Catalog
	diagnoser     Diagnoser
	activity      activity.Log
	activityLimit int
	pages         *templates.Pages
	logger        *slog.Logger
	healthTimeout time.Duration
	probeTimeout  time.Duration
}

// New validates the wiring and returns a ready panel.
func New(opts Options) (*Panel, error) {
	if opts.Catalog == nil {
		return nil, errors.New("panel: catalog required")
	}
	if opts.Diagnoser == nil {
		return nil, errors.New("panel: diagnoser required")
	}
	if opts.Pages == nil {
		return nil, errors.New("panel: pages required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limit := opts.ActivityLimit
	if limit <= 0 {
		limit = activity.DefaultLimit
	}
	title := opts.Title
	if title == "" {
		title = "Painel Letalk – Bloqueios e Avisos"
	}
	return &Panel{
		title:         title,
		catalog:       opts.Catalog,
		diagnoser:     opts.Diagnoser,
		activity:      opts.Activity,
		activityLimit: limit,
		pages:         opts.Pages,
		logger:        logger.With(slog.String("agent", "panel")),
		healthTimeout: opts.HealthTimeout,
		probeTimeout:  opts.ProbeTimeout,
	}, nil
}

type dashboardView struct {
	Title    string
	BaseURL  string
	Outcome  *outcomeView
	Groups   []groupView
	Activity []activity.Entry
}

type groupView struct {
	Name    string
	Title   string
	Raw     string
	Actions []actions.Info
}

type outcomeView struct {
	Title   string
	Count   int
	Success bool
	Message string
	Log     []string
	Hint    string
}

type diagnosticsView struct {
	BaseURL      string
	Health       dispatch.HealthResult
	Healthy      bool
	ProbePath    string
	Probe        dispatch.Result
	ProbeBody    string
	RouteMissing bool
}

func fromOutcome(o actions.Outcome) *outcomeView {
	return &outcomeView{
		Title:   o.Title,
		Count:   o.Count,
		Success: o.Success,
		Message: o.Message,
		Log:     o.Log,
		Hint:    o.Hint,
	}
}

// dashboard assembles the page. raw is echoed into the form of the group
// that owns action so the operator can correct and resubmit.
func (p *Panel) dashboard(ctx context.Context, outcome *outcomeView, action, raw string) dashboardView {
	view := dashboardView{
		Title:   p.title,
		BaseURL: p.diagnoser.BaseURL(),
		Outcome: outcome,
	}
	owner := ""
	if info, ok := p.catalog.Lookup(action); ok {
		owner = info.Group
	}
	for _, g := range p.catalog.Groups() {
		gv := groupView{Name: g.Name, Title: g.Title, Actions: g.Actions}
		if g.Name == owner {
			gv.Raw = raw
		}
		view.Groups = append(view.Groups, gv)
	}
	view.Activity = p.recent(ctx, p.activityLimit)
	return view
}

func (p *Panel) recent(ctx context.Context, limit int) []activity.Entry {
	if p.activity == nil {
		return nil
	}
	entries, err := p.activity.Recent(ctx, limit)
	if err != nil {
		p.logger.Warn("activity read failed", slog.Any("error", err))
		return nil
	}
	return entries
}
