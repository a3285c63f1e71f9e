// Package actions holds the operator actions the panel exposes and runs them
// against the control plane one dispatch at a time.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/config"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/expr"
	"github.com/l0p7/blockpanel/internal/metrics"
	"github.com/l0p7/blockpanel/internal/templates"
)

var (
	// ErrUnknownAction reports a name the catalog does not define.
	ErrUnknownAction = errors.New("actions: unknown action")
	// ErrUnavailable reports an action whose backend route is switched off.
	ErrUnavailable = errors.New("actions: action unavailable")
	// ErrNoIdentifiers reports a submission that parsed to an empty list.
	ErrNoIdentifiers = errors.New("actions: no identifiers")
)

// RouteNotFoundHint is attached to outcomes whose dispatch answered 404.
const RouteNotFoundHint = "route not found, check the API base URL"

const (
	defaultFailureMessage = `Erro {{ .Status }}: {{ trunc 500 .Body }}`
	webhookFailureMessage = `{{ if .Error }}Erro ao chamar webhook: {{ .Error }}{{ else }}Erro no webhook: {{ .Status }} – {{ trunc 200 .Body }}{{ end }}`
)

// Dispatcher is the slice of dispatch.Client the catalog needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, path string, payload any, timeout time.Duration) dispatch.Result
	DispatchURL(ctx context.Context, target string, payload any, timeout time.Duration) dispatch.Result
}

type definition struct {
	name        string
	group       string
	title       string
	description string
	path        string
	webhook     bool
	available   bool
	success     string
	failure     string
}

// Group clusters actions that share one identifier form.
type Group struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Actions []Info `json:"actions"`
}

var groupTitles = []struct{ name, title string }{
	{"block", "🔒 Bloquear instâncias por ID"},
	{"cancelled", "🚫 Bloqueio de Cancelados (sem notificação)"},
	{"notices", "📢 Enviar Avisos para Instâncias"},
}

var builtins = []definition{
	{
		name:        "block",
		group:       "block",
		title:       "🚀 Bloquear Instâncias",
		description: "Bloqueia as instâncias e notifica os clientes.",
		path:        "/bloquear",
		available:   true,
		success:     "Bloqueio realizado com sucesso!",
	},
	{
		name:        "block_cancelled",
		group:       "cancelled",
		title:       "🔒 Bloquear Cancelados",
		description: "Bloqueia instâncias canceladas sem notificação.",
		path:        "/bloquear_cancelados",
		available:   true,
		success:     "Cancelados bloqueados com sucesso!",
	},
	{
		name:        "notify_block",
		group:       "notices",
		title:       "📩 Aviso de Bloqueio",
		description: "Envia o aviso de bloqueio às instâncias.",
		path:        "/avisar_bloqueio",
		available:   true,
		success:     "Aviso de bloqueio enviado.",
	},
	{
		name:        "notify_overdue",
		group:       "notices",
		title:       "📆 Aviso de Inadimplência (10 dias)",
		description: "Aviso de inadimplência; a rota ainda não existe no back.",
		success:     "Aviso de inadimplência enviado.",
	},
	{
		name:        "notify_termination",
		group:       "notices",
		title:       "⛔ Aviso de Encerramento",
		description: "Aviso de encerramento; a rota ainda não existe no back.",
		success:     "Aviso de encerramento enviado.",
	},
	{
		name:        "recover_cancellation",
		group:       "notices",
		title:       "🔄 Recuperar Cancelamento",
		description: "Encaminha as instâncias ao fluxo de recuperação de cancelamento.",
		webhook:     true,
		available:   true,
		success:     "Recuperação enviada com sucesso!",
		failure:     webhookFailureMessage,
	},
}

// Action is one resolved catalog entry.
type Action struct {
	Name        string
	Group       string
	Title       string
	Description string
	Path        string
	URL         string
	Timeout     time.Duration
	Available   bool

	successWhen    expr.Program
	successMessage *templates.Template
	failureMessage *templates.Template
}

// Target returns the webhook URL or the control-plane path the action posts to.
func (a *Action) Target() string {
	if a.URL != "" {
		return a.URL
	}
	return a.Path
}

// Info is the JSON-facing description of an action.
type Info struct {
	Name           string  `json:"name"`
	Group          string  `json:"group"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Target         string  `json:"target,omitempty"`
	Available      bool    `json:"available"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
	SuccessWhen    string  `json:"successWhen"`
}

func (a *Action) info() Info {
	return Info{
		Name:           a.Name,
		Group:          a.Group,
		Title:          a.Title,
		Description:    a.Description,
		Target:         a.Target(),
		Available:      a.Available,
		TimeoutSeconds: a.Timeout.Seconds(),
		SuccessWhen:    a.successWhen.Source(),
	}
}

// Options wires a Catalog.
type Options struct {
	Dispatcher     Dispatcher
	Activity       activity.Log
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	Renderer       *templates.Renderer
	Environment    *expr.Environment
	Timeout        time.Duration
	WebhookURL     string
	WebhookTimeout time.Duration
	Overrides      map[string]config.ActionConfig
}

// Catalog resolves built-in actions against configuration and executes them.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	dispatcher Dispatcher
	activity   activity.Log
	metrics    *metrics.Recorder
	logger     *slog.Logger
	actions    map[string]*Action
	order      []string
}

// NewCatalog compiles every built-in action with its configured overrides.
func NewCatalog(opts Options) (*Catalog, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("actions: dispatcher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = templates.NewRenderer()
	}
	env := opts.Environment
	if env == nil {
		var err error
		if env, err = expr.NewEnvironment(); err != nil {
			return nil, err
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = dispatch.DefaultTimeout
	}
	webhookTimeout := opts.WebhookTimeout
	if webhookTimeout <= 0 {
		webhookTimeout = 60 * time.Second
	}

	known := make(map[string]struct{}, len(builtins))
	for _, def := range builtins {
		known[def.name] = struct{}{}
	}
	unknown := make([]string, 0)
	for name := range opts.Overrides {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w in config: %s", ErrUnknownAction, strings.Join(unknown, ", "))
	}

	c := &Catalog{
		dispatcher: opts.Dispatcher,
		activity:   opts.Activity,
		metrics:    opts.Metrics,
		logger:     logger.With(slog.String("agent", "actions")),
		actions:    make(map[string]*Action, len(builtins)),
		order:      make([]string, 0, len(builtins)),
	}
	for _, def := range builtins {
		action, err := resolve(def, opts.Overrides[def.name], renderer, env, timeout, webhookTimeout, opts.WebhookURL)
		if err != nil {
			return nil, err
		}
		c.actions[def.name] = action
		c.order = append(c.order, def.name)
	}
	return c, nil
}

func resolve(def definition, override config.ActionConfig, renderer *templates.Renderer, env *expr.Environment, timeout, webhookTimeout time.Duration, webhookURL string) (*Action, error) {
	action := &Action{
		Name:        def.name,
		Group:       def.group,
		Title:       def.title,
		Description: def.description,
		Path:        def.path,
		Timeout:     timeout,
		Available:   def.available,
	}
	if def.webhook {
		action.URL = strings.TrimSpace(webhookURL)
		action.Timeout = webhookTimeout
		if action.URL == "" {
			action.Available = false
		}
	}
	if override.Path != "" {
		action.Path = override.Path
		action.URL = ""
	}
	if override.URL != "" {
		action.URL = override.URL
	}
	if override.TimeoutSeconds > 0 {
		action.Timeout = time.Duration(override.TimeoutSeconds) * time.Second
	}
	if override.Available != nil {
		action.Available = *override.Available
	}
	if action.Available && action.Target() == "" {
		return nil, fmt.Errorf("actions: %s is available but has no path or url", def.name)
	}

	condition := override.SuccessWhen
	if strings.TrimSpace(condition) == "" {
		condition = expr.DefaultSuccessCondition
	}
	program, err := env.Compile(condition)
	if err != nil {
		return nil, fmt.Errorf("actions: %s successWhen: %w", def.name, err)
	}
	action.successWhen = program

	success := firstNonEmpty(override.SuccessMessage, def.success)
	if action.successMessage, err = renderer.CompileInline(def.name+".success", success); err != nil {
		return nil, fmt.Errorf("actions: %s successMessage: %w", def.name, err)
	}
	failure := firstNonEmpty(override.FailureMessage, def.failure, defaultFailureMessage)
	if action.failureMessage, err = renderer.CompileInline(def.name+".failure", failure); err != nil {
		return nil, fmt.Errorf("actions: %s failureMessage: %w", def.name, err)
	}
	return action, nil
}

// List returns every action in display order.
func (c *Catalog) List() []Info {
	out := make([]Info, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.actions[name].info())
	}
	return out
}

// Groups returns the actions clustered by form, in display order.
func (c *Catalog) Groups() []Group {
	groups := make([]Group, 0, len(groupTitles))
	for _, g := range groupTitles {
		group := Group{Name: g.name, Title: g.title}
		for _, name := range c.order {
			if action := c.actions[name]; action.Group == g.name {
				group.Actions = append(group.Actions, action.info())
			}
		}
		if len(group.Actions) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Lookup returns the named action.
func (c *Catalog) Lookup(name string) (Info, bool) {
	action, ok := c.actions[name]
	if !ok {
		return Info{}, false
	}
	return action.info(), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
