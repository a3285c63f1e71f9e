package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/expr"
	"github.com/l0p7/blockpanel/internal/ids"
	"github.com/l0p7/blockpanel/internal/metrics"
	"github.com/l0p7/blockpanel/internal/templates"
)

// Outcome is what the panel renders after an action ran.
type Outcome struct {
	Action  string          `json:"action"`
	Title   string          `json:"title"`
	IDs     []string        `json:"ids"`
	Count   int             `json:"count"`
	Result  dispatch.Result `json:"result"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Log     []string        `json:"log,omitempty"`
	Hint    string          `json:"hint,omitempty"`
}

// messageData is exposed to success and failure message templates.
type messageData struct {
	Action string
	Title  string
	Status int
	Count  int
	IDs    []string
	Data   any
	Body   string
	Error  string
	Log    []string
}

// Execute parses raw operator input and runs the named action.
func (c *Catalog) Execute(ctx context.Context, name, raw string) (Outcome, error) {
	return c.run(ctx, name, ids.Parse(raw))
}

// ExecuteIDs runs the named action for an already split list. The list is
// normalized the same way free text is.
func (c *Catalog) ExecuteIDs(ctx context.Context, name string, list []string) (Outcome, error) {
	return c.run(ctx, name, ids.Parse(strings.Join(list, ",")))
}

func (c *Catalog) run(ctx context.Context, name string, list []string) (Outcome, error) {
	action, ok := c.actions[name]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	logger := c.logger.With(slog.String("action", name))
	if !action.Available {
		c.metrics.ObserveAction(name, metrics.ActionRejected)
		logger.Info("action rejected", slog.String("reason", "unavailable"))
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnavailable, name)
	}
	if len(list) == 0 {
		c.metrics.ObserveAction(name, metrics.ActionRejected)
		logger.Info("action rejected", slog.String("reason", "no identifiers"))
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoIdentifiers, name)
	}

	payload := map[string]any{"instance_ids": list}
	start := time.Now()
	var result dispatch.Result
	if action.URL != "" {
		result = c.dispatcher.DispatchURL(ctx, action.URL, payload, action.Timeout)
	} else {
		result = c.dispatcher.Dispatch(ctx, action.Path, payload, action.Timeout)
	}

	success, err := action.successWhen.EvalBool(expr.Activation(name, result.StatusCode, result.Data, list))
	if err != nil {
		logger.Warn("success condition failed", slog.String("condition", action.successWhen.Source()), slog.Any("error", err))
		success = false
	}

	outcome := Outcome{
		Action:  name,
		Title:   action.Title,
		IDs:     list,
		Count:   len(list),
		Result:  result,
		Success: success,
	}
	data := messageData{
		Action: name,
		Title:  action.Title,
		Status: result.StatusCode,
		Count:  len(list),
		IDs:    list,
		Data:   result.Data,
		Body:   result.String(),
		Error:  syntheticError(result),
		Log:    result.Log(),
	}
	if success {
		outcome.Message = c.render(logger, action, true, data)
		outcome.Log = data.Log
		c.metrics.ObserveAction(name, metrics.ActionSucceeded)
	} else {
		outcome.Message = c.render(logger, action, false, data)
		if result.StatusCode == http.StatusNotFound {
			outcome.Hint = RouteNotFoundHint
		}
		c.metrics.ObserveAction(name, metrics.ActionFailed)
	}

	logger.Info("action executed",
		slog.Int("count", outcome.Count),
		slog.Int("status", result.StatusCode),
		slog.Bool("success", success),
		slog.Duration("latency", time.Since(start)),
	)

	if c.activity != nil {
		entry := activity.NewEntry(name, outcome.Count, result.StatusCode, success)
		if err := c.activity.Append(context.WithoutCancel(ctx), entry); err != nil {
			logger.Warn("activity append failed", slog.Any("error", err))
		}
	}
	return outcome, nil
}

func (c *Catalog) render(logger *slog.Logger, action *Action, success bool, data messageData) string {
	tmpl := action.failureMessage
	if success {
		tmpl = action.successMessage
	}
	if tmpl != nil {
		message, err := tmpl.Render(data)
		if err == nil {
			return strings.TrimSpace(message)
		}
		logger.Warn("message template failed", slog.String("template", tmpl.Name()), slog.Any("error", err))
	}
	if success {
		return "OK"
	}
	return fmt.Sprintf("Erro %d: %s", data.Status, templates.Truncate(500, data.Body))
}

func syntheticError(result dispatch.Result) string {
	if !result.Synthetic {
		return ""
	}
	obj, ok := result.Data.(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := obj[dispatch.ErrorKey].(string)
	return msg
}
