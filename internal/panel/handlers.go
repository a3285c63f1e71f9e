package panel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/l0p7/blockpanel/internal/actions"
	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/ids"
	"github.com/l0p7/blockpanel/internal/templates"
)

const maxFormBytes = 1 << 20

// actionRequest is the JSON body accepted by the action and parse routes.
// InstanceIDs wins over IDs when both are present.
type actionRequest struct {
	IDs         string   `json:"ids"`
	InstanceIDs []string `json:"instance_ids"`
}

type parseResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

type actionsResponse struct {
	BaseURL string         `json:"base_url"`
	Actions []actions.Info `json:"actions"`
}

type activityResponse struct {
	Entries []activity.Entry `json:"entries"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ServeDashboard renders the landing page.
func (p *Panel) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	p.renderPage(w, http.StatusOK, templates.PageDashboard, p.dashboard(r.Context(), nil, "", ""))
}

// ServeAction runs one action. Dispatch failures are part of the outcome
// and answer 200; only rejected submissions map to HTTP errors.
func (p *Panel) ServeAction(w http.ResponseWriter, r *http.Request, name string) {
	req, raw, err := p.decodeRequest(w, r)
	if err != nil {
		p.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var outcome actions.Outcome
	if req.InstanceIDs != nil {
		outcome, err = p.catalog.ExecuteIDs(r.Context(), name, req.InstanceIDs)
	} else {
		outcome, err = p.catalog.Execute(r.Context(), name, req.IDs)
	}
	if err != nil {
		status := statusFor(err)
		if wantsJSON(r) {
			p.writeJSON(w, status, errorResponse{Error: err.Error(), Status: status})
			return
		}
		view := &outcomeView{Title: name, Message: rejectionMessage(err)}
		if info, ok := p.catalog.Lookup(name); ok {
			view.Title = info.Title
		}
		p.renderPage(w, status, templates.PageDashboard, p.dashboard(r.Context(), view, name, raw))
		return
	}

	if wantsJSON(r) {
		p.writeJSON(w, http.StatusOK, outcome)
		return
	}
	p.renderPage(w, http.StatusOK, templates.PageDashboard, p.dashboard(r.Context(), fromOutcome(outcome), name, raw))
}

// ServeActions lists the catalog.
func (p *Panel) ServeActions(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, http.StatusOK, actionsResponse{
		BaseURL: p.diagnoser.BaseURL(),
		Actions: p.catalog.List(),
	})
}

// ServeParse previews how input would be split without dispatching.
func (p *Panel) ServeParse(w http.ResponseWriter, r *http.Request) {
	req, _, err := p.decodeRequest(w, r)
	if err != nil {
		p.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	list := ids.Parse(req.IDs)
	if req.InstanceIDs != nil {
		list = ids.Parse(strings.Join(req.InstanceIDs, ","))
	}
	p.writeJSON(w, http.StatusOK, parseResponse{IDs: list, Count: len(list)})
}

// ServeActivity returns recent entries, newest first. ?limit= caps the list.
func (p *Panel) ServeActivity(w http.ResponseWriter, r *http.Request) {
	limit := p.activityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			p.WriteError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		if n < limit {
			limit = n
		}
	}
	entries := p.recent(r.Context(), limit)
	if entries == nil {
		entries = []activity.Entry{}
	}
	p.writeJSON(w, http.StatusOK, activityResponse{Entries: entries})
}

// ServeDiagnostics probes the control plane. JSON by default; ?format=html
// renders the diagnostics page.
func (p *Panel) ServeDiagnostics(w http.ResponseWriter, r *http.Request) {
	diagnosis := p.diagnoser.Diagnose(r.Context(), p.healthTimeout, p.probeTimeout)
	if strings.EqualFold(r.URL.Query().Get("format"), "html") {
		p.renderPage(w, http.StatusOK, templates.PageDiagnostics, diagnosticsView{
			BaseURL:      diagnosis.BaseURL,
			Health:       diagnosis.Health,
			Healthy:      diagnosis.Health.Healthy(),
			ProbePath:    dispatch.ProbePath,
			Probe:        diagnosis.Probe,
			ProbeBody:    diagnosis.Probe.String(),
			RouteMissing: diagnosis.RouteMissing,
		})
		return
	}
	p.writeJSON(w, http.StatusOK, diagnosis)
}

// ServeHealth reports panel liveness. It does not contact the control plane.
func (p *Panel) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WriteError answers with JSON or plain text depending on the caller.
func (p *Panel) WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if r != nil && !wantsJSON(r) {
		http.Error(w, message, status)
		return
	}
	p.writeJSON(w, status, errorResponse{Error: message, Status: status})
}

func (p *Panel) decodeRequest(w http.ResponseWriter, r *http.Request) (actionRequest, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	var req actionRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return actionRequest{}, "", fmt.Errorf("invalid json body: %w", err)
		}
		if req.InstanceIDs != nil {
			return req, strings.Join(req.InstanceIDs, ", "), nil
		}
		return req, req.IDs, nil
	}
	if err := r.ParseForm(); err != nil {
		return actionRequest{}, "", fmt.Errorf("invalid form: %w", err)
	}
	req.IDs = r.PostForm.Get("ids")
	return req, req.IDs, nil
}

func (p *Panel) renderPage(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := p.pages.Execute(&buf, page, data); err != nil {
		p.logger.Error("page render failed", slog.String("page", page), slog.Any("error", err))
		http.Error(w, "page render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (p *Panel) writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("json encode failed", slog.Any("error", err))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, actions.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, actions.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, actions.ErrNoIdentifiers):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, actions.ErrUnknownAction):
		return "Ação desconhecida."
	case errors.Is(err, actions.ErrUnavailable):
		return "Ação indisponível: a rota ainda não existe no back."
	case errors.Is(err, actions.ErrNoIdentifiers):
		return "Informe ao menos um ID."
	default:
		return err.Error()
	}
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// wantsJSON prefers HTML for browsers and JSON for API clients. An explicit
// text/html Accept wins; otherwise a JSON Accept or JSON body selects JSON.
func wantsJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "text/html") {
		return false
	}
	if strings.Contains(accept, "application/json") {
		return true
	}
	return isJSONRequest(r)
}
