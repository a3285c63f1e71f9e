package server

import (
	"fmt"
	"net/http"
	"strings"
)

// PanelHTTP is the surface the router needs from the operator panel. Each
// user event has its own handler.
type PanelHTTP interface {
	ServeDashboard(http.ResponseWriter, *http.Request)
	ServeAction(http.ResponseWriter, *http.Request, string)
	ServeActions(http.ResponseWriter, *http.Request)
	ServeParse(http.ResponseWriter, *http.Request)
	ServeActivity(http.ResponseWriter, *http.Request)
	ServeDiagnostics(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, *http.Request, int, string)
}

// NewPanelHandler owns URL dispatch for the panel. metrics may be nil, in
// which case /metrics is not served.
func NewPanelHandler(p PanelHTTP, metrics http.Handler) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "panel unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, arg, ok := parseRoute(r.URL.Path)
		if !ok {
			p.WriteError(w, r, http.StatusNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
			return
		}
		if !methodAllowed(w, r, route) {
			p.WriteError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
			return
		}

		switch route {
		case "dashboard":
			p.ServeDashboard(w, r)
		case "action":
			p.ServeAction(w, r, arg)
		case "api/actions":
			p.ServeActions(w, r)
		case "api/parse":
			p.ServeParse(w, r)
		case "api/activity":
			p.ServeActivity(w, r)
		case "diagnostics":
			p.ServeDiagnostics(w, r)
		case "healthz":
			p.ServeHealth(w, r)
		case "metrics":
			if metrics == nil {
				p.WriteError(w, r, http.StatusNotFound, "metrics disabled")
				return
			}
			metrics.ServeHTTP(w, r)
		default:
			p.WriteError(w, r, http.StatusNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
		}
	})
}

func methodAllowed(w http.ResponseWriter, r *http.Request, route string) bool {
	allowed := http.MethodGet
	switch route {
	case "action", "api/parse":
		allowed = http.MethodPost
	}
	if r.Method == allowed || (allowed == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", allowed)
	return false
}

func parseRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "dashboard", "", true
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		route := strings.ToLower(parts[0])
		switch route {
		case "health", "healthz":
			return "healthz", "", true
		case "diagnostics", "metrics":
			return route, "", true
		}
	case 2:
		switch strings.ToLower(parts[0]) {
		case "actions":
			if parts[1] == "" {
				return "", "", false
			}
			return "action", parts[1], true
		case "api":
			route := strings.ToLower(parts[1])
			switch route {
			case "actions", "parse", "activity":
				return "api/" + route, "", true
			}
		}
	}
	return "", "", false
}
