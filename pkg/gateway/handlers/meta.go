package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/lumenlabs/lumen/pkg/gateway/config"
	"github.com/lumenlabs/lumen/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ConfigHandler tells clients which deployment they reached.
type ConfigHandler struct {
	Config config.Config
}

func (h ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app_name": h.Config.AppName,
		"version":  h.Config.Version,
	})
}

// DBPinger is the database liveness surface readiness checks. A
// pgxpool.Pool satisfies it.
type DBPinger interface {
	Ping(ctx context.Context) error
}

const dbPingTimeout = 2 * time.Second

type ReadyHandler struct {
	Config   config.Config
	DB       DBPinger
	Sessions *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Database string   `json:"database"`
		Sessions int      `json:"sessions"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GoogleAPIKey == "" {
		issues = append(issues, "google api key is not configured")
	}
	if h.Config.MaxUploadBytes <= 0 || h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "body and upload limits must be > 0")
	}
	if h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Config.SessionGrace <= 0 || h.Config.ShutdownGrace <= 0 {
		issues = append(issues, "shutdown timeouts must be > 0")
	}
	if h.Config.MaxSessions <= 0 {
		issues = append(issues, "max sessions must be > 0")
	}

	database := "unconfigured"
	if h.DB != nil {
		database = "ok"
		ctx, cancel := context.WithTimeout(r.Context(), dbPingTimeout)
		if err := h.DB.Ping(ctx); err != nil {
			database = "error"
			issues = append(issues, "database is unreachable")
		}
		cancel()
	}

	draining := h.Sessions.Draining()
	if draining {
		issues = append(issues, "draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:       ok,
		Draining: draining,
		Database: database,
		Sessions: h.Sessions.Count(),
		Issues:   issues,
	})
}
