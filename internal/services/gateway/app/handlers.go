package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/monitor"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/settings"
)

func (g *Gateway) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.engine.Snapshot())
}

func (g *Gateway) HandleDashboard(w http.ResponseWriter, _ *http.Request) {
	snap := g.engine.Snapshot()
	writeJSON(w, http.StatusOK, DashboardData{Snapshot: snap, Stats: trendStats(snap.Trend)})
}

func (g *Gateway) HandleTrend(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.engine.Snapshot().Trend)
}

func (g *Gateway) HandleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := g.engine.Snapshot().Alerts
	if alerts == nil {
		alerts = []messages.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleDismiss is idempotent: unknown ids also get 204.
func (g *Gateway) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	key, err := messages.ParseAlertKey(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	removed, err := g.engine.Dismiss(ctx, key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if removed {
		g.cfg.Logger.Printf("gateway: alert %s dismissed", key)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) HandleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.settings.Current())
}

func (g *Gateway) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body", "details": err.Error()})
		return
	}
	if req.Min == nil || req.Max == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_moisture and max_moisture are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	cfg, err := g.settings.Update(ctx, *req.Min, *req.Max)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cfg)
	case entities.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case settings.IsPersistence(err):
		g.cfg.Logger.Printf("gateway: settings update failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Failed to save settings", "details": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, monitor.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
