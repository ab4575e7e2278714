package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/monitor"
)

const maxBody = 64 << 10

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
}

type recordJSON struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Silo1Moisture float64   `json:"silo1_moisture"`
	Silo1Temp     float64   `json:"silo1_temp"`
	Silo2Moisture float64   `json:"silo2_moisture"`
	Silo2Temp     float64   `json:"silo2_temp"`
}

type alertJSON struct {
	Silo  int                `json:"silo"`
	Type  messages.AlertKind `json:"type"`
	Value float64            `json:"value"`
}

type thresholdsJSON struct {
	Min float64 `json:"moisture_min"`
	Max float64 `json:"moisture_max"`
}

type successJSON struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Data       recordJSON     `json:"data"`
	Alerts     []alertJSON    `json:"alerts"`
	Thresholds thresholdsJSON `json:"thresholds"`
}

// NewHandler serves POST /sensor-data.
func NewHandler(svc *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed. Use POST."})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body", "details": err.Error()})
			return
		}

		res, err := svc.Ingest(r.Context(), body)
		if err != nil {
			writeIngestError(w, err)
			return
		}

		out := successJSON{
			Success: true,
			Message: "Data saved successfully",
			Data: recordJSON{
				ID:            res.Record.ID,
				Timestamp:     res.Record.Timestamp,
				Silo1Moisture: res.Record.Silo1Moisture,
				Silo1Temp:     res.Record.Silo1Temp,
				Silo2Moisture: res.Record.Silo2Moisture,
				Silo2Temp:     res.Record.Silo2Temp,
			},
			Thresholds: thresholdsJSON{Min: res.Thresholds.Min, Max: res.Thresholds.Max},
		}
		for _, a := range res.Alerts {
			out.Alerts = append(out.Alerts, alertJSON{Silo: a.SiloID, Type: a.Kind, Value: a.Value})
		}
		writeJSON(w, http.StatusCreated, out)
	})
}

func writeIngestError(w http.ResponseWriter, err error) {
	var missing *messages.MissingFieldsError
	var invalid *entities.ValidationError
	var save *SaveError
	switch {
	case errors.Is(err, ErrInvalidJSON):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body", "details": err.Error()})
	case errors.As(err, &missing):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "Missing required fields",
			"required": messages.RequiredFields,
			"example":  messages.ExampleReading,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": invalid.Error()})
	case errors.As(err, &save):
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to save data", "details": save.Err.Error()})
	case errors.Is(err, monitor.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Monitor is shutting down"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error", "details": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
