package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

const dateLayout = "2006-01-02"

// LogSource is the engine's in-memory logsheet.
type LogSource interface {
	Logsheet(ctx context.Context, from, to time.Time) ([]messages.LogEntry, error)
}

type ThresholdSource interface {
	Current() entities.ThresholdConfig
}

type logsheetResponse struct {
	Start      string                   `json:"start"`
	End        string                   `json:"end"`
	Thresholds entities.ThresholdConfig `json:"thresholds"`
	Rows       []messages.LogSheetRow   `json:"rows"`
}

// NewLogsheetHandler serves GET /api/logsheet.
// Query params:
//
//	start, end=YYYY-MM-DD   (inclusive, default today)
//	source=auto|archive|memory  (default auto: prova l'archivio, fallback memoria)
func NewLogsheetHandler(mem LogSource, archive Archive, th ThresholdSource, loc *time.Location) http.Handler {
	if loc == nil {
		loc = time.Local
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		today := time.Now().In(loc).Format(dateLayout)
		startS := strings.TrimSpace(q.Get("start"))
		if startS == "" {
			startS = today
		}
		endS := strings.TrimSpace(q.Get("end"))
		if endS == "" {
			endS = startS
		}
		startD, err1 := time.ParseInLocation(dateLayout, startS, loc)
		endD, err2 := time.ParseInLocation(dateLayout, endS, loc)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "start and end must be dates formatted as YYYY-MM-DD")
			return
		}
		if endD.Before(startD) {
			writeError(w, http.StatusBadRequest, "end must not be before start")
			return
		}
		from := startD
		to := time.Date(endD.Year(), endD.Month(), endD.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), loc)

		source := strings.ToLower(q.Get("source"))
		if source == "" {
			source = "auto"
		}
		if source != "auto" && source != "archive" && source != "memory" {
			writeError(w, http.StatusBadRequest, "source must be auto, archive or memory")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var entries []messages.LogEntry
		var used string
		if (source == "archive" || source == "auto") && archive != nil && archive.Durable() {
			list, err := archive.Range(ctx, from, to)
			if err == nil {
				entries, used = list, "archive"
			} else if source == "archive" {
				w.Header().Set("X-Error", "archive-query-error")
				writeError(w, http.StatusBadGateway, "archive query failed")
				return
			}
		} else if source == "archive" {
			writeError(w, http.StatusServiceUnavailable, ErrArchiveUnavailable.Error())
			return
		}
		if used == "" {
			list, err := mem.Logsheet(ctx, from, to)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			entries, used = list, "memory"
		}

		cfg := th.Current()
		rows := make([]messages.LogSheetRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, messages.NewLogSheetRow(e, cfg))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", used)
		_ = json.NewEncoder(w).Encode(logsheetResponse{Start: startS, End: endS, Thresholds: cfg, Rows: rows})
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
