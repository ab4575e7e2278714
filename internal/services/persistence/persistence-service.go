package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

// ErrArchiveUnavailable is returned by Range when no durable archive is configured.
var ErrArchiveUnavailable = errors.New("logsheet archive unavailable")

// Archive stores ingested readings and gated logsheet entries.
type Archive interface {
	// Enqueue schedules a gated log entry; it never blocks.
	Enqueue(rec messages.LogRecord)
	// Save durably stores one ingested reading before it is acknowledged.
	Save(ctx context.Context, rec messages.LogRecord) error
	// Range returns gated log entries with from <= ts <= to, oldest first.
	Range(ctx context.Context, from, to time.Time) ([]messages.LogEntry, error)
	LastErrorAge() time.Duration
	Durable() bool
}

// Configurazione Influx
type InfluxConfig struct {
	InfluxOrg    string
	InfluxBucket string
	// LogMeasurement holds gated logsheet rows, ReadingMeasurement every ingested reading.
	LogMeasurement     string
	ReadingMeasurement string
}

// InfluxArchive writes gated entries on the asynchronous WriteAPI and
// ingested readings on the blocking one. Queries go through a breaker.
type InfluxArchive struct {
	async    api.WriteAPI
	blocking api.WriteAPIBlocking
	query    api.QueryAPI
	cfg      InfluxConfig
	cb       *gobreaker.CircuitBreaker
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxArchive(client influxdb2.Client, cfg InfluxConfig, m *metrics.Metrics) (*InfluxArchive, error) {
	if client == nil || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.LogMeasurement == "" {
		cfg.LogMeasurement = "silo_log"
	}
	if cfg.ReadingMeasurement == "" {
		cfg.ReadingMeasurement = "silo_readings"
	}
	a := &InfluxArchive{
		async:    client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket),
		blocking: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		query:    client.QueryAPI(cfg.InfluxOrg),
		cfg:      cfg,
		metrics:  m,
		// di default "lontano nel tempo"
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "logsheet-archive",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			m.BreakerState(name, int(to))
		},
	})
	go func() {
		for err := range a.async.Errors() {
			if err != nil {
				a.markError()
				log.Printf("persistence: async write error: %v", err)
			}
		}
	}()
	return a, nil
}

func (a *InfluxArchive) markError() {
	a.mu.Lock()
	a.lastErr = time.Now()
	a.mu.Unlock()
	a.metrics.ArchiveError()
}

func (a *InfluxArchive) point(measurement string, rec messages.LogRecord) *write.Point {
	tags := map[string]string{"source": rec.Source}
	if rec.DeviceID != "" {
		tags["device_id"] = sanitizeTag(rec.DeviceID)
	}
	fields := map[string]interface{}{
		"id":             rec.ID,
		"silo1_moisture": rec.Silo1Moisture,
		"silo1_temp":     rec.Silo1Temp,
		"silo2_moisture": rec.Silo2Moisture,
		"silo2_temp":     rec.Silo2Temp,
	}
	t := rec.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	return influxdb2.NewPoint(measurement, tags, fields, t)
}

func (a *InfluxArchive) Enqueue(rec messages.LogRecord) {
	a.async.WritePoint(a.point(a.cfg.LogMeasurement, rec))
}

func (a *InfluxArchive) Save(ctx context.Context, rec messages.LogRecord) error {
	if err := a.blocking.WritePoint(ctx, a.point(a.cfg.ReadingMeasurement, rec)); err != nil {
		a.markError()
		return err
	}
	return nil
}

func buildRangeFlux(bucket, measurement string, from, to time.Time) string {
	// stop is exclusive in Flux
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"])
`, bucket, from.UTC().Format(time.RFC3339Nano), to.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano), measurement)
}

func (a *InfluxArchive) Range(ctx context.Context, from, to time.Time) ([]messages.LogEntry, error) {
	v, err := a.cb.Execute(func() (interface{}, error) {
		res, err := a.query.Query(ctx, buildRangeFlux(a.cfg.InfluxBucket, a.cfg.LogMeasurement, from, to))
		if err != nil {
			return nil, err
		}
		defer res.Close()

		var out []messages.LogEntry
		for res.Next() {
			rec := res.Record()
			out = append(out, messages.LogEntry{
				Timestamp:     rec.Time(),
				Silo1Moisture: toFloat(rec.ValueByKey("silo1_moisture")),
				Silo1Temp:     toFloat(rec.ValueByKey("silo1_temp")),
				Silo2Moisture: toFloat(rec.ValueByKey("silo2_moisture")),
				Silo2Temp:     toFloat(rec.ValueByKey("silo2_temp")),
			})
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]messages.LogEntry), nil
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (a *InfluxArchive) LastErrorAge() time.Duration {
	a.mu.RLock()
	t := a.lastErr
	a.mu.RUnlock()
	return time.Since(t)
}

func (a *InfluxArchive) Durable() bool { return true }

// Flush pushes buffered async writes; called on shutdown.
func (a *InfluxArchive) Flush() { a.async.Flush() }

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	}
	return 0
}

func sanitizeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
