package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/internal/services/monitor"
)

// ErrInvalidJSON marks a body that is not a JSON reading.
var ErrInvalidJSON = errors.New("invalid JSON body")

// SaveError reports that the reading could not be stored; the engine was not fed.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return "save reading: " + e.Err.Error() }
func (e *SaveError) Unwrap() error { return e.Err }

// Saver stores one ingested reading durably.
type Saver interface {
	Save(ctx context.Context, rec messages.LogRecord) error
}

// Engine is the part of the monitor loop the service feeds.
type Engine interface {
	Ingest(ctx context.Context, pair messages.SamplePair, deviceID string) (monitor.IngestResult, error)
}

// Result is returned to the device so it can self-diagnose.
type Result struct {
	Record     messages.LogRecord
	Alerts     []messages.Alert
	Thresholds entities.ThresholdConfig
}

type Service struct {
	saver   Saver
	engine  Engine
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewService(saver Saver, engine Engine, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{saver: saver, engine: engine, now: time.Now, logger: logger, metrics: m}
}

// Ingest decodes, validates, stores and then evaluates one reading.
// Nothing is stored or evaluated when validation fails.
func (s *Service) Ingest(ctx context.Context, body []byte) (Result, error) {
	r, err := messages.DecodeReading(body)
	if err != nil {
		s.metrics.Ingest("invalid")
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return s.IngestReading(ctx, r)
}

func (s *Service) IngestReading(ctx context.Context, r messages.Reading) (Result, error) {
	if err := r.Validate(); err != nil {
		s.metrics.Ingest("invalid")
		return Result{}, err
	}

	ts := s.now().UTC()
	pair := r.Pair(ts)
	rec := messages.LogRecord{
		ID:       uuid.NewString(),
		DeviceID: r.DeviceID,
		Source:   messages.SourceIngest,
		LogEntry: messages.EntryFromPair(pair, ts),
	}
	if err := s.saver.Save(ctx, rec); err != nil {
		s.metrics.Ingest("failed")
		s.logger.Printf("ingest: database error: %v", err)
		return Result{}, &SaveError{Err: err}
	}

	res, err := s.engine.Ingest(ctx, pair, r.DeviceID)
	if err != nil {
		s.metrics.Ingest("unavailable")
		return Result{Record: rec}, err
	}

	device := r.DeviceID
	if device == "" {
		device = "unknown"
	}
	s.logger.Printf("ingest: data received from %s: silo1=%.2f%% silo2=%.2f%%", device, rec.Silo1Moisture, rec.Silo2Moisture)
	s.metrics.Ingest("accepted")
	return Result{Record: rec, Alerts: res.Alerts, Thresholds: res.Thresholds}, nil
}
