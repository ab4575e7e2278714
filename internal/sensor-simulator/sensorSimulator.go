package sensor_simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

// Sender delivers one device reading to the monitor.
type Sender interface {
	Send(ctx context.Context, r messages.Reading) error
}

// MQTTSender publishes readings on the device topic.
type MQTTSender struct {
	Publisher rabbitmq.IPublisher
}

func (s MQTTSender) Send(_ context.Context, r messages.Reading) error {
	return s.Publisher.PublishMessage(r)
}

// HTTPSender POSTs readings to the ingestion endpoint, retrying transient failures.
type HTTPSender struct {
	URL        string
	Client     *http.Client
	MaxElapsed time.Duration
}

func (s HTTPSender) Send(ctx context.Context, r messages.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = s.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "silo-sensor-simulator/1.0")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// retryable
			return fmt.Errorf("ingest HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		default:
			return backoff.Permanent(fmt.Errorf("ingest HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
		}
	}, backoff.WithContext(bo, ctx))
}

// SensorSimulator plays the role of the field device: it samples both silos
// on a fixed interval and pushes the combined reading to the monitor.
type SensorSimulator struct {
	deviceID  string
	generator *DataGenerator
	sender    Sender
	now       func() time.Time
}

func NewSensorSimulator(deviceID string, gen *DataGenerator, sender Sender) *SensorSimulator {
	return &SensorSimulator{
		deviceID:  deviceID,
		generator: gen,
		sender:    sender,
		now:       time.Now,
	}
}

// Start publishes one reading per interval until ctx is cancelled.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PublishOnce(ctx); err != nil {
				log.Printf("sensor: publish error: %v", err)
			}
		}
	}
}

// PublishOnce generates and sends a single reading.
func (s *SensorSimulator) PublishOnce(ctx context.Context) error {
	pair, err := s.generator.Next(s.now().UTC())
	if err != nil {
		return fmt.Errorf("data gen: %w", err)
	}
	log.Printf("sensor: pub device=%s silo1=%.2f%%/%.1fC silo2=%.2f%%/%.1fC",
		s.deviceID, pair.Silo1.Moisture, pair.Silo1.Temperature, pair.Silo2.Moisture, pair.Silo2.Temperature)
	return s.sender.Send(ctx, messages.NewReading(s.deviceID, pair))
}
