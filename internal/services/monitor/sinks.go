package monitor

import (
	"context"
	"log"

	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

// MQTT topics owned by the monitor.
const (
	TopicReadings = "silo/readings"
	TopicSnapshot = "silo/snapshot"
	TopicAlerts   = "silo/alerts"
)

// MQTTSink forwards snapshots and new alerts to the broker from its own goroutine.
// Publish never blocks: when the outbox is full the oldest pending snapshot is dropped.
type MQTTSink struct {
	snapshots rabbitmq.IPublisher
	alerts    rabbitmq.IPublisher
	outbox    chan messages.Snapshot
	metrics   *metrics.Metrics
}

func NewMQTTSink(snapshots, alerts rabbitmq.IPublisher, capacity int, m *metrics.Metrics) *MQTTSink {
	if capacity <= 0 {
		capacity = 16
	}
	return &MQTTSink{
		snapshots: snapshots,
		alerts:    alerts,
		outbox:    make(chan messages.Snapshot, capacity),
		metrics:   m,
	}
}

func (s *MQTTSink) Publish(snap messages.Snapshot) {
	for {
		select {
		case s.outbox <- snap:
			return
		default:
		}
		select {
		case dropped := <-s.outbox:
			// alerts carried by a dropped snapshot still go out
			if len(dropped.Raised) > 0 {
				snap.Raised = append(dropped.Raised, snap.Raised...)
			}
		default:
		}
	}
}

// Run drains the outbox until ctx is cancelled.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.outbox:
			s.flush(snap)
		}
	}
}

func (s *MQTTSink) flush(snap messages.Snapshot) {
	if s.alerts != nil {
		for _, a := range snap.Raised {
			if err := s.alerts.PublishMessage(a); err != nil {
				log.Printf("engine: alert publish failed: %v", err)
				s.metrics.PublishError(TopicAlerts)
			}
		}
	}
	if s.snapshots != nil {
		snap.Raised = nil
		if err := s.snapshots.PublishMessage(snap); err != nil {
			log.Printf("engine: snapshot publish failed: %v", err)
			s.metrics.PublishError(TopicSnapshot)
		}
	}
}
