package ingestion

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/silo_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

// NewMQTTHandler feeds readings published on the device topic into svc.
// Only messages the broker flags as redeliveries are checked against d: two
// readings with the same values are still two readings.
func NewMQTTHandler(ctx context.Context, svc *Service, d *dedup.Deduper, timeout time.Duration) rabbitmq.Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(topic string, msg mqtt.Message) error {
		key := redeliveryKey(topic, msg)
		if d != nil && key != "" {
			if msg.Duplicate() && d.Seen(key) {
				svc.metrics.Ingest("duplicate")
				return nil
			}
			d.Mark(key)
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := svc.Ingest(cctx, msg.Payload()); err != nil {
			return fmt.Errorf("reading on %s rejected: %w", topic, err)
		}
		return nil
	}
}

// il packet id esiste solo per QoS>0 e viene riusato dopo l'ack
func redeliveryKey(topic string, msg mqtt.Message) string {
	if msg.Qos() == 0 || msg.MessageID() == 0 {
		return ""
	}
	return fmt.Sprintf("%s#%d", topic, msg.MessageID())
}
