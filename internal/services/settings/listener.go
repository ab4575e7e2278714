package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/silo_monitor/pkg/rabbitmq"
)

// TopicSettings carries the latest committed record as a retained message,
// so a (re)connecting instance gets the current band on subscribe.
const TopicSettings = "settings/moisture"

// MQTTNotifier publishes committed records on TopicSettings.
type MQTTNotifier struct {
	Publisher rabbitmq.IPublisher
}

func NewMQTTNotifier(client mqtt.Client) *MQTTNotifier {
	return &MQTTNotifier{Publisher: rabbitmq.NewPublisher(client, TopicSettings, rabbitmq.WithQoS(1), rabbitmq.Retained())}
}

func (n *MQTTNotifier) Notify(_ context.Context, rec entities.SettingsRecord) error {
	return n.Publisher.PublishMessage(rec)
}

// NewUpdateHandler applies records received on TopicSettings.
// Redeliveries are dropped; malformed records are rejected without touching state.
func NewUpdateHandler(store *Store, d *dedup.Deduper) rabbitmq.Handler {
	return func(topic string, msg mqtt.Message) error {
		if d != nil && !d.ShouldProcess(dedup.PayloadKey(msg.Payload())) {
			return nil
		}
		var rec entities.SettingsRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			return fmt.Errorf("invalid settings record on %s: %w", topic, err)
		}
		if rec.ID == "" || rec.CreatedAt.IsZero() {
			return fmt.Errorf("invalid settings record on %s: missing id or created_at", topic)
		}
		err := store.Apply(rec)
		if errors.Is(err, ErrStaleSettings) {
			return nil
		}
		return err
	}
}
