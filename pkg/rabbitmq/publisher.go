package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// Publisher publishes to a single topic with a fixed QoS and retain flag.
type Publisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

type PublisherOption func(*Publisher)

func WithQoS(qos byte) PublisherOption { return func(p *Publisher) { p.qos = qos } }

// Retained marks every message as the topic's retained snapshot.
func Retained() PublisherOption { return func(p *Publisher) { p.retained = true } }

func WithTimeout(d time.Duration) PublisherOption { return func(p *Publisher) { p.timeout = d } }

func NewPublisher(client mqtt.Client, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{client: client, topic: topic, timeout: 5 * time.Second}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage sends strings and byte slices as-is and JSON-encodes anything else.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", p.topic, err)
		}
		payload = b
	}

	token := p.client.Publish(p.topic, p.qos, p.retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%s: %w", p.topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}
	return nil
}

// Close is a no-op: the shared client is owned and closed by whoever created it.
func (p *Publisher) Close() {}
