package rabbitmq

import (
	"context"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message; returned errors are logged, never retried.
type Handler func(topic string, message mqtt.Message) error

// Consumer subscribes one topic filter on a shared client.
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	qos     byte
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
}

func (c *Consumer) Topic() string { return c.topic }

// Subscribe registers the callback without blocking. It is safe to call again after a reconnect.
func (c *Consumer) Subscribe() error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqtt: no handler set for topic %s", c.topic)
			return
		}
		if err := c.handler(message.Topic(), message); err != nil {
			log.Printf("mqtt: error handling message on %s: %v", message.Topic(), err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	log.Printf("mqtt: subscribed to %s (qos %d)", c.topic, c.qos)
	return nil
}

// ConsumeMessage subscribes to the topic and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	if err := c.Subscribe(); err != nil {
		return err
	}
	<-ctx.Done()
	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
