// Package rabbitmqtest provides an in-memory MQTT client for tests.
package rabbitmqtest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one message recorded by Client.Publish.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is a loopback broker: Publish records the message and delivers it
// to matching subscriptions synchronously. Methods not overridden panic.
type Client struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	published  []Published
	subs       map[string]mqtt.MessageHandler
	PublishErr error
}

func NewClient() *Client {
	return &Client{connected: true, subs: map[string]mqtt.MessageHandler{}}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	default:
		return &Token{err: fmt.Errorf("unsupported payload type %T", payload)}
	}
	c.mu.Lock()
	if c.PublishErr != nil {
		err := c.PublishErr
		c.mu.Unlock()
		return &Token{err: err}
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	h := c.subs[topic]
	c.mu.Unlock()

	if h != nil {
		h(c, &Message{TopicName: topic, Body: b, QoSLevel: qos, IsRetained: retained})
	}
	return &Token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return &Token{}
}

// Deliver injects an inbound message as if the broker had sent it.
func (c *Client) Deliver(msg *Message) bool {
	c.mu.Lock()
	h := c.subs[msg.TopicName]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(c, msg)
	return true
}

func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.published))
	copy(out, c.published)
	return out
}

// Token is an already-completed token.
type Token struct {
	mqtt.Token
	err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message implements mqtt.Message.
type Message struct {
	mqtt.Message
	TopicName  string
	Body       []byte
	QoSLevel   byte
	IsRetained bool
	Dup        bool
	ID         uint16
}

func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Qos() byte         { return m.QoSLevel }
func (m *Message) Retained() bool    { return m.IsRetained }
func (m *Message) Duplicate() bool   { return m.Dup }
func (m *Message) MessageID() uint16 { return m.ID }
func (m *Message) Ack()              {}
