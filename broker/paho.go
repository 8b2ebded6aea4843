package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config configures a Paho-backed Client.
type Config struct {
	Host     string
	Port     int
	ClientID string // if empty, a random id is generated
	Username string
	Password string

	Keepalive      time.Duration // default 60s, per spec §6
	ConnectTimeout time.Duration // default 15s
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.Keepalive == 0 {
		c.Keepalive = 60 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.ClientID == "" {
		c.ClientID = "sprinkler-" + uuid.NewString()[:8]
	}
	return c
}

// Paho is a Client backed by eclipse/paho.mqtt.golang. It configures the
// library's own auto-reconnect (bounded exponential backoff, 1s up to a 30s
// cap) rather than reimplementing it, and replays every active subscription
// from OnConnect so a reconnect re-establishes the full subscription set.
type Paho struct {
	opts *paho.ClientOptions
	c    paho.Client

	mu   sync.Mutex
	subs map[string]Handler
}

// New builds a Paho client from cfg. Connect must be called before use.
func New(cfg Config) *Paho {
	cfg = cfg.withDefaults()

	url := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.Keepalive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout)

	p := &Paho{opts: opts, subs: make(map[string]Handler)}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("broker connection lost, reconnecting", "error", err)
	})
	opts.OnConnect = func(c paho.Client) {
		slog.Info("broker connected", "broker", url, "client_id", cfg.ClientID)
		p.resubscribeAll(c)
	}

	return p
}

// resubscribeAll replays every handler currently registered against the new
// session. Called from OnConnect, so it runs both after the first connect
// and after every auto-reconnect.
func (p *Paho) resubscribeAll(c paho.Client) {
	p.mu.Lock()
	subs := make(map[string]Handler, len(p.subs))
	for topic, h := range p.subs {
		subs[topic] = h
	}
	p.mu.Unlock()

	for topic, handler := range subs {
		topic, handler := topic, handler
		tok := c.Subscribe(topic, 0, pahoCallback(handler))
		if !tok.WaitTimeout(10 * time.Second) {
			slog.Error("resubscribe timed out", "topic", topic)
			continue
		}
		if err := tok.Error(); err != nil {
			slog.Error("resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func pahoCallback(handler Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		handler(Message{
			Topic:   m.Topic(),
			Payload: m.Payload(),
			Retain:  m.Retained(),
			QoS:     m.Qos(),
		})
	}
}

func (p *Paho) Connect(ctx context.Context) error {
	if p.c == nil {
		p.c = paho.NewClient(p.opts)
	}
	tok := p.c.Connect()
	timeout := 15 * time.Second
	if p.opts != nil {
		timeout = p.opts.ConnectTimeout
	}
	if !tok.WaitTimeout(timeout) {
		return errors.New("broker connect timeout")
	}
	return tok.Error()
}

func (p *Paho) Close() error {
	if p.c != nil {
		p.c.Disconnect(250)
	}
	return nil
}

func (p *Paho) IsConnected() bool {
	return p.c != nil && p.c.IsConnected()
}

func (p *Paho) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.c == nil || !p.c.IsConnected() {
		return fmt.Errorf("broker: publish to %s while disconnected", topic)
	}
	tok := p.c.Publish(topic, 0, false, payload)
	tok.Wait()
	return tok.Error()
}

func (p *Paho) Subscribe(ctx context.Context, topicFilter string, handler Handler) (func() error, error) {
	if p.c == nil {
		return nil, errors.New("broker: not connected")
	}

	p.mu.Lock()
	p.subs[topicFilter] = handler
	p.mu.Unlock()

	tok := p.c.Subscribe(topicFilter, 0, pahoCallback(handler))
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("broker: subscribe to %s timed out", topicFilter)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}

	return func() error {
		p.mu.Lock()
		delete(p.subs, topicFilter)
		p.mu.Unlock()

		if p.c == nil {
			return nil
		}
		ut := p.c.Unsubscribe(topicFilter)
		if !ut.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("broker: unsubscribe from %s timed out", topicFilter)
		}
		return ut.Error()
	}, nil
}
