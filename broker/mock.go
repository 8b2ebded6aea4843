package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockBroker is an in-memory Client with the same wildcard-matching
// semantics as a real broker. It never touches the network: Publish
// delivers synchronously to every matching subscription in the calling
// goroutine. Useful for testing the RPC Engine, Mediator Router, and HTTP
// Adapter without a running broker.
//
// Two MockBrokers do not talk to each other; a test that wants to exercise
// "local broker" and "remote broker" as distinct endpoints uses two
// independent MockBroker values, bridging them (or not) explicitly.
type MockBroker struct {
	mu        sync.Mutex
	root      *node
	nextID    int
	connected bool
}

// NewMockBroker returns a ready-to-use broker; Connect is a no-op beyond
// marking it connected, matching the "none" backend in the teacher
// implementation's messenger selection.
func NewMockBroker() *MockBroker {
	return &MockBroker{root: newNode()}
}

func (m *MockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.root = newNode()
	return nil
}

func (m *MockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("mock broker: publish while disconnected on %s", topic)
	}
	root := m.root
	m.mu.Unlock()

	segs := strings.Split(topic, "/")
	var matched []*subscription
	root.match(segs, func(s *subscription) {
		matched = append(matched, s)
	})
	for _, s := range matched {
		s.handler(Message{Topic: topic, Payload: payload})
	}
	return nil
}

func (m *MockBroker) Subscribe(ctx context.Context, topicFilter string, handler Handler) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	sub := &subscription{id: id, filter: topicFilter, handler: handler}
	m.root.insert(topicFilter, sub)

	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.root.remove(id)
		return nil
	}, nil
}
