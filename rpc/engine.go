package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/sprinkler/broker"
)

// DefaultTimeout and DefaultMaxRetries match the environment defaults
// documented for RPC_TIMEOUT and RPC_MAX_RETRIES.
const (
	DefaultTimeout    = 8 * time.Second
	DefaultMaxRetries = 3
)

// waiter is the pending-call table entry: a completion signal plus a slot
// for the response envelope. At most one of done is ever closed; at most
// one envelope is ever deposited.
type waiter struct {
	done chan struct{}
	once sync.Once
	env  Envelope
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

// deliver signals the waiter with env. Safe to call at most meaningfully
// once; subsequent calls are no-ops because done is already closed.
func (w *waiter) deliver(env Envelope) {
	w.once.Do(func() {
		w.env = env
		close(w.done)
	})
}

// Engine wraps one broker.Client to provide a synchronous call() over
// topic-based publish/subscribe. A single Engine is shared by every caller
// that dials through the same broker; the pending-call table is guarded by
// a mutex so Call is safe to invoke from many goroutines concurrently.
//
// TopicPrefix, when non-empty, is prepended to both the request topic and
// the response topic. This is how the same Engine type serves the
// mediator's local calls (empty prefix) and the controller's calls into
// the cloud namespace (cloudPrefix).
type Engine struct {
	Client      broker.Client
	TopicPrefix string
	Timeout     time.Duration
	MaxRetries  int
	Stats       *Stats

	mu      sync.Mutex
	pending map[string]*waiter
}

// NewEngine constructs an Engine with the given defaults. timeout and
// maxRetries of zero fall back to DefaultTimeout / DefaultMaxRetries.
func NewEngine(client broker.Client, prefix string, timeout time.Duration, maxRetries int) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{
		Client:      client,
		TopicPrefix: prefix,
		Timeout:     timeout,
		MaxRetries:  maxRetries,
		Stats:       &Stats{},
		pending:     make(map[string]*waiter),
	}
}

func (e *Engine) withPrefix(topic string) string {
	if e.TopicPrefix == "" {
		return topic
	}
	return e.TopicPrefix + "/" + topic
}

func (e *Engine) requestTopic(deviceID, methodPath string) string {
	return e.withPrefix(deviceID + "/" + methodPath)
}

func (e *Engine) responseTopic(deviceID, base, requestID string) string {
	return e.withPrefix(deviceID + "/" + base + "/response/" + requestID)
}

// Call issues one RPC to deviceID/methodPath with params, retrying on
// timeout up to e.MaxRetries times. It returns the response's result field,
// a *DeviceError if the response carried an error, or a *TimeoutError once
// the retry budget is exhausted.
func (e *Engine) Call(ctx context.Context, deviceID, methodPath string, params any) (any, error) {
	e.Stats.issued()
	base := baseOf(methodPath)

	var lastTopic string
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			e.Stats.retried()
		}

		requestID := uuid.NewString()
		respTopic := e.responseTopic(deviceID, base, requestID)
		lastTopic = respTopic

		w := newWaiter()
		e.mu.Lock()
		e.pending[requestID] = w
		e.mu.Unlock()

		unsubscribe, err := e.Client.Subscribe(ctx, respTopic, e.deliverTo(requestID))
		if err != nil {
			e.removeWaiter(requestID)
			e.Stats.failed()
			return nil, fmt.Errorf("rpc: subscribe to %s: %w", respTopic, err)
		}

		body, err := json.Marshal(Envelope{RequestID: requestID, Params: params})
		if err != nil {
			unsubscribe()
			e.removeWaiter(requestID)
			e.Stats.failed()
			return nil, fmt.Errorf("rpc: marshal request: %w", err)
		}

		reqTopic := e.requestTopic(deviceID, methodPath)
		if err := e.Client.Publish(ctx, reqTopic, body); err != nil {
			unsubscribe()
			e.removeWaiter(requestID)
			e.Stats.failed()
			return nil, fmt.Errorf("rpc: publish to %s: %w", reqTopic, err)
		}

		result, timedOut, err := e.await(ctx, w)
		unsubscribe()
		e.removeWaiter(requestID)

		if err != nil {
			e.Stats.failed()
			return nil, err
		}
		if !timedOut {
			e.Stats.succeeded()
			return result, nil
		}
		slog.Warn("rpc call timed out, retrying", "device", deviceID, "method", methodPath, "attempt", attempt)
	}

	e.Stats.timedOut()
	return nil, &TimeoutError{Topic: lastTopic, Retries: e.MaxRetries}
}

// await blocks until w is signalled, the timeout elapses, or ctx is
// cancelled. timedOut is true only on the timeout path, distinct from
// ctx cancellation (which is reported as an error).
func (e *Engine) await(ctx context.Context, w *waiter) (result any, timedOut bool, err error) {
	timer := time.NewTimer(e.Timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		if w.env.Error != "" {
			return nil, false, &DeviceError{Message: w.env.Error}
		}
		return w.env.Result, false, nil
	case <-timer.C:
		return nil, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (e *Engine) removeWaiter(requestID string) {
	e.mu.Lock()
	delete(e.pending, requestID)
	e.mu.Unlock()
}

// deliverTo returns a broker.Handler that decodes an incoming message as an
// Envelope and, if its requestId matches a pending waiter, signals it.
// Responses for unknown ids (arrived late, or never asked for) are silently
// dropped, per the pending-call table's contract.
func (e *Engine) deliverTo(requestID string) broker.Handler {
	return func(m broker.Message) {
		var env Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			slog.Warn("rpc: dropping malformed response", "topic", m.Topic, "error", err)
			return
		}
		if env.RequestID != requestID {
			return
		}

		e.mu.Lock()
		w, ok := e.pending[requestID]
		e.mu.Unlock()
		if !ok {
			return
		}
		w.deliver(env)
	}
}
