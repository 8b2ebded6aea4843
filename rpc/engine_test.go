package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rustyeddy/sprinkler/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResponder subscribes to every <device>/<methodPath> request under
// filter and replies with result on the matching response topic, mimicking
// a deterministic device.
func stubResponder(t *testing.T, b broker.Client, filter string, result any) {
	t.Helper()
	_, err := b.Subscribe(context.Background(), filter, func(m broker.Message) {
		var env Envelope
		require.NoError(t, json.Unmarshal(m.Payload, &env))

		segs := splitTopic(m.Topic)
		deviceID, base := segs[0], segs[1]
		respTopic := deviceID + "/" + base + "/response/" + env.RequestID

		body, err := json.Marshal(Envelope{RequestID: env.RequestID, Result: result})
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), respTopic, body))
	})
	require.NoError(t, err)
}

func splitTopic(topic string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			segs = append(segs, topic[start:i])
			start = i + 1
		}
	}
	segs = append(segs, topic[start:])
	return segs
}

func TestEngineCallRoundTrip(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))
	stubResponder(t, b, "+/pump/run", map[string]any{"ok": true})

	e := NewEngine(b, "", time.Second, 1)
	result, err := e.Call(context.Background(), "espA", "pump/run", map[string]any{"duration": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)

	assert.Equal(t, uint64(1), e.Stats.Snapshot().Succeeded)
	assert.Empty(t, e.pending)
}

func TestEngineCallDeviceError(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))
	_, err := b.Subscribe(context.Background(), "+/bucket/get", func(m broker.Message) {
		var env Envelope
		require.NoError(t, json.Unmarshal(m.Payload, &env))
		segs := splitTopic(m.Topic)
		respTopic := segs[0] + "/bucket/response/" + env.RequestID
		body, _ := json.Marshal(Envelope{RequestID: env.RequestID, Error: "sensor fault"})
		require.NoError(t, b.Publish(context.Background(), respTopic, body))
	})
	require.NoError(t, err)

	e := NewEngine(b, "", time.Second, 1)
	_, callErr := e.Call(context.Background(), "espC", "bucket/get", nil)
	require.Error(t, callErr)

	var devErr *DeviceError
	require.ErrorAs(t, callErr, &devErr)
	assert.Equal(t, "sensor fault", devErr.Message)
}

func TestEngineCallTimeoutExhaustsRetries(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))
	// No responder: every attempt times out.

	e := NewEngine(b, "", 20*time.Millisecond, 2)
	_, err := e.Call(context.Background(), "espC", "bucket/get", nil)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 2, timeoutErr.Retries)

	snap := e.Stats.Snapshot()
	assert.Equal(t, uint64(1), snap.TimedOut)
	assert.Equal(t, uint64(2), snap.Retries)
	assert.Empty(t, e.pending)
}

func TestEngineCallWithCloudPrefix(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	_, err := b.Subscribe(context.Background(), "devices/+/pump/run", func(m broker.Message) {
		var env Envelope
		require.NoError(t, json.Unmarshal(m.Payload, &env))
		segs := splitTopic(m.Topic)
		respTopic := "devices/" + segs[1] + "/pump/response/" + env.RequestID
		body, _ := json.Marshal(Envelope{RequestID: env.RequestID, Result: "started"})
		require.NoError(t, b.Publish(context.Background(), respTopic, body))
	})
	require.NoError(t, err)

	e := NewEngine(b, "devices", time.Second, 1)
	result, callErr := e.Call(context.Background(), "espA", "pump/run", nil)
	require.NoError(t, callErr)
	assert.Equal(t, "started", result)
}

func TestEngineDropsResponseForUnknownRequestID(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	e := NewEngine(b, "", 30*time.Millisecond, 0)

	body, _ := json.Marshal(Envelope{RequestID: "stale-id", Result: "ignored"})
	require.NoError(t, b.Publish(context.Background(), "espA/pump/response/stale-id", body))

	_, err := e.Call(context.Background(), "espA", "pump/run", nil)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestEngineConcurrentCallsEachGetOwnResponse(t *testing.T) {
	t.Parallel()

	b := broker.NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))
	stubResponder(t, b, "+/pump/run", "ack")

	e := NewEngine(b, "", time.Second, 1)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.Call(context.Background(), "espA", "pump/run", nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Empty(t, e.pending)
}
