package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBrokerPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	err := b.Publish(context.Background(), "devices/a/status", []byte("x"))
	require.Error(t, err)
}

func TestMockBrokerExactTopic(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	var got Message
	_, err := b.Subscribe(context.Background(), "devices/a/status", func(m Message) {
		got = m
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("on")))
	assert.Equal(t, "devices/a/status", got.Topic)
	assert.Equal(t, []byte("on"), got.Payload)
}

func TestMockBrokerSingleLevelWildcard(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	var calls int
	_, err := b.Subscribe(context.Background(), "devices/+/status", func(Message) {
		calls++
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("on")))
	require.NoError(t, b.Publish(context.Background(), "devices/b/status", []byte("on")))
	require.NoError(t, b.Publish(context.Background(), "devices/a/b/status", []byte("on")))

	assert.Equal(t, 2, calls)
}

func TestMockBrokerMultiLevelWildcard(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	var topics []string
	_, err := b.Subscribe(context.Background(), "devices/#", func(m Message) {
		topics = append(topics, m.Topic)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("on")))
	require.NoError(t, b.Publish(context.Background(), "devices/a/b/c/status", []byte("on")))
	require.NoError(t, b.Publish(context.Background(), "other/a/status", []byte("on")))

	assert.Equal(t, []string{"devices/a/status", "devices/a/b/c/status"}, topics)
}

func TestMockBrokerUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	var calls int
	unsub, err := b.Subscribe(context.Background(), "devices/a/status", func(Message) {
		calls++
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("on")))
	require.NoError(t, unsub())
	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("off")))

	assert.Equal(t, 1, calls)
}

func TestMockBrokerMultipleSubscribersBothFire(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))

	var a, c int
	_, err := b.Subscribe(context.Background(), "devices/+/status", func(Message) { a++ })
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), "devices/a/status", func(Message) { c++ })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "devices/a/status", []byte("on")))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, c)
}

func TestMockBrokerCloseResetsState(t *testing.T) {
	t.Parallel()

	b := NewMockBroker()
	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, b.IsConnected())

	require.NoError(t, b.Close())
	assert.False(t, b.IsConnected())

	err := b.Publish(context.Background(), "devices/a/status", []byte("on"))
	require.Error(t, err)
}

func TestTopicMatchesFilter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"devices/a/status", "devices/a/status", true},
		{"devices/+/status", "devices/a/status", true},
		{"devices/+/status", "devices/a/b/status", false},
		{"devices/#", "devices/a/b/status", true},
		{"devices/#", "other/a/status", false},
		{"devices/a/status", "devices/b/status", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, topicMatchesFilter(tc.filter, tc.topic), "%s vs %s", tc.filter, tc.topic)
	}
}
