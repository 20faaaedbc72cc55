package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	a := hub.Subscribe("session:1")
	b := hub.Subscribe("session:1")
	other := hub.Subscribe("session:2")
	assert.Equal(t, 2, hub.Subscribers("session:1"))

	require.NoError(t, hub.Broadcast(context.Background(), "session:1", map[string]bool{"approved": true}))

	for _, sub := range []*Subscription{a, b} {
		select {
		case msg := <-sub.C():
			var got map[string]bool
			require.NoError(t, json.Unmarshal(msg, &got))
			assert.True(t, got["approved"])
		default:
			t.Fatal("expected message")
		}
	}

	select {
	case <-other.C():
		t.Fatal("message leaked to another channel")
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("session:1")

	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Subscribers("session:1"))

	_, open := <-sub.C()
	assert.False(t, open)

	// Повторная отписка безопасна
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Deliver("session:1", []byte(`{}`)))
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("session:1")

	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, 1, hub.Deliver("session:1", []byte(`{}`)))
	}
	assert.Equal(t, 0, hub.Deliver("session:1", []byte(`{}`)))
	assert.Len(t, sub.C(), subscriberBuffer)
}

func TestChannelNames(t *testing.T) {
	local, ok := localChannel(redisChannel("session:abc"))
	assert.True(t, ok)
	assert.Equal(t, "session:abc", local)

	_, ok = localChannel("other:session:abc")
	assert.False(t, ok)
}
