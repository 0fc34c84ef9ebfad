package stream

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) (*RedisRelay, *Hub) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	h := New(0)
	return NewRedisRelay(rdb, h), h
}

func TestRelayDeliversRemoteMessages(t *testing.T) {
	relay, h := newTestRelay(t)
	rec := &recorder{}
	cancel, err := h.Subscribe("A", nil, rec.fn)
	require.NoError(t, err)
	defer cancel()

	other, _ := newTestRelay(t)
	payload, err := other.encode("A", sampleAt(7))
	require.NoError(t, err)

	delivered, err := relay.handle(ChannelPrefix+"A", string(payload))
	require.NoError(t, err)
	assert.True(t, delivered)
	require.Eventually(t, func() bool { return len(rec.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(7), rec.values()[0].CapturedAt)
}

func TestRelaySkipsOwnMessages(t *testing.T) {
	relay, _ := newTestRelay(t)
	payload, err := relay.encode("A", sampleAt(1))
	require.NoError(t, err)
	delivered, err := relay.handle(ChannelPrefix+"A", string(payload))
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestRelayRejectsMismatchedChannel(t *testing.T) {
	relay, _ := newTestRelay(t)
	other, _ := newTestRelay(t)
	payload, err := other.encode("A", sampleAt(1))
	require.NoError(t, err)
	_, err = relay.handle(ChannelPrefix+"B", string(payload))
	assert.Error(t, err)
	_, err = relay.handle(ChannelPrefix+"A", "{not json")
	assert.Error(t, err)
}
