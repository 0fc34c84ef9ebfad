package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locshare.org/internal/location"
)

type recorder struct {
	mu   sync.Mutex
	got  []*location.Sample
	gate chan struct{}
}

func (r *recorder) fn(s *location.Sample) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) values() []*location.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*location.Sample, len(r.got))
	copy(out, r.got)
	return out
}

func sampleAt(ts int64) *location.Sample {
	return &location.Sample{UserID: "A", Latitude: 1, Longitude: 2, CapturedAt: ts}
}

func TestHubDeliversSeedThenUpdatesInOrder(t *testing.T) {
	h := New(0)
	rec := &recorder{}
	cancel, err := h.Subscribe("A", func() (*location.Sample, error) { return nil, nil }, rec.fn)
	require.NoError(t, err)
	defer cancel()

	for i := int64(1); i <= 3; i++ {
		h.Publish("A", sampleAt(i))
	}
	h.Publish("B", sampleAt(99))

	require.Eventually(t, func() bool { return len(rec.values()) == 4 }, time.Second, 5*time.Millisecond)
	got := rec.values()
	assert.Nil(t, got[0])
	for i := 1; i <= 3; i++ {
		assert.Equal(t, int64(i), got[i].CapturedAt)
	}
}

func TestHubSeedError(t *testing.T) {
	h := New(0)
	boom := errors.New("boom")
	_, err := h.Subscribe("A", func() (*location.Sample, error) { return nil, boom }, func(*location.Sample) {})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.Subscribers("A"))
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := New(0)
	rec := &recorder{}
	cancel, err := h.Subscribe("A", nil, rec.fn)
	require.NoError(t, err)
	h.Publish("A", sampleAt(1))
	require.Eventually(t, func() bool { return len(rec.values()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers("A"))
	h.Publish("A", sampleAt(2))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.values(), 1)
}

func TestHubSlowSubscriberKeepsNewest(t *testing.T) {
	h := New(2)
	rec := &recorder{gate: make(chan struct{})}
	cancel, err := h.Subscribe("A", nil, rec.fn)
	require.NoError(t, err)
	defer cancel()

	// The first publication is picked up and blocks on the gate; the rest
	// overflow the two-slot mailbox.
	h.Publish("A", sampleAt(1))
	time.Sleep(20 * time.Millisecond)
	for i := int64(2); i <= 6; i++ {
		h.Publish("A", sampleAt(i))
	}
	close(rec.gate)

	require.Eventually(t, func() bool { return len(rec.values()) == 3 }, time.Second, 5*time.Millisecond)
	got := rec.values()
	assert.Equal(t, int64(1), got[0].CapturedAt)
	assert.Equal(t, int64(5), got[1].CapturedAt)
	assert.Equal(t, int64(6), got[2].CapturedAt)
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New(1)
	slow := &recorder{gate: make(chan struct{})}
	fast := &recorder{}
	c1, err := h.Subscribe("A", nil, slow.fn)
	require.NoError(t, err)
	defer c1()
	c2, err := h.Subscribe("A", nil, fast.fn)
	require.NoError(t, err)
	defer c2()

	for i := int64(1); i <= 10; i++ {
		h.Publish("A", sampleAt(i))
	}
	require.Eventually(t, func() bool {
		v := fast.values()
		return len(v) > 0 && v[len(v)-1].CapturedAt == 10
	}, time.Second, 5*time.Millisecond)
	close(slow.gate)
}

func TestHubForwarder(t *testing.T) {
	h := New(0)
	var forwarded []string
	h.SetForwarder(func(userID string, s *location.Sample) { forwarded = append(forwarded, userID) })
	h.Publish("A", sampleAt(1))
	h.Deliver("B", sampleAt(1))
	assert.Equal(t, []string{"A"}, forwarded)
}
