package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan Versioned[T], within time.Duration) Versioned[T] {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("watch channel closed unexpectedly")
		}
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Versioned[T]{}
	}
}

func TestStore_SetBumpsVersion(t *testing.T) {
	s := NewStore("idle")
	v, version := s.Get()
	assert.Equal(t, "idle", v)
	assert.Equal(t, uint64(0), version)

	assert.Equal(t, uint64(1), s.Set("running"))
	v, version = s.Get()
	assert.Equal(t, "running", v)
	assert.Equal(t, uint64(1), version)
}

func TestStore_SubscribeIsPrimedWithCurrentValue(t *testing.T) {
	s := NewStore(1)
	s.Set(2)

	ch, cancel := s.Subscribe()
	defer cancel()

	got := recv(t, ch, 100*time.Millisecond)
	assert.Equal(t, Versioned[int]{Version: 1, Value: 2}, got)
}

func TestStore_LaggingWatcherSeesLatest(t *testing.T) {
	s := NewStore(0)
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		s.Set(i)
	}

	got := recv(t, ch, 100*time.Millisecond)
	assert.Equal(t, 5, got.Value)
	assert.Equal(t, uint64(5), got.Version)
}

func TestStore_CancelClosesChannel(t *testing.T) {
	s := NewStore("x")
	ch, cancel := s.Subscribe()
	<-ch
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// no panic publishing after cancel
	s.Set("y")
}
