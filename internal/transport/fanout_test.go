package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestFanout_KeepsOrderWithoutBlockingProducer(t *testing.T) {
	f := NewFanout()
	ch, cancel := f.Subscribe()
	defer cancel()

	// nobody is reading yet; Emit must not block
	for i := 0; i < 500; i++ {
		f.Emit(MetadataChanged{Metadata: string(rune('a' + i%26))})
	}

	for i := 0; i < 500; i++ {
		ev := recvEvent(t, ch, time.Second)
		assert.Equal(t, MetadataChanged{Metadata: string(rune('a' + i%26))}, ev)
	}
}

func TestFanout_CloseDrainsThenEnds(t *testing.T) {
	f := NewFanout()
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Emit(MetadataChanged{Metadata: "x"})
	f.Close(Disconnected{})
	f.Emit(MetadataChanged{Metadata: "ignored"})

	assert.Equal(t, MetadataChanged{Metadata: "x"}, recvEvent(t, ch, time.Second))
	assert.Equal(t, Disconnected{}, recvEvent(t, ch, time.Second))

	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestFanout_SubscribeAfterClose(t *testing.T) {
	f := NewFanout()
	f.Close(nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("late subscription should be closed")
	}
}

func TestFanout_CancelStopsDelivery(t *testing.T) {
	f := NewFanout()
	ch, cancel := f.Subscribe()
	cancel()
	cancel()
	f.Emit(MetadataChanged{Metadata: "x"})

	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("cancelled subscription should be closed")
	}
}

func TestFanout_CancelAfterCloseReleasesPump(t *testing.T) {
	f := NewFanout()
	ch, cancel := f.Subscribe()
	f.Emit(MetadataChanged{Metadata: "a"})
	f.Emit(MetadataChanged{Metadata: "b"})
	f.Close(Disconnected{})

	// the subscriber stopped reading; cancel must still end the channel
	cancel()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-ch:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}
