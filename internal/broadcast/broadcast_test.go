package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/transport/memory"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

func seg(i int) drawing.Line {
	f := float64(i) / 100
	return drawing.Line{From: drawing.Point{X: f, Y: f}, To: drawing.Point{X: f + 0.01, Y: f + 0.01}}
}

// quantized returns what an observer holds after l crossed the wire.
func quantized(l drawing.Line) drawing.Line {
	buf := drawing.EncodeLine(l)
	out, _ := drawing.DecodeLine(buf[:])
	return out
}

func linePacket(sender string, l drawing.Line) transport.Packet {
	buf := drawing.EncodeLine(l)
	return transport.Packet{Sender: sender, Topic: types.TopicDrawLine, Payload: buf[:]}
}

func clearPacket(sender string) transport.Packet {
	return transport.Packet{Sender: sender, Topic: types.TopicClearDrawing}
}

func TestCache_CreatesPeerOnFirstContact(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Has("p"))

	handled, err := c.Apply(linePacket("p", seg(1)))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []drawing.Line{quantized(seg(1))}, c.Drawing("p"))
	assert.Equal(t, []string{"p"}, c.Peers())
}

func TestCache_ThreeLinesThenClearIsEmpty(t *testing.T) {
	c := NewCache()
	for i := 0; i < 3; i++ {
		_, err := c.Apply(linePacket("p", seg(i)))
		require.NoError(t, err)
	}
	require.Len(t, c.Drawing("p"), 3)

	_, err := c.Apply(clearPacket("p"))
	require.NoError(t, err)
	assert.Empty(t, c.Drawing("p"))
}

func TestCache_SendersAreIndependent(t *testing.T) {
	c := NewCache()
	// interleaving across senders is arbitrary; each sender's own order holds
	packets := []transport.Packet{
		linePacket("a", seg(1)),
		linePacket("b", seg(50)),
		linePacket("a", seg(2)),
		clearPacket("b"),
		linePacket("b", seg(51)),
		linePacket("a", seg(3)),
	}
	for _, p := range packets {
		_, err := c.Apply(p)
		require.NoError(t, err)
	}

	assert.Equal(t, []drawing.Line{quantized(seg(1)), quantized(seg(2)), quantized(seg(3))}, c.Drawing("a"))
	assert.Equal(t, []drawing.Line{quantized(seg(51))}, c.Drawing("b"))
}

func TestCache_RejectsMalformedLine(t *testing.T) {
	c := NewCache()
	_, err := c.Apply(linePacket("p", seg(1)))
	require.NoError(t, err)

	handled, err := c.Apply(transport.Packet{Sender: "p", Topic: types.TopicDrawLine, Payload: []byte{1, 2, 3}})
	assert.True(t, handled)
	assert.ErrorIs(t, err, drawing.ErrInvalidLineLength)
	assert.Len(t, c.Drawing("p"), 1)
}

func TestCache_IgnoresOtherTopics(t *testing.T) {
	c := NewCache()
	handled, err := c.Apply(transport.Packet{Sender: "host", Topic: types.TopicGuess, Payload: []byte("{}")})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.False(t, c.Has("host"))
}

func TestCache_InstallPrependsSnapshotToLiveLines(t *testing.T) {
	c := NewCache()
	c.Expect("p")
	assert.True(t, c.Pending("p"))

	// seg(2) was drawn before the snapshot but after we subscribed, so it
	// shows up both live and in the snapshot; seg(3) came after the snapshot.
	c.AppendLine("p", seg(2))
	c.AppendLine("p", seg(3))
	c.Install("p", []drawing.Line{seg(0), seg(1), seg(2)})

	assert.False(t, c.Pending("p"))
	assert.Equal(t, []drawing.Line{seg(0), seg(1), seg(2), seg(2), seg(3)}, c.Drawing("p"))
}

func TestCache_InstallAfterLiveClearKeepsLiveState(t *testing.T) {
	c := NewCache()
	c.Expect("p")
	c.AppendLine("p", seg(1))
	c.ClearPeer("p")
	c.AppendLine("p", seg(9))

	c.Install("p", []drawing.Line{seg(0), seg(1)})
	assert.Equal(t, []drawing.Line{seg(9)}, c.Drawing("p"))
}

func TestCache_ResetDiscardsInFlightSnapshot(t *testing.T) {
	c := NewCache()
	c.AppendLine("q", seg(4))
	c.Expect("p")
	c.Reset()

	assert.Empty(t, c.Drawing("q"))
	c.Install("p", []drawing.Line{seg(0)})
	assert.Empty(t, c.Drawing("p"))
}

func TestCache_AbandonKeepsLiveLinesOnly(t *testing.T) {
	c := NewCache()
	c.Expect("p")
	c.Abandon("p")
	assert.False(t, c.Pending("p"))
	assert.Empty(t, c.Drawing("p"))
	assert.True(t, c.Has("p"))

	c.Abandon("unknown")
	assert.False(t, c.Has("unknown"))
}

func TestCache_RemoveAndDiscard(t *testing.T) {
	c := NewCache()
	c.AppendLine("a", seg(1))
	c.AppendLine("b", seg(2))

	c.Remove("a")
	assert.Equal(t, []string{"b"}, c.Peers())

	c.Discard()
	assert.Empty(t, c.Peers())
	assert.Empty(t, c.Snapshot())
}

func TestPublisher_ObserverReplaysSenderSequence(t *testing.T) {
	n := memory.NewNetwork()
	p, err := n.Join("room", transport.Participant{Identity: "p"})
	require.NoError(t, err)
	defer p.Close()
	o, err := n.Join("room", transport.Participant{Identity: "o"})
	require.NoError(t, err)
	defer o.Close()

	events, cancel := o.Subscribe()
	defer cancel()

	ctx := context.Background()
	pub := NewPublisher(p)
	local := drawing.NewLog()
	ops := []func(){
		func() { local.Append(seg(1)); require.NoError(t, pub.Line(ctx, seg(1))) },
		func() { local.Append(seg(2)); require.NoError(t, pub.Line(ctx, seg(2))) },
		func() { local.Clear(); require.NoError(t, pub.Clear(ctx)) },
		func() { local.Append(seg(3)); require.NoError(t, pub.Line(ctx, seg(3))) },
	}
	for _, op := range ops {
		op()
	}

	cache := NewCache()
	for range ops {
		select {
		case ev := <-events:
			data, ok := ev.(transport.DataReceived)
			require.True(t, ok)
			_, err := cache.Apply(data.Packet)
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for packet")
		}
	}

	want := local.Snapshot()
	for i := range want {
		want[i] = quantized(want[i])
	}
	assert.Equal(t, want, cache.Drawing("p"))
}
