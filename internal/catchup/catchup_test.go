package catchup

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/transport/memory"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

func serveLog(c *memory.Conn, log *drawing.Log) {
	c.RegisterRPC(types.MethodGetDrawing, Handler(func(context.Context) ([]drawing.Line, error) {
		return log.Snapshot(), nil
	}))
}

func join(t *testing.T, n *memory.Network, id string) *memory.Conn {
	t.Helper()
	c, err := n.Join("room", transport.Participant{Identity: id})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFetch_TwoLinesAsSixteenBytes(t *testing.T) {
	n := memory.NewNetwork()
	p := join(t, n, "p")
	j := join(t, n, "j")

	first := drawing.Line{From: drawing.Point{X: 0, Y: 0}, To: drawing.Point{X: 1, Y: 1}}
	second := drawing.Line{From: drawing.Point{X: 1, Y: 1}, To: drawing.Point{X: 0, Y: 1}}
	log := drawing.NewLog()
	log.Append(first)
	log.Append(second)
	serveLog(p, log)

	body, err := j.PerformRPC(context.Background(), "p", types.MethodGetDrawing, "")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	assert.Len(t, raw, 16)

	lines, err := Fetch(context.Background(), j, "p")
	require.NoError(t, err)
	assert.Equal(t, []drawing.Line{first, second}, lines)
}

func TestFetch_EmptyDrawing(t *testing.T) {
	n := memory.NewNetwork()
	p := join(t, n, "p")
	j := join(t, n, "j")
	serveLog(p, drawing.NewLog())

	lines, err := Fetch(context.Background(), j, "p")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFetch_MalformedReply(t *testing.T) {
	n := memory.NewNetwork()
	p := join(t, n, "p")
	j := join(t, n, "j")
	p.RegisterRPC(types.MethodGetDrawing, func(context.Context, transport.Invocation) (string, error) {
		return base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), nil
	})

	_, err := Fetch(context.Background(), j, "p")
	assert.ErrorIs(t, err, drawing.ErrInvalidLineLength)
}

func TestHandler_PropagatesSnapshotError(t *testing.T) {
	h := Handler(func(context.Context) ([]drawing.Line, error) { return nil, errors.New("closed") })
	_, err := h(context.Background(), transport.Invocation{})
	assert.Error(t, err)
}

func TestFetchAll_PeerLeavingMidCallIsSkipped(t *testing.T) {
	n := memory.NewNetwork()
	j := join(t, n, "j")

	good := join(t, n, "good")
	log := drawing.NewLog()
	log.Append(drawing.Line{To: drawing.Point{X: 1, Y: 1}})
	serveLog(good, log)

	gone, err := n.Join("room", transport.Participant{Identity: "gone"})
	require.NoError(t, err)
	entered := make(chan struct{})
	gone.RegisterRPC(types.MethodGetDrawing, func(ctx context.Context, _ transport.Invocation) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	})
	go func() {
		<-entered
		_ = gone.Close()
	}()

	var mu sync.Mutex
	results := map[string]Result{}
	report := FetchAll(context.Background(), zap.NewNop(), j, []string{"gone", "good"}, time.Second, func(r Result) {
		mu.Lock()
		results[r.Peer] = r
		mu.Unlock()
	})

	assert.Equal(t, []string{"good"}, report.Loaded)
	require.Contains(t, report.Failed, "gone")
	assert.ErrorIs(t, report.Failed["gone"], transport.ErrParticipantDisconnected)
	assert.False(t, report.Complete())

	require.Len(t, results, 2)
	assert.Len(t, results["good"].Lines, 1)
	assert.Error(t, results["gone"].Err)
	assert.Empty(t, results["gone"].Lines)
}

func TestFetchAll_SlowPeerDoesNotDelayOthers(t *testing.T) {
	n := memory.NewNetwork()
	j := join(t, n, "j")
	fast := join(t, n, "fast")
	serveLog(fast, drawing.NewLog())

	slow := join(t, n, "slow")
	release := make(chan struct{})
	slow.RegisterRPC(types.MethodGetDrawing, func(ctx context.Context, _ transport.Invocation) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "", nil
	})

	fastDone := make(chan struct{})
	done := make(chan Report, 1)
	go func() {
		done <- FetchAll(context.Background(), zap.NewNop(), j, []string{"slow", "fast"}, 0, func(r Result) {
			if r.Peer == "fast" {
				close(fastDone)
			}
		})
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("fast peer was blocked behind slow peer")
	}
	close(release)

	select {
	case report := <-done:
		assert.Equal(t, []string{"fast", "slow"}, report.Loaded)
		assert.True(t, report.Complete())
	case <-time.After(time.Second):
		t.Fatal("FetchAll did not return")
	}
}

func TestFetchAll_TimeoutIsPerPeer(t *testing.T) {
	n := memory.NewNetwork()
	j := join(t, n, "j")
	stuck := join(t, n, "stuck")
	stuck.RegisterRPC(types.MethodGetDrawing, func(ctx context.Context, _ transport.Invocation) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	report := FetchAll(context.Background(), zap.NewNop(), j, []string{"stuck"}, 20*time.Millisecond, func(Result) {})
	assert.ErrorIs(t, report.Failed["stuck"], context.DeadlineExceeded)
}
