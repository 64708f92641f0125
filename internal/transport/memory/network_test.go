package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/drawsync/internal/transport"
)

func recvEvent(t *testing.T, ch <-chan transport.Event, within time.Duration) transport.Event {
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

func join(t *testing.T, n *Network, identity string, kind transport.Kind) *Conn {
	t.Helper()
	c, err := n.Join("room", transport.Participant{Identity: identity, Kind: kind})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNetwork_DuplicateIdentityRejected(t *testing.T) {
	n := NewNetwork()
	join(t, n, "alice", transport.KindStandard)
	_, err := n.Join("room", transport.Participant{Identity: "alice"})
	assert.ErrorIs(t, err, ErrIdentityTaken)
}

func TestNetwork_PublishIsOrderedPerSenderAndSkipsSelf(t *testing.T) {
	n := NewNetwork()
	alice := join(t, n, "alice", transport.KindStandard)
	bob := join(t, n, "bob", transport.KindStandard)

	aliceEvents, cancelA := alice.Subscribe()
	defer cancelA()
	bobEvents, cancelB := bob.Subscribe()
	defer cancelB()

	ctx := context.Background()
	for i := byte(0); i < 10; i++ {
		require.NoError(t, alice.Publish(ctx, "t", []byte{i}))
	}

	for i := byte(0); i < 10; i++ {
		ev := recvEvent(t, bobEvents, time.Second)
		data, ok := ev.(transport.DataReceived)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, "alice", data.Packet.Sender)
		assert.Equal(t, []byte{i}, data.Packet.Payload)
	}

	select {
	case ev := <-aliceEvents:
		t.Fatalf("sender received its own packet: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNetwork_PresenceEvents(t *testing.T) {
	n := NewNetwork()
	alice := join(t, n, "alice", transport.KindStandard)
	events, cancel := alice.Subscribe()
	defer cancel()

	bob, err := n.Join("room", transport.Participant{Identity: "bob"})
	require.NoError(t, err)

	ev := recvEvent(t, events, time.Second)
	assert.Equal(t, transport.ParticipantConnected{Participant: transport.Participant{Identity: "bob", Kind: transport.KindStandard}}, ev)
	assert.Equal(t, []transport.Participant{{Identity: "bob", Kind: transport.KindStandard}}, alice.Remote())

	require.NoError(t, bob.Close())
	ev = recvEvent(t, events, time.Second)
	_, ok := ev.(transport.ParticipantDisconnected)
	assert.True(t, ok, "got %T", ev)
	assert.Empty(t, alice.Remote())
}

func TestNetwork_RPC(t *testing.T) {
	n := NewNetwork()
	alice := join(t, n, "alice", transport.KindStandard)
	bob := join(t, n, "bob", transport.KindStandard)

	bob.RegisterRPC("echo", func(ctx context.Context, inv transport.Invocation) (string, error) {
		return inv.Caller + ":" + inv.Payload, nil
	})
	bob.RegisterRPC("fail", func(ctx context.Context, inv transport.Invocation) (string, error) {
		return "", errors.New("boom")
	})

	ctx := context.Background()
	got, err := alice.PerformRPC(ctx, "bob", "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "alice:hi", got)

	_, err = alice.PerformRPC(ctx, "bob", "fail", "")
	var rpcErr *transport.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "boom", rpcErr.Message)

	_, err = alice.PerformRPC(ctx, "bob", "missing", "")
	assert.ErrorIs(t, err, transport.ErrUnsupportedMethod)

	_, err = alice.PerformRPC(ctx, "carol", "echo", "")
	assert.ErrorIs(t, err, transport.ErrParticipantNotFound)

	bob.UnregisterRPC("echo")
	_, err = alice.PerformRPC(ctx, "bob", "echo", "")
	assert.ErrorIs(t, err, transport.ErrUnsupportedMethod)
}

func TestNetwork_RPCFailsWhenCalleeLeavesMidCall(t *testing.T) {
	n := NewNetwork()
	alice := join(t, n, "alice", transport.KindStandard)
	bob, err := n.Join("room", transport.Participant{Identity: "bob"})
	require.NoError(t, err)

	entered := make(chan struct{})
	bob.RegisterRPC("slow", func(ctx context.Context, inv transport.Invocation) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	})

	go func() {
		<-entered
		_ = bob.Close()
	}()

	_, err = alice.PerformRPC(context.Background(), "bob", "slow", "")
	assert.ErrorIs(t, err, transport.ErrParticipantDisconnected)
}

func TestNetwork_RPCRespectsCallerContext(t *testing.T) {
	n := NewNetwork()
	alice := join(t, n, "alice", transport.KindStandard)
	bob := join(t, n, "bob", transport.KindStandard)
	bob.RegisterRPC("slow", func(ctx context.Context, inv transport.Invocation) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := alice.PerformRPC(ctx, "bob", "slow", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNetwork_MetadataWritableByAgentsOnly(t *testing.T) {
	n := NewNetwork()
	host := join(t, n, "host", transport.KindAgent)
	alice := join(t, n, "alice", transport.KindStandard)

	events, cancel := alice.Subscribe()
	defer cancel()

	ctx := context.Background()
	assert.ErrorIs(t, alice.SetMetadata(ctx, "nope"), transport.ErrForbidden)

	require.NoError(t, host.SetMetadata(ctx, `{"started":true}`))
	assert.Equal(t, transport.MetadataChanged{Metadata: `{"started":true}`}, recvEvent(t, events, time.Second))
	assert.Equal(t, `{"started":true}`, alice.Metadata())
	assert.Equal(t, `{"started":true}`, n.Metadata("room"))
}

func TestNetwork_CloseEndsSubscriptionAndReleasesRoom(t *testing.T) {
	n := NewNetwork()
	host, err := n.Join("room", transport.Participant{Identity: "host", Kind: transport.KindAgent})
	require.NoError(t, err)
	require.NoError(t, host.SetMetadata(context.Background(), "x"))

	events, cancel := host.Subscribe()
	defer cancel()
	require.NoError(t, host.Close())

	for range events {
	}

	assert.ErrorIs(t, host.Publish(context.Background(), "t", nil), transport.ErrClosed)
	assert.Equal(t, "", n.Metadata("room"), "empty room should be dropped with its metadata")
}
