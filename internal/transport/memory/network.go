// Package memory is an in-process realtime substrate. Every room member
// gets reliable, per-sender ordered delivery, RPC between members and a
// shared metadata blob writable by agents.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/DoyleJ11/drawsync/internal/transport"
)

var ErrIdentityTaken = errors.New("identity already in room")

type Network struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewNetwork() *Network {
	return &Network{rooms: make(map[string]*room)}
}

type room struct {
	name     string
	mu       sync.Mutex
	members  map[string]*Conn
	metadata string
}

// Join connects p to the named room, creating it if needed.
func (n *Network) Join(roomName string, p transport.Participant) (*Conn, error) {
	if p.Kind == "" {
		p.Kind = transport.KindStandard
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.rooms[roomName]
	if !ok {
		r = &room{name: roomName, members: make(map[string]*Conn)}
		n.rooms[roomName] = r
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.members[p.Identity]; taken {
		return nil, fmt.Errorf("%w: %s", ErrIdentityTaken, p.Identity)
	}

	c := &Conn{
		net:      n,
		room:     r,
		self:     p,
		fanout:   transport.NewFanout(),
		handlers: make(map[string]transport.RPCHandler),
		closed:   make(chan struct{}),
	}
	for _, m := range r.members {
		m.fanout.Emit(transport.ParticipantConnected{Participant: p})
	}
	r.members[p.Identity] = c
	return c, nil
}

// Metadata returns a room's blob, mainly for tests.
func (n *Network) Metadata(roomName string) string {
	n.mu.Lock()
	r, ok := n.rooms[roomName]
	n.mu.Unlock()
	if !ok {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

func (n *Network) release(r *room) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty && n.rooms[r.name] == r {
		delete(n.rooms, r.name)
	}
}

// Conn is one member's handle on a room. It implements transport.Room.
type Conn struct {
	net    *Network
	room   *room
	self   transport.Participant
	fanout *transport.Fanout

	mu       sync.RWMutex
	handlers map[string]transport.RPCHandler

	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.Room = (*Conn)(nil)

func (c *Conn) Local() transport.Participant { return c.self }

func (c *Conn) Remote() []transport.Participant {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	out := make([]transport.Participant, 0, len(c.room.members))
	for id, m := range c.room.members {
		if id != c.self.Identity {
			out = append(out, m.self)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return transport.ErrClosed
	}

	// The room lock serialises publishes, which keeps each sender's
	// packets in order at every receiver.
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	for id, m := range c.room.members {
		if id == c.self.Identity {
			continue
		}
		m.fanout.Emit(transport.DataReceived{Packet: transport.Packet{
			Sender:  c.self.Identity,
			Topic:   topic,
			Payload: slices.Clone(payload),
		}})
	}
	return nil
}

func (c *Conn) RegisterRPC(method string, h transport.RPCHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

func (c *Conn) UnregisterRPC(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, method)
}

func (c *Conn) handler(method string) transport.RPCHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[method]
}

type rpcResult struct {
	body string
	err  error
}

func (c *Conn) PerformRPC(ctx context.Context, destination, method, payload string) (string, error) {
	if c.isClosed() {
		return "", transport.ErrClosed
	}

	c.room.mu.Lock()
	dest, ok := c.room.members[destination]
	c.room.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrParticipantNotFound)
	}

	h := dest.handler(method)
	if h == nil {
		return "", fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrUnsupportedMethod)
	}

	// The callee's context ends when either side goes away.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-dest.closed:
			cancel()
		case <-callCtx.Done():
		}
	}()

	done := make(chan rpcResult, 1)
	go func() {
		body, err := h(callCtx, transport.Invocation{Caller: c.self.Identity, Method: method, Payload: payload})
		done <- rpcResult{body: body, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && dest.isClosed() {
			return "", fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrParticipantDisconnected)
		}
		if res.err != nil && ctx.Err() != nil {
			return "", fmt.Errorf("rpc %s to %s: %w", method, destination, ctx.Err())
		}
		if res.err != nil {
			return "", &transport.RPCError{Method: method, Message: res.err.Error()}
		}
		return res.body, nil
	case <-dest.closed:
		return "", fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrParticipantDisconnected)
	case <-c.closed:
		return "", transport.ErrClosed
	case <-ctx.Done():
		return "", fmt.Errorf("rpc %s to %s: %w", method, destination, ctx.Err())
	}
}

func (c *Conn) Metadata() string {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.room.metadata
}

func (c *Conn) SetMetadata(ctx context.Context, metadata string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return transport.ErrClosed
	}
	if !c.self.IsAgent() {
		return fmt.Errorf("set metadata: %w", transport.ErrForbidden)
	}

	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	c.room.metadata = metadata
	for _, m := range c.room.members {
		m.fanout.Emit(transport.MetadataChanged{Metadata: metadata})
	}
	return nil
}

func (c *Conn) Subscribe() (<-chan transport.Event, func()) {
	return c.fanout.Subscribe()
}

// Close leaves the room. Pending RPCs addressed to this member fail with
// ErrParticipantDisconnected.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.room.mu.Lock()
		delete(c.room.members, c.self.Identity)
		for _, m := range c.room.members {
			m.fanout.Emit(transport.ParticipantDisconnected{Participant: c.self})
		}
		c.room.mu.Unlock()

		close(c.closed)
		c.fanout.Close(transport.Disconnected{})
		c.net.release(c.room)
	})
	return nil
}
