package lobby

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/types"
)

var ErrIdentityTaken = errors.New("identity already in lobby")
var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

type Join struct {
	Member transport.Participant
	Outbox chan types.Frame // frames for this member; closed when dropped
	Reply  chan error
}

func (Join) isLobbyMsg() {}

type Leave struct{ Identity string }

func (Leave) isLobbyMsg() {}

// FromClient is a frame read from a member's socket.
type FromClient struct {
	From  string
	Frame types.Frame
}

func (FromClient) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// CloseIfEmpty shuts the lobby down if it has no members and reports
// whether it did.
type CloseIfEmpty struct {
	Reply chan bool
}

func (CloseIfEmpty) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Code     string
	Members  []transport.Participant
	Metadata string
	Pending  int
}

type member struct {
	info   transport.Participant
	outbox chan types.Frame
}

type call struct {
	caller string
	callee string
}

type pendingKey struct {
	caller string
	id     string
}

type Lobby struct {
	code     string
	log      *zap.Logger
	inbox    chan Msg
	members  map[string]*member
	order    []string
	metadata string
	pending  map[pendingKey]call
	onEmpty  func(code string)
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLobby starts the lobby actor. onEmpty, if set, runs on the lobby
// goroutine when the last member leaves and must not block.
func NewLobby(parent context.Context, code string, log *zap.Logger, onEmpty func(code string)) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:    code,
		log:     log.With(zap.String("lobby", code)),
		inbox:   make(chan Msg, 256),
		members: make(map[string]*member),
		pending: make(map[pendingKey]call),
		onEmpty: onEmpty,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

// Inbox exposes the lobby's message channel to the socket layer and tests.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby is gone.
func (l *Lobby) Send(ctx context.Context, m Msg) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- l.join(msg)

			case Leave:
				l.remove(msg.Identity)

			case FromClient:
				l.route(msg.From, msg.Frame)

			case GetState:
				msg.Reply <- l.view()

			case CloseIfEmpty:
				empty := len(l.members) == 0
				msg.Reply <- empty
				if empty {
					l.shutdown()
					return
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) error {
	id := msg.Member.Identity
	if _, taken := l.members[id]; taken {
		return ErrIdentityTaken
	}

	others := make([]transport.Participant, 0, len(l.order))
	for _, other := range l.order {
		others = append(others, l.members[other].info)
	}

	meta := l.metadata
	l.members[id] = &member{info: msg.Member, outbox: msg.Outbox}
	l.order = append(l.order, id)

	self := msg.Member
	l.send(id, types.Frame{
		Type:         types.FrameWelcome,
		Participant:  &self,
		Participants: others,
		Metadata:     &meta,
	})
	l.broadcast(id, types.Frame{Type: types.FrameJoined, Participant: &self})
	l.log.Info("member joined", zap.String("identity", id), zap.String("kind", string(msg.Member.Kind)))
	return nil
}

func (l *Lobby) route(from string, f types.Frame) {
	sender, ok := l.members[from]
	if !ok {
		return
	}
	f.From = from

	switch f.Type {
	case types.FrameData:
		l.broadcast(from, types.Frame{Type: types.FrameData, From: from, Topic: f.Topic, Payload: f.Payload})

	case types.FrameRPCRequest:
		if f.RequestID == "" {
			l.reject(from, types.CodeBadFrame, "rpc request without id")
			return
		}
		if _, ok := l.members[f.To]; !ok || f.To == from {
			l.send(from, types.Frame{
				Type:      types.FrameRPCResponse,
				From:      f.To,
				RequestID: f.RequestID,
				Error:     "participant not found",
				ErrorCode: types.CodeNotFound,
			})
			return
		}
		l.pending[pendingKey{caller: from, id: f.RequestID}] = call{caller: from, callee: f.To}
		l.send(f.To, types.Frame{
			Type:      types.FrameRPCRequest,
			From:      from,
			RequestID: f.RequestID,
			Method:    f.Method,
			Body:      f.Body,
		})

	case types.FrameRPCResponse:
		key := pendingKey{caller: f.To, id: f.RequestID}
		c, ok := l.pending[key]
		if !ok || c.callee != from {
			l.log.Debug("dropping unmatched rpc response", zap.String("from", from), zap.String("request_id", f.RequestID))
			return
		}
		delete(l.pending, key)
		l.send(c.caller, types.Frame{
			Type:      types.FrameRPCResponse,
			From:      from,
			RequestID: f.RequestID,
			Body:      f.Body,
			Error:     f.Error,
			ErrorCode: f.ErrorCode,
		})

	case types.FrameSetMetadata:
		if !sender.info.IsAgent() {
			l.reject(from, types.CodeForbidden, "only agents may set metadata")
			return
		}
		if f.Metadata == nil {
			l.reject(from, types.CodeBadFrame, "set_metadata without metadata")
			return
		}
		l.metadata = *f.Metadata
		meta := l.metadata
		for _, id := range l.order {
			l.send(id, types.Frame{Type: types.FrameMetadata, From: from, Metadata: &meta})
		}

	default:
		l.reject(from, types.CodeBadFrame, "unknown frame type "+f.Type)
	}
}

func (l *Lobby) reject(to, code, message string) {
	l.send(to, types.Frame{Type: types.FrameError, ErrorCode: code, Error: message})
}

// remove drops a member, fails the calls waiting on it and forgets the
// calls it made.
func (l *Lobby) remove(id string) {
	m, ok := l.members[id]
	if !ok {
		return
	}
	delete(l.members, id)
	for i, other := range l.order {
		if other == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	close(m.outbox)

	for key, c := range l.pending {
		switch {
		case c.caller == id:
			delete(l.pending, key)
		case c.callee == id:
			delete(l.pending, key)
			l.send(c.caller, types.Frame{
				Type:      types.FrameRPCResponse,
				From:      id,
				RequestID: key.id,
				Error:     "participant disconnected",
				ErrorCode: types.CodeDisconnected,
			})
		}
	}

	info := m.info
	l.broadcast(id, types.Frame{Type: types.FrameLeft, Participant: &info})
	l.log.Info("member left", zap.String("identity", id))

	if len(l.members) == 0 && l.onEmpty != nil {
		l.onEmpty(l.code)
	}
}

func (l *Lobby) send(id string, f types.Frame) {
	m, ok := l.members[id]
	if !ok {
		return
	}
	select {
	case m.outbox <- f:
	default:
		// Member is slow/full - drop them.
		l.log.Warn("dropping slow member", zap.String("identity", id))
		l.remove(id)
	}
}

func (l *Lobby) broadcast(except string, f types.Frame) {
	// copy: send may remove members while we iterate
	ids := append([]string(nil), l.order...)
	for _, id := range ids {
		if id != except {
			l.send(id, f)
		}
	}
}

func (l *Lobby) view() View {
	members := make([]transport.Participant, 0, len(l.members))
	for _, m := range l.members {
		members = append(members, m.info)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Identity < members[j].Identity })
	return View{Code: l.code, Members: members, Metadata: l.metadata, Pending: len(l.pending)}
}

func (l *Lobby) shutdown() {
	for id, m := range l.members {
		close(m.outbox) // Tell client no more frames
		delete(l.members, id)
	}
	l.order = nil
	clear(l.pending)
	l.cancel()
}
