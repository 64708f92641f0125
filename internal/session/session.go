package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/broadcast"
	"github.com/DoyleJ11/drawsync/internal/catchup"
	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/engine"
	"github.com/DoyleJ11/drawsync/internal/guess"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/watch"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

var ErrNoHost = errors.New("no host present")
var ErrNotDrawing = errors.New("drawing is disabled outside a running round")
var ErrClosed = errors.New("session closed")
var ErrAlreadyJoined = errors.New("session already joined")

// KickedError ends a session removed by the host.
type KickedError struct {
	Reason string
}

func (e *KickedError) Error() string { return "kicked: " + e.Reason }

type Options struct {
	// RPCTimeout bounds each catch-up fetch and each host command.
	RPCTimeout time.Duration
}

const DefaultRPCTimeout = 5 * time.Second

// Session is a drawing player in a room. All of its state is owned by one
// goroutine; public methods talk to it through the inbox.
type Session struct {
	room transport.Room
	log  *zap.Logger
	opts Options
	pub  *broadcast.Publisher
	game *watch.Store[engine.State]

	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	joinOnce sync.Once

	errMu sync.Mutex
	err   error

	// loop-owned
	state   engine.State
	local   *drawing.Log
	peers   *broadcast.Cache
	guesses guess.Table
	members map[string]transport.Participant
}

func New(room transport.Room, log *zap.Logger, opts Options) *Session {
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = DefaultRPCTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		room:    room,
		log:     log.With(zap.String("identity", room.Local().Identity)),
		opts:    opts,
		pub:     broadcast.NewPublisher(room),
		game:    watch.NewStore(engine.NewState()),
		inbox:   make(chan Msg, 64),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   engine.NewState(),
		local:   drawing.NewLog(),
		peers:   broadcast.NewCache(),
		guesses: guess.Table{},
		members: make(map[string]transport.Participant),
	}
}

// Join starts the event loop and recovers the drawings of players already
// in the room. Live events are subscribed to before any catch-up RPC is
// issued, so strokes drawn during the round trip are never lost (they may
// show up twice). Peers that fail to answer are skipped.
func (s *Session) Join(ctx context.Context) (catchup.Report, error) {
	first := false
	s.joinOnce.Do(func() { first = true })
	if !first {
		return catchup.Report{}, ErrAlreadyJoined
	}

	events, unsubscribe := s.room.Subscribe()

	for _, p := range s.room.Remote() {
		s.members[p.Identity] = p
	}
	if st, err := engine.ParseMetadata(s.room.Metadata()); err != nil {
		s.log.Warn("ignoring room metadata", zap.Error(err))
	} else {
		s.state = st
		s.game.Set(st)
	}

	// members belongs to the loop once it starts.
	peers := make([]string, 0, len(s.members))
	for id, p := range s.members {
		if !p.IsAgent() {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)

	go s.loop(events, unsubscribe)

	s.room.RegisterRPC(types.MethodGetDrawing, catchup.Handler(s.snapshot))
	s.room.RegisterRPC(types.MethodKick, s.handleKick)

	reply := make(chan struct{}, 1)
	if err := s.post(ctx, ExpectCatchUp{Peers: peers, Reply: reply}); err != nil {
		return catchup.Report{}, err
	}
	if err := s.await(ctx, reply); err != nil {
		return catchup.Report{}, err
	}

	report := catchup.FetchAll(ctx, s.log, s.room, peers, s.opts.RPCTimeout, func(r catchup.Result) {
		_ = s.post(s.ctx, CaughtUp{Result: r})
	})
	if len(report.Failed) > 0 {
		s.log.Info("joined with partial history", zap.Int("loaded", len(report.Loaded)), zap.Int("failed", len(report.Failed)))
	}
	return report, nil
}

// Leave disconnects and drops every cached drawing.
func (s *Session) Leave() error {
	s.cancel()
	s.room.UnregisterRPC(types.MethodGetDrawing)
	s.room.UnregisterRPC(types.MethodKick)
	err := s.room.Close()
	s.joinOnce.Do(func() { close(s.done) })
	<-s.done
	return err
}

// Done is closed when the session stops, see Err for why.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped: nil while running or after Leave,
// a *KickedError, or the transport error.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) Identity() string { return s.room.Local().Identity }

// WatchGame streams game state versions, starting with the current one.
func (s *Session) WatchGame() (<-chan watch.Versioned[engine.State], func()) {
	return s.game.Subscribe()
}

func (s *Session) Game() engine.State {
	st, _ := s.game.Get()
	return st
}

func (s *Session) post(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) await(ctx context.Context, reply <-chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func request[T any](ctx context.Context, s *Session, m Msg, reply chan T) (T, error) {
	var zero T
	if err := s.post(ctx, m); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// DrawLine appends l to the local drawing and publishes it.
func (s *Session) DrawLine(ctx context.Context, l drawing.Line) error {
	reply := make(chan error, 1)
	err, postErr := request(ctx, s, DrawLine{Line: l, Reply: reply}, reply)
	if postErr != nil {
		return postErr
	}
	return err
}

// Clear empties the local drawing and tells everyone.
func (s *Session) Clear(ctx context.Context) error {
	reply := make(chan error, 1)
	err, postErr := request(ctx, s, ClearDrawing{Reply: reply}, reply)
	if postErr != nil {
		return postErr
	}
	return err
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return request(ctx, s, GetView{Reply: reply}, reply)
}

func (s *Session) hostInfo(ctx context.Context) (HostInfo, error) {
	reply := make(chan HostInfo, 1)
	return request(ctx, s, GetHost{Reply: reply}, reply)
}

func (s *Session) snapshot(ctx context.Context) ([]drawing.Line, error) {
	reply := make(chan []drawing.Line, 1)
	return request(ctx, s, GetDrawing{Reply: reply}, reply)
}

func (s *Session) handleKick(ctx context.Context, inv transport.Invocation) (string, error) {
	var req types.KickRequest
	if err := decodeJSON(inv.Payload, &req); err != nil {
		return "", err
	}
	if err := s.post(ctx, Kicked{Reason: req.Reason}); err != nil {
		return "", err
	}
	return "", nil
}

func (s *Session) loop(events <-chan transport.Event, unsubscribe func()) {
	defer func() {
		unsubscribe()
		s.peers.Discard()
		s.local.Clear()
		s.guesses = guess.Table{}
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				if s.ctx.Err() == nil {
					s.setErr(transport.ErrClosed)
				}
				return
			}
			if stop := s.handleEvent(ev); stop {
				return
			}

		case m := <-s.inbox:
			if stop := s.handleMsg(m); stop {
				return
			}
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) bool {
	switch e := ev.(type) {
	case transport.DataReceived:
		s.handlePacket(e.Packet)

	case transport.ParticipantConnected:
		s.members[e.Participant.Identity] = e.Participant

	case transport.ParticipantDisconnected:
		delete(s.members, e.Participant.Identity)
		s.peers.Remove(e.Participant.Identity)

	case transport.MetadataChanged:
		s.applyMetadata(e.Metadata)

	case transport.Disconnected:
		err := e.Err
		if err == nil {
			err = transport.ErrClosed
		}
		if s.ctx.Err() == nil {
			s.setErr(err)
		}
		s.log.Info("disconnected from room", zap.Error(err))
		return true
	}
	return false
}

func (s *Session) handlePacket(p transport.Packet) {
	sender, known := s.members[p.Sender]

	if p.Topic == types.TopicGuess {
		if !known || !sender.IsAgent() {
			s.log.Debug("dropping guesses from non-host", zap.String("sender", p.Sender))
			return
		}
		table, err := guess.Decode(p.Payload)
		if err != nil {
			s.log.Warn("bad guess payload", zap.String("sender", p.Sender), zap.Error(err))
			return
		}
		s.guesses = table
		return
	}

	if known && sender.IsAgent() {
		return
	}
	handled, err := s.peers.Apply(p)
	if err != nil {
		s.log.Warn("rejected drawing packet", zap.String("sender", p.Sender), zap.String("topic", p.Topic), zap.Error(err))
		return
	}
	if !handled {
		s.log.Debug("ignoring packet", zap.String("sender", p.Sender), zap.String("topic", p.Topic))
	}
}

func (s *Session) applyMetadata(blob string) {
	next, err := engine.ParseMetadata(blob)
	if err != nil {
		s.log.Warn("ignoring room metadata", zap.Error(err))
		return
	}
	prev := s.state
	s.state = next
	s.game.Set(next)
	if prev.Started != next.Started {
		s.onTransition(prev.Phase(), next.Phase())
	}
}

// onTransition runs whenever a round starts or stops. Drawings belong to a
// single round.
func (s *Session) onTransition(from, to engine.Phase) {
	s.log.Debug("phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	s.local.Clear()
	s.peers.Reset()
	s.guesses = guess.Table{}
}

func (s *Session) handleMsg(m Msg) bool {
	switch msg := m.(type) {
	case DrawLine:
		if !s.state.Drawable() {
			msg.Reply <- ErrNotDrawing
			break
		}
		s.local.Append(msg.Line)
		msg.Reply <- s.pub.Line(s.ctx, msg.Line)

	case ClearDrawing:
		if !s.state.Drawable() {
			msg.Reply <- ErrNotDrawing
			break
		}
		s.local.Clear()
		msg.Reply <- s.pub.Clear(s.ctx)

	case GetDrawing:
		msg.Reply <- s.local.Snapshot()

	case ExpectCatchUp:
		for _, id := range msg.Peers {
			s.peers.Expect(id)
		}
		msg.Reply <- struct{}{}

	case CaughtUp:
		r := msg.Result
		if r.Err != nil {
			s.peers.Abandon(r.Peer)
			break
		}
		if _, present := s.members[r.Peer]; !present {
			// left while we were fetching
			s.peers.Remove(r.Peer)
			break
		}
		s.peers.Install(r.Peer, r.Lines)

	case Kicked:
		s.log.Info("kicked by host", zap.String("reason", msg.Reason))
		s.setErr(&KickedError{Reason: msg.Reason})
		go func() { _ = s.Leave() }()
		return true

	case GetView:
		msg.Reply <- s.view()

	case GetHost:
		msg.Reply <- HostInfo{Identity: s.hostIdentity(), Game: s.state}
	}
	return false
}

func (s *Session) hostIdentity() string {
	ids := make([]string, 0, 1)
	for id, p := range s.members {
		if p.IsAgent() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[0]
}

func (s *Session) view() View {
	players := make([]string, 0, len(s.members))
	for id, p := range s.members {
		if !p.IsAgent() {
			players = append(players, id)
		}
	}
	sort.Strings(players)

	st := s.state
	st.Winners = append([]string{}, s.state.Winners...)
	return View{
		Identity: s.room.Local().Identity,
		Host:     s.hostIdentity(),
		Game:     st,
		Phase:    st.Phase(),
		Local:    s.local.Snapshot(),
		Drawings: s.peers.Snapshot(),
		Guesses:  s.guesses.Clone(),
		Players:  players,
	}
}

