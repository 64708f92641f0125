package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/broadcast"
	"github.com/DoyleJ11/drawsync/internal/catchup"
	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/engine"
	"github.com/DoyleJ11/drawsync/internal/guess"
	"github.com/DoyleJ11/drawsync/internal/judge"
	"github.com/DoyleJ11/drawsync/internal/prompts"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

const RoomFullReason = "The room is full!"

const kickRetryInterval = 50 * time.Millisecond

var ErrNotAgent = errors.New("host must join as an agent")

type Options struct {
	ParticipantLimit int
	JudgeInterval    time.Duration
	RPCTimeout       time.Duration
	GuessCacheSize   int

	Prompts *prompts.Generator
	Guesser judge.Guesser
	Referee judge.Referee
}

func (o Options) withDefaults() Options {
	if o.ParticipantLimit <= 0 {
		o.ParticipantLimit = 12
	}
	if o.JudgeInterval <= 0 {
		o.JudgeInterval = time.Second
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 5 * time.Second
	}
	if o.GuessCacheSize <= 0 {
		o.GuessCacheSize = guess.DefaultCacheSize
	}
	if o.Prompts == nil {
		o.Prompts = prompts.NewGenerator(nil, nil)
	}
	if o.Guesser == nil {
		o.Guesser = judge.Abstain{}
	}
	if o.Referee == nil {
		o.Referee = judge.MatchReferee{}
	}
	return o
}

// Host is the game master: it owns the room metadata and the guess table,
// serves the host.* RPCs and runs the judge.
type Host struct {
	room  transport.Room
	log   *zap.Logger
	opts  Options
	inbox chan Msg
	ready chan struct{}

	// loop-owned
	ctx      context.Context
	state    engine.State
	round    uint64
	players  map[string]transport.Participant
	order    []string
	drawings *broadcast.Cache
	last     guess.Table
	judging  bool

	// judge goroutine only
	cache *guess.Cache
}

func New(room transport.Room, log *zap.Logger, opts Options) *Host {
	opts = opts.withDefaults()
	return &Host{
		room:     room,
		log:      log.With(zap.String("identity", room.Local().Identity)),
		opts:     opts,
		inbox:    make(chan Msg, 64),
		ready:    make(chan struct{}),
		state:    engine.NewState(),
		players:  make(map[string]transport.Participant),
		drawings: broadcast.NewCache(),
		last:     guess.Table{},
		cache:    guess.NewCache(opts.GuessCacheSize),
	}
}

// Ready is closed once Run has registered its RPCs and published the state.
func (h *Host) Ready() <-chan struct{} { return h.ready }

// Run serves the room until ctx is done or the room disconnects.
func (h *Host) Run(ctx context.Context) error {
	if !h.room.Local().IsAgent() {
		return ErrNotAgent
	}
	h.ctx = ctx

	events, unsubscribe := h.room.Subscribe()
	defer unsubscribe()

	var fetch []string
	for _, p := range h.room.Remote() {
		if h.admit(p) {
			h.drawings.Expect(p.Identity)
			fetch = append(fetch, p.Identity)
		}
	}

	h.room.RegisterRPC(types.MethodStartGame, h.handleStartGame)
	h.room.RegisterRPC(types.MethodEndGame, h.handleEndGame)
	h.room.RegisterRPC(types.MethodUpdateDifficulty, h.handleUpdateDifficulty)
	defer func() {
		h.room.UnregisterRPC(types.MethodStartGame)
		h.room.UnregisterRPC(types.MethodEndGame)
		h.room.UnregisterRPC(types.MethodUpdateDifficulty)
	}()

	if blob := h.room.Metadata(); blob != "" {
		st, err := engine.ParseMetadata(blob)
		if err != nil {
			h.log.Warn("failed to load game state from metadata", zap.Error(err))
		} else {
			h.state = st
		}
	}
	if err := h.publishState(); err != nil {
		return fmt.Errorf("publish initial state: %w", err)
	}
	h.log.Info("host ready",
		zap.Int("players", len(h.order)),
		zap.String("phase", string(h.state.Phase())),
	)
	close(h.ready)

	if len(fetch) > 0 {
		go catchup.FetchAll(ctx, h.log, h.room, fetch, h.opts.RPCTimeout, func(r catchup.Result) {
			select {
			case h.inbox <- CaughtUp{Result: r}:
			case <-ctx.Done():
			}
		})
	}

	ticker := time.NewTicker(h.opts.JudgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return transport.ErrClosed
			}
			if err := h.handleEvent(ev); err != nil {
				return err
			}

		case m := <-h.inbox:
			h.handleMsg(m)

		case <-ticker.C:
			h.startJudge()
		}
	}
}

// admit registers p as a player, or kicks it when the room is full.
func (h *Host) admit(p transport.Participant) bool {
	if p.IsAgent() {
		return false
	}
	if _, ok := h.players[p.Identity]; ok {
		return true
	}
	if len(h.order) >= h.opts.ParticipantLimit {
		h.log.Info("reached participant limit, kicking player", zap.String("player", p.Identity))
		go h.kick(p.Identity, RoomFullReason)
		return false
	}
	h.players[p.Identity] = p
	h.order = append(h.order, p.Identity)
	h.log.Info("registered player", zap.String("player", p.Identity))
	return true
}

func (h *Host) release(id string) {
	if _, ok := h.players[id]; !ok {
		return
	}
	delete(h.players, id)
	for i, other := range h.order {
		if other == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.drawings.Remove(id)
	h.log.Info("unregistered player", zap.String("player", id))
}

func (h *Host) kick(id, reason string) {
	payload, err := json.Marshal(types.KickRequest{Reason: reason})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.RPCTimeout)
	defer cancel()

	// A player that just connected may not have registered its handler yet.
	retry := time.NewTicker(kickRetryInterval)
	defer retry.Stop()
	for {
		_, err := h.room.PerformRPC(ctx, id, types.MethodKick, string(payload))
		if err == nil || !errors.Is(err, transport.ErrUnsupportedMethod) {
			if err != nil {
				h.log.Warn("kick failed", zap.String("player", id), zap.Error(err))
			}
			return
		}
		select {
		case <-retry.C:
		case <-ctx.Done():
			h.log.Warn("kick failed", zap.String("player", id), zap.Error(err))
			return
		}
	}
}

func (h *Host) handleEvent(ev transport.Event) error {
	switch e := ev.(type) {
	case transport.DataReceived:
		if _, ok := h.players[e.Packet.Sender]; !ok {
			return nil
		}
		if _, err := h.drawings.Apply(e.Packet); err != nil {
			h.log.Warn("rejected drawing packet", zap.String("player", e.Packet.Sender), zap.Error(err))
		}

	case transport.ParticipantConnected:
		h.admit(e.Participant)

	case transport.ParticipantDisconnected:
		h.release(e.Participant.Identity)

	case transport.MetadataChanged:
		// our own writes echoing back

	case transport.Disconnected:
		if e.Err != nil {
			return fmt.Errorf("room disconnected: %w", e.Err)
		}
		return transport.ErrClosed
	}
	return nil
}

func (h *Host) handleMsg(m Msg) {
	switch msg := m.(type) {
	case StartGame:
		msg.Reply <- types.StartGameResponse{Started: h.startGame(msg.Prompt)}

	case EndGame:
		msg.Reply <- types.EndGameResponse{Stopped: h.endGame(nil)}

	case UpdateDifficulty:
		msg.Reply <- types.UpdateDifficultyResponse{Updated: h.updateDifficulty(msg.Difficulty)}

	case CaughtUp:
		r := msg.Result
		if r.Err != nil {
			h.drawings.Abandon(r.Peer)
			break
		}
		if _, ok := h.players[r.Peer]; !ok {
			h.drawings.Remove(r.Peer)
			break
		}
		h.drawings.Install(r.Peer, r.Lines)
		h.log.Info("loaded player drawing", zap.String("player", r.Peer), zap.Int("lines", len(r.Lines)))

	case Judged:
		h.judged(msg)

	case GetView:
		msg.Reply <- h.view()
	}
}

func (h *Host) apply(cmd engine.Command) bool {
	_, next, err := engine.Apply(h.state, cmd)
	if err != nil {
		h.log.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return false
	}
	h.state = next
	if err := h.publishState(); err != nil {
		h.log.Error("failed to publish game state", zap.Error(err))
	}
	return true
}

func (h *Host) startGame(prompt string) bool {
	if h.state.Started {
		return false
	}
	if prompt == "" {
		prompt = h.opts.Prompts.Next(h.state.Difficulty)
	}
	if !h.apply(engine.Command{Type: engine.CmdStartGame, Prompt: prompt}) {
		return false
	}
	h.round++
	h.drawings.Reset()
	h.last = guess.Table{}
	h.log.Info("round started", zap.Uint64("round", h.round), zap.String("difficulty", string(h.state.Difficulty)))
	return true
}

func (h *Host) endGame(winners []string) bool {
	if !h.apply(engine.Command{Type: engine.CmdEndGame, Winners: winners}) {
		return false
	}
	h.round++
	h.drawings.Reset()
	h.last = guess.Table{}
	h.log.Info("round ended", zap.Strings("winners", h.state.Winners))
	return true
}

func (h *Host) updateDifficulty(v string) bool {
	d, err := engine.ParseDifficulty(v)
	if err != nil {
		return false
	}
	return h.apply(engine.Command{Type: engine.CmdUpdateDifficulty, Difficulty: d})
}

func (h *Host) publishState() error {
	blob, err := h.state.Metadata()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(h.ctx, h.opts.RPCTimeout)
	defer cancel()
	return h.room.SetMetadata(ctx, blob)
}

func (h *Host) view() View {
	st := h.state
	st.Winners = append([]string{}, h.state.Winners...)
	players := append([]string{}, h.order...)
	sort.Strings(players)
	return View{
		Game:     st,
		Players:  players,
		Drawings: h.drawings.Snapshot(),
		Guesses:  h.last.Clone(),
		Round:    h.round,
	}
}

// View returns a copy of the host's state. Run must be serving.
func (h *Host) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case h.inbox <- GetView{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (h *Host) snapshotDrawings() map[string][]drawing.Line {
	out := make(map[string][]drawing.Line, len(h.order))
	for _, id := range h.order {
		out[id] = h.drawings.Drawing(id)
	}
	return out
}
