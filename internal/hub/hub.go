package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby forgets Lobby under Code if it is still the registered one
// and still empty.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure returns the lobby for code, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- EnsureLobby{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.create(msg.Code)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.create(msg.Code)

			case RemoveLobby:
				if h.lobbies[msg.Code] != msg.Lobby {
					break
				}
				if h.closeIfEmpty(msg.Lobby) {
					delete(h.lobbies, msg.Code)
					h.log.Info("lobby removed", zap.String("lobby", msg.Code))
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					codes = append(codes, code)
				}
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(code string) *lobby.Lobby {
	var lb *lobby.Lobby
	lb = lobby.NewLobby(h.ctx, code, h.log, func(code string) {
		// the lobby goroutine must not wait on the hub
		go func() {
			select {
			case h.inbox <- RemoveLobby{Code: code, Lobby: lb}:
			case <-h.ctx.Done():
			}
		}()
	})
	h.lobbies[code] = lb
	h.log.Info("lobby created", zap.String("lobby", code))
	return lb
}

// closeIfEmpty shuts lb down unless someone joined since it emptied.
func (h *Hub) closeIfEmpty(lb *lobby.Lobby) bool {
	reply := make(chan bool, 1)
	if err := lb.Send(h.ctx, lobby.CloseIfEmpty{Reply: reply}); err != nil {
		return true
	}
	select {
	case closed := <-reply:
		return closed
	case <-lb.Done():
		return true
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		_ = lb.Send(context.Background(), lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}
