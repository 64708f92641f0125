package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/drawsync/internal/hub"
	"github.com/DoyleJ11/drawsync/internal/lobby"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/types"
)

// MaxFrameSize bounds a single frame. Catch-up replies carry whole drawings.
const MaxFrameSize = 16 << 20

type ServerOptions struct {
	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	// FrameRate and FrameBurst bound how fast one member may send.
	FrameRate  rate.Limit
	FrameBurst int
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		OutboxSize:   256,
		WriteTimeout: 3 * time.Second,
		PingInterval: 30 * time.Second,
		FrameRate:    rate.Limit(200),
		FrameBurst:   400,
	}
}

func (o ServerOptions) withDefaults() ServerOptions {
	d := DefaultServerOptions()
	if o.OutboxSize <= 0 {
		o.OutboxSize = d.OutboxSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.FrameRate <= 0 {
		o.FrameRate, o.FrameBurst = d.FrameRate, d.FrameBurst
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 1
	}
	return o
}

// Handler upgrades GET /ws?code=..&identity=..&name=..&kind=.. and joins
// the connection to the lobby for code. The identity defaults to a random
// uuid; kind is "standard" or "agent".
func Handler(h *hub.Hub, log *zap.Logger, opts ServerOptions) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		member := transport.Participant{
			Identity: q.Get("identity"),
			Name:     q.Get("name"),
			Kind:     transport.ParseKind(q.Get("kind")),
		}
		if member.Identity == "" {
			member.Identity = uuid.NewString()
		}
		log := log.With(zap.String("lobby", code), zap.String("identity", member.Identity))

		out := make(chan types.Frame, opts.OutboxSize)
		lb, err := join(r.Context(), h, code, member, out)
		switch {
		case errors.Is(err, lobby.ErrIdentityTaken):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			log.Warn("join failed", zap.Error(err))
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}
		leave := func() { _ = lb.Send(context.Background(), lobby.Leave{Identity: member.Identity}) }

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			leave()
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		defer leave()
		conn.SetReadLimit(MaxFrameSize)

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out, log, opts)

		limiter := rate.NewLimiter(opts.FrameRate, opts.FrameBurst)

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client closed")
				default:
					if r.Context().Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var f types.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				wctx, cancel := context.WithTimeout(r.Context(), opts.WriteTimeout)
				_ = wsjson.Write(wctx, conn, types.Frame{Type: types.FrameError, ErrorCode: types.CodeBadFrame, Error: "bad json"})
				cancel()
				continue
			}

			if err := limiter.Wait(r.Context()); err != nil {
				return
			}
			if err := lb.Send(r.Context(), lobby.FromClient{From: member.Identity, Frame: f}); err != nil {
				return
			}
		}
	}
}

// join adds member to the lobby for code. A lobby can shut down between
// lookup and join when its last member leaves, so that case is retried.
func join(ctx context.Context, h *hub.Hub, code string, member transport.Participant, out chan types.Frame) (*lobby.Lobby, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		lb, err := h.Ensure(ctx, code)
		if err != nil {
			return nil, err
		}
		reply := make(chan error, 1)
		if err := lb.Send(ctx, lobby.Join{Member: member, Outbox: out, Reply: reply}); err != nil {
			lastErr = err
			continue
		}
		select {
		case err := <-reply:
			if err != nil {
				return nil, err
			}
			return lb, nil
		case <-lb.Done():
			lastErr = lobby.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan types.Frame, log *zap.Logger, opts ServerOptions) {
	var ping <-chan time.Time
	if opts.PingInterval > 0 {
		t := time.NewTicker(opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-out:
			if !ok {
				// dropped by the lobby
				conn.Close(websocket.StatusPolicyViolation, "removed from lobby")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, f)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				conn.CloseNow()
				return
			}

		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				conn.CloseNow()
				return
			}
		}
	}
}
