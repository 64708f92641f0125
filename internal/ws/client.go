package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/lobby"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/types"
)

type DialOptions struct {
	Code     string
	Identity string
	Name     string
	Kind     transport.Kind
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	WriteTimeout time.Duration
	// RPCTimeout bounds calls whose context has no deadline.
	RPCTimeout time.Duration
	Logger       *zap.Logger
}

// Client is a relay connection. It implements transport.Room.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger
	self transport.Participant
	opts DialOptions

	fanout *transport.Fanout

	mu       sync.Mutex
	members  map[string]transport.Participant
	metadata string
	handlers map[string]transport.RPCHandler
	pending  map[string]chan types.Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closing   bool
	closed    chan struct{}
}

var _ transport.Room = (*Client)(nil)

// Dial connects to the relay at rawURL (the /ws endpoint) and waits for the
// welcome frame, so Remote and Metadata are populated on return.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Client, error) {
	if opts.Code == "" {
		return nil, errors.New("dial relay: missing lobby code")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Kind == "" {
		opts.Kind = transport.KindStandard
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	q := u.Query()
	q.Set("code", opts.Code)
	q.Set("kind", string(opts.Kind))
	if opts.Identity != "" {
		q.Set("identity", opts.Identity)
	}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("dial relay: %w", lobby.ErrIdentityTaken)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)

	var welcome types.Frame
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != types.FrameWelcome || welcome.Participant == nil {
		conn.Close(websocket.StatusProtocolError, "expected welcome")
		return nil, fmt.Errorf("read welcome: unexpected %q frame", welcome.Type)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		log:      opts.Logger.With(zap.String("identity", welcome.Participant.Identity)),
		self:     *welcome.Participant,
		opts:     opts,
		fanout:   transport.NewFanout(),
		members:  make(map[string]transport.Participant),
		handlers: make(map[string]transport.RPCHandler),
		pending:  make(map[string]chan types.Frame),
		ctx:      cctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	for _, p := range welcome.Participants {
		c.members[p.Identity] = p
	}
	if welcome.Metadata != nil {
		c.metadata = *welcome.Metadata
	}

	go c.readLoop()
	if opts.PingInterval > 0 {
		go c.keepalive(opts.PingInterval)
	}
	return c, nil
}

func (c *Client) Local() transport.Participant { return c.self }

func (c *Client) Remote() []transport.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Participant, 0, len(c.members))
	for _, p := range c.members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (c *Client) Metadata() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

func (c *Client) Subscribe() (<-chan transport.Event, func()) {
	return c.fanout.Subscribe()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) write(ctx context.Context, f types.Frame) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, f); err != nil {
		if c.isClosed() {
			return transport.ErrClosed
		}
		return err
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.write(ctx, types.Frame{Type: types.FrameData, Topic: topic, Payload: payload})
}

func (c *Client) SetMetadata(ctx context.Context, metadata string) error {
	if !c.self.IsAgent() {
		return fmt.Errorf("set metadata: %w", transport.ErrForbidden)
	}
	return c.write(ctx, types.Frame{Type: types.FrameSetMetadata, Metadata: &metadata})
}

func (c *Client) RegisterRPC(method string, h transport.RPCHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

func (c *Client) UnregisterRPC(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, method)
}

func (c *Client) PerformRPC(ctx context.Context, destination, method, payload string) (string, error) {
	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	reply := make(chan types.Frame, 1)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return "", transport.ErrClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err := c.write(ctx, types.Frame{
		Type:      types.FrameRPCRequest,
		To:        destination,
		RequestID: id,
		Method:    method,
		Body:      payload,
	})
	if err != nil {
		return "", err
	}

	select {
	case resp := <-reply:
		return resp.Body, responseError(method, destination, resp)
	case <-c.closed:
		return "", transport.ErrClosed
	case <-ctx.Done():
		return "", fmt.Errorf("rpc %s to %s: %w", method, destination, ctx.Err())
	}
}

func responseError(method, destination string, resp types.Frame) error {
	if resp.Error == "" && resp.ErrorCode == "" {
		return nil
	}
	switch resp.ErrorCode {
	case types.CodeNotFound:
		return fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrParticipantNotFound)
	case types.CodeDisconnected:
		return fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrParticipantDisconnected)
	case types.CodeUnsupported:
		return fmt.Errorf("rpc %s to %s: %w", method, destination, transport.ErrUnsupportedMethod)
	default:
		return &transport.RPCError{Method: method, Message: resp.Error}
	}
}

// Close leaves the lobby.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	<-c.closed
	return nil
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		closing := c.closing
		c.closing = true
		c.mu.Unlock()
		c.cancel()
		c.conn.CloseNow()
		close(c.closed)

		if closing {
			err = nil
		}
		c.fanout.Close(transport.Disconnected{Err: err})
	}()

	for {
		var f types.Frame
		if err = wsjson.Read(c.ctx, c.conn, &f); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = transport.ErrClosed
			}
			return
		}
		c.handle(f)
	}
}

func (c *Client) handle(f types.Frame) {
	switch f.Type {
	case types.FrameData:
		c.fanout.Emit(transport.DataReceived{Packet: transport.Packet{Sender: f.From, Topic: f.Topic, Payload: f.Payload}})

	case types.FrameJoined:
		if f.Participant == nil {
			return
		}
		c.mu.Lock()
		c.members[f.Participant.Identity] = *f.Participant
		c.mu.Unlock()
		c.fanout.Emit(transport.ParticipantConnected{Participant: *f.Participant})

	case types.FrameLeft:
		if f.Participant == nil {
			return
		}
		c.mu.Lock()
		delete(c.members, f.Participant.Identity)
		c.mu.Unlock()
		c.fanout.Emit(transport.ParticipantDisconnected{Participant: *f.Participant})

	case types.FrameMetadata:
		if f.Metadata == nil {
			return
		}
		c.mu.Lock()
		c.metadata = *f.Metadata
		c.mu.Unlock()
		c.fanout.Emit(transport.MetadataChanged{Metadata: *f.Metadata})

	case types.FrameRPCRequest:
		go c.serve(f)

	case types.FrameRPCResponse:
		c.mu.Lock()
		reply := c.pending[f.RequestID]
		c.mu.Unlock()
		if reply != nil {
			select {
			case reply <- f:
			default:
			}
		}

	case types.FrameError:
		c.log.Warn("relay error", zap.String("code", f.ErrorCode), zap.String("error", f.Error))
	}
}

func (c *Client) serve(req types.Frame) {
	c.mu.Lock()
	h := c.handlers[req.Method]
	c.mu.Unlock()

	resp := types.Frame{Type: types.FrameRPCResponse, To: req.From, RequestID: req.RequestID}
	if h == nil {
		resp.Error = "unsupported method " + req.Method
		resp.ErrorCode = types.CodeUnsupported
	} else {
		body, err := h(c.ctx, transport.Invocation{Caller: req.From, Method: req.Method, Payload: req.Body})
		if err != nil {
			resp.Error = err.Error()
			resp.ErrorCode = types.CodeApplication
		} else {
			resp.Body = body
		}
	}

	if err := c.write(c.ctx, resp); err != nil {
		c.log.Debug("rpc response not sent", zap.String("method", req.Method), zap.Error(err))
	}
}

func (c *Client) keepalive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				c.log.Warn("relay ping failed", zap.Error(err))
				c.conn.CloseNow()
				return
			}
		}
	}
}
