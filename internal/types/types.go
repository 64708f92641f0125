package types

import "github.com/DoyleJ11/drawsync/internal/transport"

// Frame types exchanged between relay and clients.
const (
	FrameWelcome     = "welcome"
	FrameData        = "data"
	FrameRPCRequest  = "rpc_request"
	FrameRPCResponse = "rpc_response"
	FrameSetMetadata = "set_metadata"
	FrameMetadata    = "metadata"
	FrameJoined      = "joined"
	FrameLeft        = "left"
	FrameError       = "error"
)

// Frame is one JSON websocket message. Which fields are set depends on Type.
type Frame struct {
	Type string `json:"type"`

	// data
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	// routing; From is always stamped by the relay
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// rpc
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Body      string `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
	// ErrorCode classifies relay-side RPC failures, see the Code* constants.
	ErrorCode string `json:"error_code,omitempty"`

	Metadata     *string                 `json:"metadata,omitempty"`
	Participant  *transport.Participant  `json:"participant,omitempty"`
	Participants []transport.Participant `json:"participants,omitempty"`
}

// Error codes carried on rpc_response and error frames.
const (
	CodeNotFound     = "not_found"
	CodeDisconnected = "disconnected"
	CodeUnsupported  = "unsupported"
	CodeForbidden    = "forbidden"
	CodeBadFrame     = "bad_frame"
	CodeApplication  = "application"
)
