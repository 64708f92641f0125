package transport

import (
	"context"
	"errors"
	"fmt"
)

var ErrParticipantNotFound = errors.New("participant not found")
var ErrParticipantDisconnected = errors.New("participant disconnected")
var ErrUnsupportedMethod = errors.New("unsupported rpc method")
var ErrForbidden = errors.New("forbidden")
var ErrClosed = errors.New("room closed")

type Kind string

const (
	KindStandard Kind = "standard"
	// KindAgent marks the host. The capability comes from the substrate,
	// never from protocol state.
	KindAgent Kind = "agent"
)

func ParseKind(v string) Kind {
	if Kind(v) == KindAgent {
		return KindAgent
	}
	return KindStandard
}

type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Kind     Kind   `json:"kind"`
}

func (p Participant) IsAgent() bool { return p.Kind == KindAgent }

// Packet is one message received on a data channel topic.
type Packet struct {
	Sender  string
	Topic   string
	Payload []byte
}

// Invocation is an inbound RPC.
type Invocation struct {
	Caller  string
	Method  string
	Payload string
}

type RPCHandler func(ctx context.Context, inv Invocation) (string, error)

// RPCError is a failure reported by the remote side of a call.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s failed: %s", e.Method, e.Message)
}

type Publisher interface {
	// Publish sends payload on topic to every other participant. Delivery
	// is reliable and ordered per sender.
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Caller interface {
	PerformRPC(ctx context.Context, destination, method, payload string) (string, error)
}

// Room is one participant's view of a group session.
type Room interface {
	Publisher
	Caller

	Local() Participant
	// Remote lists the other participants currently present.
	Remote() []Participant

	RegisterRPC(method string, h RPCHandler)
	UnregisterRPC(method string)

	Metadata() string
	// SetMetadata replaces the shared blob. Only agents may write it.
	SetMetadata(ctx context.Context, metadata string) error

	// Subscribe delivers events that happen after the call, in order.
	Subscribe() (<-chan Event, func())

	Close() error
}

type Event interface{ isEvent() }

type DataReceived struct{ Packet Packet }

type ParticipantConnected struct{ Participant Participant }

type ParticipantDisconnected struct{ Participant Participant }

type MetadataChanged struct{ Metadata string }

// Disconnected is the last event a subscription sees.
type Disconnected struct{ Err error }

func (DataReceived) isEvent()            {}
func (ParticipantConnected) isEvent()    {}
func (ParticipantDisconnected) isEvent() {}
func (MetadataChanged) isEvent()         {}
func (Disconnected) isEvent()            {}
