// Package wire implements the msgpack-RPC message layer.
//
// Every message exchanged with the host is a msgpack array whose first
// element identifies the message kind:
//
//	[0, msgid, method, args]   Request  (expects a correlated Response)
//	[1, msgid, error, result]  Response (correlated by msgid)
//	[2, method, args]          Notification (fire-and-forget)
//
// # Opaque references
//
// The host identifies the entities it owns (buffers, windows, tabpages)
// with msgpack extension values. The payload of an extension value is an
// opaque byte sequence chosen by the host; this package never interprets
// it, only forwards it. Ext is the Go representation of such a value and
// is the unit of identity for everything built on top of this package.
//
// # Error classification
//
// A byte-level msgpack failure leaves the stream position unknown and is
// unrecoverable; it is returned as a plain error and the session treats it
// as transport loss. A message that parses as msgpack but does not have
// one of the three shapes above is fully consumed before being rejected,
// so the stream stays aligned; those are returned as *DecodeError and a
// consumer may skip them and keep reading.
package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is wrapped by every *DecodeError.
	ErrMalformed = errors.New("malformed rpc message")
)

// Kind identifies the msgpack-RPC message kind.
type Kind int

const (
	// KindRequest is a correlated call expecting a response.
	KindRequest Kind = 0
	// KindResponse carries the result or error for a request.
	KindResponse Kind = 1
	// KindNotification is a fire-and-forget call.
	KindNotification Kind = 2
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindNotification:
		return "Notification"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Ext is a wire-level opaque reference to a host-owned entity: a small
// type tag plus a payload the client must not interpret.
type Ext struct {
	Type int8
	Data []byte
}

// Message is one decoded msgpack-RPC message.
//
// For requests and notifications, Method and Args are set (and ID for
// requests). For responses, ID and exactly one of Err or Result are set.
// Err holds the host's error payload verbatim.
type Message struct {
	Kind   Kind
	ID     uint32
	Method string
	Args   []any
	Err    any
	Result any
}

// DecodeError reports an inbound message that parsed as msgpack but did
// not match any known message shape. The raw top-level value was fully
// consumed, so subsequent messages on the same stream remain readable.
type DecodeError struct {
	Reason string
	Value  any
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed rpc message: %s", e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformed) work.
func (e *DecodeError) Unwrap() error { return ErrMalformed }
