package transport

import (
	"context"
	"errors"
	"net/http"
)

// Errors
var (
	ErrStreamClosed = errors.New("stream closed")
)

// MessageKind discriminates the payload variants of a Message.
type MessageKind int

const (
	// KindText is a UTF-8 text frame.
	KindText MessageKind = iota

	// KindBinary is an opaque binary frame.
	KindBinary
)

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is a tagged union of the payloads a stream can carry.
// Exactly one of Text or Binary is meaningful, selected by Kind.
type Message struct {
	Kind   MessageKind
	Text   string
	Binary []byte
}

// Text returns a text message.
func Text(s string) Message {
	return Message{Kind: KindText, Text: s}
}

// Binary returns a binary message.
func Binary(b []byte) Message {
	return Message{Kind: KindBinary, Binary: b}
}

// Stream is one established bidirectional connection.
//
// Receive's channel closes when the stream terminates for any reason; after
// that, Err reports the cause (nil for a clean closure by either side).
type Stream interface {
	// Send writes a single message to the peer.
	Send(msg Message) error

	// Receive returns the inbound message channel.
	Receive() <-chan Message

	// Err returns the terminal error after Receive's channel has closed.
	Err() error

	// Close tears the stream down. When normal is true a normal-closure
	// signal is sent to the peer first.
	Close(normal bool) error
}

// Transport establishes streams to endpoints. Implementations must honor
// ctx cancellation and deadlines during the handshake.
type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Stream, error)
}
