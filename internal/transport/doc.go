// Package transport provides the bidirectional stream primitive the
// connection layer is built on.
//
// The package defines:
//   - Message, a tagged text/binary payload union
//   - Stream, one established connection (send, inbound channel, closure)
//   - Transport, the dialer abstraction
//   - WebSocket, the gorilla/websocket implementation
package transport
