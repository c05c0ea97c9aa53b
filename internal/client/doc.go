// Package client implements the per-endpoint connection state machine.
//
// A Client:
//   - Drives Disconnected/Connecting/Connected/Reconnecting transitions
//   - Reconnects automatically with jittered exponential backoff
//   - Sends periodic keepalive envelopes while connected
//   - Publishes state changes, raw messages, parsed envelopes, and errors
//     on four independently subscribable broadcast streams
package client
