package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel buffer size
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// WebSocket is the gorilla/websocket implementation of Transport.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger
}

// NewWebSocket creates a WebSocket transport.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWebSocketConfig().WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultWebSocketConfig().BufferSize
	}
	return &WebSocket{cfg: cfg, logger: logger}
}

// Dial establishes a WebSocket connection. The handshake is bounded by the
// deadline or cancellation of ctx.
func (t *WebSocket) Dial(ctx context.Context, url string, header http.Header) (Stream, error) {
	dialer := websocket.Dialer{}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	s := &wsStream{
		conn:         conn,
		writeTimeout: t.cfg.WriteTimeout,
		messages:     make(chan Message, t.cfg.BufferSize),
		done:         make(chan struct{}),
	}

	go s.readPump()

	t.logger.Debug("websocket connected", "url", url)

	return s, nil
}

// wsStream wraps one gorilla connection.
type wsStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	messages chan Message
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	err    error
}

// Send writes a single message to the peer.
func (s *wsStream) Send(msg Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if msg.Kind == KindBinary {
		return s.conn.WriteMessage(websocket.BinaryMessage, msg.Binary)
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg.Text))
}

// Receive returns the inbound message channel.
func (s *wsStream) Receive() <-chan Message {
	return s.messages
}

// Err returns the terminal error, nil for a clean closure.
func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the stream down.
func (s *wsStream) Close(normal bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	if normal {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	return s.conn.Close()
}

// readPump reads frames until the connection terminates, then records the
// terminal error and closes the message channel.
func (s *wsStream) readPump() {
	defer close(s.messages)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			// A closure we initiated, or a normal close from the peer,
			// is not an error.
			if !s.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = err
			}
			s.closed = true
			s.mu.Unlock()
			return
		}

		var msg Message
		switch mt {
		case websocket.BinaryMessage:
			msg = Binary(data)
		default:
			msg = Text(string(data))
		}

		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}
}
