package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/fieldline/wirepool/internal/backoff"
	"github.com/fieldline/wirepool/internal/envelope"
	"github.com/fieldline/wirepool/internal/stream"
	"github.com/fieldline/wirepool/internal/transport"
)

// Client is one logical endpoint's connection, owning its state machine,
// timers, and event streams. All mutation goes through its own methods.
type Client struct {
	url     string
	header  http.Header
	cfg     Config
	tr      transport.Transport
	logger  *slog.Logger
	calc    *backoff.Calculator
	randSrc rand.Source

	// Lifetime context for self-scheduled reconnect attempts. Cancelled
	// on dispose.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	gen            uint64 // bumped by Disconnect/Dispose to invalidate in-flight dials
	state          State
	stream         transport.Stream
	attempts       int
	delay          time.Duration
	reconnectTimer *time.Timer
	keepaliveStop  chan struct{}
	disposed       bool

	states   *stream.Hub[State]
	messages *stream.Hub[transport.Message]
	events   *stream.Hub[envelope.Envelope]
	errs     *stream.Hub[error]
}

// Option customizes a Client.
type Option func(*Client)

// WithHeader sets the headers sent during the handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithTransport overrides the default WebSocket transport.
func WithTransport(tr transport.Transport) Option {
	return func(c *Client) { c.tr = tr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRandSource seeds the backoff jitter source. Tests use this for
// deterministic delay sequences.
func WithRandSource(src rand.Source) Option {
	return func(c *Client) { c.randSrc = src }
}

// New creates a client for the given endpoint. The connection is not
// established until Connect is called.
func New(url string, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		url:   url,
		cfg:   cfg,
		state: StateDisconnected,
		delay: cfg.InitialDelay,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("endpoint", url)

	if c.tr == nil {
		c.tr = transport.NewWebSocket(transport.DefaultWebSocketConfig(), c.logger)
	}

	calc, err := backoff.New(cfg.backoffPolicy(), c.randSrc)
	if err != nil {
		return nil, err
	}
	c.calc = calc

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.states = stream.NewHub[State](cfg.StreamBuffer)
	c.messages = stream.NewHub[transport.Message](cfg.StreamBuffer)
	c.events = stream.NewHub[envelope.Envelope](cfg.StreamBuffer)
	c.errs = stream.NewHub[error](cfg.StreamBuffer)

	return c, nil
}

// URL returns the endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disposed reports whether Dispose has been called.
func (c *Client) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// SubscribeStates returns a subscription to state-change events.
func (c *Client) SubscribeStates() *stream.Subscription[State] {
	return c.states.Subscribe()
}

// SubscribeMessages returns a subscription to raw inbound messages.
func (c *Client) SubscribeMessages() *stream.Subscription[transport.Message] {
	return c.messages.Subscribe()
}

// SubscribeEvents returns a subscription to parsed envelope events.
func (c *Client) SubscribeEvents() *stream.Subscription[envelope.Envelope] {
	return c.events.Subscribe()
}

// SubscribeErrors returns a subscription to connection errors.
func (c *Client) SubscribeErrors() *stream.Subscription[error] {
	return c.errs.Subscribe()
}

// Connect establishes the connection. It is a no-op returning nil when
// already connected, returns ErrConnectInProgress when a handshake is in
// flight, and returns ErrDisposed after Dispose. An explicit call resets
// reconnect eligibility after the attempt ceiling was reached.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}

	// A fresh external connect starts a new retry sequence. Any pending
	// reconnect timer is superseded.
	c.attempts = 0
	c.cancelReconnectLocked()
	c.mu.Unlock()

	return c.dial(ctx)
}

// Disconnect voluntarily closes the connection and cancels all pending
// timers. It never triggers a reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.cancelReconnectLocked()
	c.stopKeepaliveLocked()
	s := c.stream
	c.stream = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if s != nil {
		s.Close(true)
	}
}

// Dispose permanently shuts the client down: timers cancelled, transport
// closed, all four streams closed. Idempotent; every operation after
// Dispose is a safe no-op.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.gen++
	c.cancelReconnectLocked()
	c.stopKeepaliveLocked()
	s := c.stream
	c.stream = nil
	c.state = StateDisconnected

	c.states.Close()
	c.messages.Close()
	c.events.Close()
	c.errs.Close()
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		s.Close(true)
	}

	c.logger.Debug("client disposed")
}

// Send writes a message to the transport. It is a logged no-op unless the
// state is Connected. Transport-level failures are published to the error
// stream.
func (c *Client) Send(msg transport.Message) error {
	c.mu.Lock()
	if c.disposed || c.state != StateConnected || c.stream == nil {
		c.mu.Unlock()
		c.logger.Debug("send skipped, not connected")
		return nil
	}
	s := c.stream
	c.mu.Unlock()

	if err := s.Send(msg); err != nil {
		c.mu.Lock()
		c.errs.Publish(err)
		c.mu.Unlock()
		return err
	}
	return nil
}

// SendEnvelope marshals and sends a typed envelope.
func (c *Client) SendEnvelope(typ string, data any) error {
	env, err := envelope.New(typ, data)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	raw, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Send(transport.Text(string(raw)))
}

// SendText sends a raw text message.
func (c *Client) SendText(text string) error {
	return c.Send(transport.Text(text))
}

// SendBinary sends a raw binary message.
func (c *Client) SendBinary(data []byte) error {
	return c.Send(transport.Binary(data))
}

// dial performs one handshake attempt and installs the resulting stream.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.setStateLocked(StateConnecting)
	gen := c.gen
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	s, err := c.tr.Dial(dctx, c.url, c.header)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %v", ErrConnectTimeout, c.cfg.ConnectTimeout, err)
		}

		c.mu.Lock()
		if c.disposed || c.gen != gen {
			// Disposed or voluntarily disconnected mid-handshake.
			c.mu.Unlock()
			return err
		}
		c.setStateLocked(StateDisconnected)
		c.errs.Publish(err)
		if c.cfg.AutoReconnect {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()

		c.logger.Debug("connect failed", "error", err)
		return err
	}

	c.mu.Lock()
	if c.disposed || c.gen != gen {
		disposed := c.disposed
		c.mu.Unlock()
		s.Close(true)
		if disposed {
			return ErrDisposed
		}
		return nil
	}
	c.stream = s
	c.attempts = 0
	if c.cfg.ResetBackoffOnConnect {
		c.delay = c.cfg.InitialDelay
	}
	c.setStateLocked(StateConnected)
	c.startKeepaliveLocked()
	c.mu.Unlock()

	go c.readLoop(s)

	c.logger.Info("connected")
	return nil
}

// readLoop republishes inbound messages until the stream terminates, then
// drives the disconnect transition.
func (c *Client) readLoop(s transport.Stream) {
	for msg := range s.Receive() {
		arrival := time.Now()

		c.mu.Lock()
		if c.disposed || c.stream != s {
			c.mu.Unlock()
			return
		}
		c.messages.Publish(msg)
		if msg.Kind == transport.KindText {
			if env, ok := envelope.Decode([]byte(msg.Text), arrival); ok {
				c.events.Publish(env)
			}
		}
		c.mu.Unlock()
	}

	err := s.Err()

	c.mu.Lock()
	defer c.mu.Unlock()

	// A voluntary close or a replaced stream is not a failure.
	if c.disposed || c.stream != s {
		return
	}
	c.stream = nil
	c.stopKeepaliveLocked()
	c.setStateLocked(StateDisconnected)
	if err != nil {
		c.errs.Publish(err)
	}
	if c.cfg.AutoReconnect {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the reconnect timer for the current delay,
// or stops permanently once the attempt ceiling is reached. Caller holds mu
// with state Disconnected.
func (c *Client) scheduleReconnectLocked() {
	if c.cfg.MaxReconnectAttempts > 0 && c.attempts >= c.cfg.MaxReconnectAttempts {
		c.errs.Publish(ErrMaxAttemptsExceeded)
		c.logger.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}

	// Delay compounds once per failed reconnect attempt; the first failure
	// retries at the working delay as-is.
	if c.attempts > 0 {
		c.delay = c.calc.Next(c.delay)
	}

	c.setStateLocked(StateReconnecting)
	c.reconnectTimer = time.AfterFunc(c.delay, c.onReconnectTimer)

	c.logger.Debug("reconnect scheduled", "delay", c.delay, "attempt", c.attempts+1)
}

// onReconnectTimer fires the pending reconnect attempt.
func (c *Client) onReconnectTimer() {
	c.mu.Lock()
	if c.disposed || c.reconnectTimer == nil || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("reconnecting", "attempt", attempt)

	if err := c.dial(c.ctx); err != nil {
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// cancelReconnectLocked stops any pending reconnect timer. Caller holds mu.
func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// startKeepaliveLocked starts the periodic ping sender. Caller holds mu
// with state Connected.
func (c *Client) startKeepaliveLocked() {
	if c.cfg.PingInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.keepaliveStop = stop
	go c.keepaliveLoop(stop)
}

// stopKeepaliveLocked stops the keepalive sender. Caller holds mu.
func (c *Client) stopKeepaliveLocked() {
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
}

// keepaliveLoop sends a ping envelope every PingInterval while connected.
func (c *Client) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			s := c.stream
			connected := !c.disposed && c.state == StateConnected
			c.mu.Unlock()

			if !connected || s == nil {
				continue
			}

			raw, err := envelope.Ping().Encode()
			if err != nil {
				continue
			}
			if err := s.Send(transport.Text(string(raw))); err != nil {
				c.logger.Debug("keepalive send failed", "error", err)
			}
		}
	}
}

// setStateLocked transitions the state machine and publishes the change.
// Caller holds mu.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.states.Publish(s)
}
