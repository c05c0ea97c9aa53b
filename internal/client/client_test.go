package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fieldline/wirepool/internal/envelope"
	"github.com/fieldline/wirepool/internal/stream"
	"github.com/fieldline/wirepool/internal/transport"
)

// fakeStream is an in-memory transport.Stream driven by the test.
type fakeStream struct {
	mu           sync.Mutex
	sent         []transport.Message
	in           chan transport.Message
	err          error
	closed       bool
	closedNormal bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan transport.Message, 64)}
}

func (s *fakeStream) Send(msg transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrStreamClosed
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeStream) Receive() <-chan transport.Message {
	return s.in
}

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close(normal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closedNormal = normal
	close(s.in)
	return nil
}

// push delivers a message to the client's read loop.
func (s *fakeStream) push(msg transport.Message) {
	s.in <- msg
}

// fail simulates a transport-initiated closure.
func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.in)
}

func (s *fakeStream) sentMessages() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeTransport fails the first failCount dials, then hands out fake streams.
// failCount < 0 means every dial fails.
type fakeTransport struct {
	mu        sync.Mutex
	failCount int
	dials     int
	streams   []*fakeStream
	block     bool // hang until ctx is done
}

func (t *fakeTransport) Dial(ctx context.Context, url string, header http.Header) (transport.Stream, error) {
	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failCount < 0 || t.dials <= t.failCount {
		return nil, fmt.Errorf("dial refused (attempt %d)", t.dials)
	}
	s := newFakeStream()
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastStream() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

// fastConfig returns a config with millisecond delays so retry tests run
// quickly.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxDelay = 100 * time.Millisecond
	cfg.JitterFactor = 0
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.PingInterval = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config, tr transport.Transport) *Client {
	t.Helper()
	c, err := New("wss://example/test", cfg, WithTransport(tr))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

// drainedClosed consumes buffered values and reports whether the channel
// has been closed.
func drainedClosed[T any](ch <-chan T) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

// drainStates collects all state events currently buffered.
func drainStates(sub *stream.Subscription[State]) []State {
	var out []State
	for {
		select {
		case s, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Minute
	cfg.MaxDelay = time.Second

	if _, err := New("wss://example/test", cfg); err == nil {
		t.Error("expected error for initialDelay > maxDelay")
	}

	cfg = DefaultConfig()
	cfg.JitterFactor = 2

	if _, err := New("wss://example/test", cfg); err == nil {
		t.Error("expected error for jitter > 1")
	}
}

func TestConnectSuccess(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)
	states := c.SubscribeStates()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := c.State(); got != StateConnected {
		t.Errorf("State() = %v, want connected", got)
	}

	want := []State{StateConnecting, StateConnected}
	got := drainStates(states)
	if len(got) != len(want) {
		t.Fatalf("state events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state event %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Re-entrant connect while connected is a successful no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second Connect = %v, want nil", err)
	}
	if tr.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (no duplicate handshake)", tr.dialCount())
	}
}

func TestConnectWhileConnecting(t *testing.T) {
	tr := &fakeTransport{block: true}
	cfg := fastConfig()
	cfg.AutoReconnect = false
	cfg.ConnectTimeout = 200 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	// Wait until the first connect is in flight.
	deadline := time.Now().Add(time.Second)
	for c.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("client never entered connecting state")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("overlapping Connect = %v, want ErrConnectInProgress", err)
	}

	<-errCh
}

func TestConnectTimeout(t *testing.T) {
	tr := &fakeTransport{block: true}
	cfg := fastConfig()
	cfg.AutoReconnect = false
	cfg.ConnectTimeout = 20 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("Connect = %v, want ErrConnectTimeout", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestReconnectScenario(t *testing.T) {
	// Always-failing transport with maxReconnectAttempts=3: the initial
	// failure is followed by exactly three scheduled attempts, then the
	// retry loop stops for good.
	tr := &fakeTransport{failCount: -1}
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 3
	c := newTestClient(t, cfg, tr)

	states := c.SubscribeStates()
	errs := c.SubscribeErrors()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure")
	}

	// Delays are 10ms, 20ms, 40ms; allow generous settling time.
	time.Sleep(300 * time.Millisecond)

	if got := tr.dialCount(); got != 4 {
		t.Errorf("dials = %d, want 4 (initial + 3 reconnects)", got)
	}

	want := []State{
		StateConnecting, StateDisconnected,
		StateReconnecting, StateConnecting, StateDisconnected,
		StateReconnecting, StateConnecting, StateDisconnected,
		StateReconnecting, StateConnecting, StateDisconnected,
	}
	got := drainStates(states)
	if len(got) != len(want) {
		t.Fatalf("state sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state %d = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}

	var sawMaxAttempts bool
	for done := false; !done; {
		select {
		case err := <-errs.C:
			if errors.Is(err, ErrMaxAttemptsExceeded) {
				sawMaxAttempts = true
			}
		default:
			done = true
		}
	}
	if !sawMaxAttempts {
		t.Error("expected ErrMaxAttemptsExceeded on the error stream")
	}

	// No further activity after the ceiling.
	time.Sleep(150 * time.Millisecond)
	if got := tr.dialCount(); got != 4 {
		t.Errorf("dials after ceiling = %d, want 4", got)
	}
	if extra := drainStates(states); len(extra) != 0 {
		t.Errorf("unexpected state events after ceiling: %v", extra)
	}
}

func TestReconnectUnlimitedAttempts(t *testing.T) {
	tr := &fakeTransport{failCount: -1}
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 0
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	c.Connect(context.Background())
	time.Sleep(150 * time.Millisecond)

	if got := tr.dialCount(); got < 6 {
		t.Errorf("dials = %d, want at least 6 (retries never stop)", got)
	}
	if got := c.State(); got != StateReconnecting && got != StateConnecting {
		t.Errorf("State() = %v, want a retrying state", got)
	}
}

func TestExplicitConnectResetsEligibility(t *testing.T) {
	tr := &fakeTransport{failCount: -1}
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	c := newTestClient(t, cfg, tr)

	c.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)

	exhausted := tr.dialCount()
	if exhausted != 2 {
		t.Fatalf("dials = %d, want 2 (initial + 1 reconnect)", exhausted)
	}

	// A new explicit connect starts a fresh retry sequence.
	c.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)

	if got := tr.dialCount(); got != exhausted+2 {
		t.Errorf("dials after explicit reconnect = %d, want %d", got, exhausted+2)
	}
}

func TestBackoffResetOnConnect(t *testing.T) {
	// Two failures compound the delay, then a success resets it.
	tr := &fakeTransport{failCount: 3}
	cfg := fastConfig()
	c := newTestClient(t, cfg, tr)

	c.Connect(context.Background())

	deadline := time.Now().Add(time.Second)
	for c.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.mu.Lock()
	delay, attempts := c.delay, c.attempts
	c.mu.Unlock()

	if delay != cfg.InitialDelay {
		t.Errorf("working delay after connect = %v, want %v", delay, cfg.InitialDelay)
	}
	if attempts != 0 {
		t.Errorf("attempt counter after connect = %d, want 0", attempts)
	}
}

func TestRemoteCloseTriggersReconnect(t *testing.T) {
	tr := &fakeTransport{}
	cfg := fastConfig()
	c := newTestClient(t, cfg, tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	errs := c.SubscribeErrors()

	transportErr := errors.New("connection reset")
	tr.lastStream().fail(transportErr)

	deadline := time.Now().Add(time.Second)
	for c.State() != StateConnected || tr.dialCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect (state %v, dials %d)", c.State(), tr.dialCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case err := <-errs.C:
		if !errors.Is(err, transportErr) {
			t.Errorf("error stream got %v, want %v", err, transportErr)
		}
	default:
		t.Error("expected transport error on the error stream")
	}
}

func TestDisconnectIsVoluntary(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s := tr.lastStream()

	c.Disconnect()

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	s.mu.Lock()
	closedNormal := s.closedNormal
	s.mu.Unlock()
	if !closedNormal {
		t.Error("expected normal-closure close of the transport")
	}

	// Voluntary close never schedules a reconnect.
	time.Sleep(100 * time.Millisecond)
	if got := tr.dialCount(); got != 1 {
		t.Errorf("dials after Disconnect = %d, want 1", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)

	errs := c.SubscribeErrors()
	states := c.SubscribeStates()

	if err := c.SendText("dropped"); err != nil {
		t.Errorf("SendText = %v, want nil no-op", err)
	}
	if err := c.SendEnvelope("ping", nil); err != nil {
		t.Errorf("SendEnvelope = %v, want nil no-op", err)
	}

	select {
	case err := <-errs.C:
		t.Errorf("unexpected error event: %v", err)
	default:
	}
	if got := drainStates(states); len(got) != 0 {
		t.Errorf("unexpected state events: %v", got)
	}
}

func TestSendEnvelope(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.SendEnvelope("order", map[string]int{"qty": 2}); err != nil {
		t.Fatalf("SendEnvelope failed: %v", err)
	}

	sent := tr.lastStream().sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	env, ok := envelope.Decode([]byte(sent[0].Text), time.Now())
	if !ok {
		t.Fatal("sent message is not a valid envelope")
	}
	if env.Type != "order" {
		t.Errorf("envelope type = %q, want %q", env.Type, "order")
	}
}

func TestInboundPromotion(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	msgs := c.SubscribeMessages()
	events := c.SubscribeEvents()
	s := tr.lastStream()

	s.push(transport.Text(`{"type":"quote","data":{"px":42}}`))
	s.push(transport.Text("plain text"))
	s.push(transport.Binary([]byte{0xde, 0xad}))

	// All three arrive on the raw stream.
	for i := 0; i < 3; i++ {
		select {
		case <-msgs.C:
		case <-time.After(time.Second):
			t.Fatalf("raw message %d never arrived", i)
		}
	}

	// Only the typed object is promoted.
	select {
	case env := <-events.C:
		if env.Type != "quote" {
			t.Errorf("event type = %q, want %q", env.Type, "quote")
		}
		var payload map[string]int
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload["px"] != 42 {
			t.Errorf("event payload = %s, want px=42", env.Data)
		}
		if env.Timestamp.IsZero() {
			t.Error("expected arrival-time default timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("parsed event never arrived")
	}

	select {
	case env := <-events.C:
		t.Errorf("unexpected extra event: %+v", env)
	default:
	}
}

func TestKeepalive(t *testing.T) {
	tr := &fakeTransport{}
	cfg := fastConfig()
	cfg.PingInterval = 20 * time.Millisecond
	c := newTestClient(t, cfg, tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s := tr.lastStream()

	time.Sleep(70 * time.Millisecond)

	pings := countPings(s.sentMessages())
	if pings < 2 {
		t.Errorf("pings = %d, want at least 2", pings)
	}

	// The keepalive timer dies with the connection.
	c.Disconnect()
	before := countPings(s.sentMessages())
	time.Sleep(60 * time.Millisecond)
	after := countPings(s.sentMessages())
	if after != before {
		t.Errorf("pings grew from %d to %d after disconnect", before, after)
	}
}

func countPings(msgs []transport.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Kind != transport.KindText {
			continue
		}
		if env, ok := envelope.Decode([]byte(m.Text), time.Time{}); ok && env.Type == envelope.PingType {
			n++
		}
	}
	return n
}

func TestDisposeIdempotentAndSilent(t *testing.T) {
	tr := &fakeTransport{failCount: -1}
	cfg := fastConfig()
	c := newTestClient(t, cfg, tr)

	states := c.SubscribeStates()
	msgs := c.SubscribeMessages()
	events := c.SubscribeEvents()
	errs := c.SubscribeErrors()

	// Leave a reconnect timer pending, then dispose.
	c.Connect(context.Background())
	c.Dispose()
	c.Dispose() // idempotent

	if !c.Disposed() {
		t.Fatal("Disposed() = false after Dispose")
	}

	dials := tr.dialCount()
	drainStates(states)

	// The pending timer must never fire.
	time.Sleep(100 * time.Millisecond)
	if got := tr.dialCount(); got != dials {
		t.Errorf("dials after dispose = %d, want %d", got, dials)
	}
	if extra := drainStates(states); len(extra) != 0 {
		t.Errorf("state events after dispose: %v", extra)
	}

	// All four streams are closed. Values published before the dispose
	// (the dial error here) stay deliverable, so drain before asserting.
	if !drainedClosed(states.C) {
		t.Error("state stream not closed")
	}
	if !drainedClosed(msgs.C) {
		t.Error("message stream not closed")
	}
	if !drainedClosed(events.C) {
		t.Error("event stream not closed")
	}
	if !drainedClosed(errs.C) {
		t.Error("error stream not closed")
	}

	// Every operation after dispose is a safe no-op.
	if err := c.Connect(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Connect after dispose = %v, want ErrDisposed", err)
	}
	if err := c.SendText("late"); err != nil {
		t.Errorf("Send after dispose = %v, want nil", err)
	}
	c.Disconnect()
}

func TestDisposeClosesActiveStream(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, fastConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s := tr.lastStream()

	c.Dispose()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		t.Error("expected transport stream to be closed on dispose")
	}
}
