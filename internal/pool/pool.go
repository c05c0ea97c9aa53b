// Package pool manages a bounded registry of connections keyed by endpoint
// identity, with disposed-then-idle eviction when capacity is reached.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/fieldline/wirepool/internal/client"
	"github.com/fieldline/wirepool/internal/transport"
)

// DefaultCapacity is the default maximum number of tracked endpoints.
const DefaultCapacity = 20

// Config configures a Pool.
type Config struct {
	// Capacity bounds the number of tracked endpoints. 0 means
	// DefaultCapacity.
	Capacity int

	// ClientDefaults is the connection config used when GetOrCreate is
	// called with a zero config.
	ClientDefaults client.Config
}

// Pool maps endpoint identity to a connection. Pools are explicitly
// constructed and passed to consumers; there is no package-level instance.
type Pool struct {
	cfg       Config
	logger    *slog.Logger
	transport transport.Transport

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
}

// entry tracks one pooled connection with its insertion order.
type entry struct {
	client *client.Client
	seq    uint64
}

// Option customizes a Pool.
type Option func(*Pool)

// WithTransport sets the transport handed to every created client.
func WithTransport(tr transport.Transport) Option {
	return func(p *Pool) { p.transport = tr }
}

// New creates a Pool.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate returns the connection for the endpoint, creating one if
// needed. At capacity, disposed entries are pruned first, then the oldest
// Disconnected entry is evicted; with no candidate the pool grows past its
// bound. When autoConnect is set a connect is started for a new or idle
// connection.
func (p *Pool) GetOrCreate(ctx context.Context, url string, header http.Header, cfg client.Config, autoConnect bool) (*client.Client, error) {
	key := endpointKey(url, header)

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		if !e.client.Disposed() {
			c := e.client
			p.mu.Unlock()
			if autoConnect {
				p.connectIfIdle(ctx, c)
			}
			return c, nil
		}
		// A disposed connection cannot be resurrected; replace it.
		delete(p.entries, key)
	}

	if len(p.entries) >= p.cfg.Capacity {
		p.pruneDisposedLocked()
	}
	if len(p.entries) >= p.cfg.Capacity {
		if !p.evictOldestDisconnectedLocked() {
			// Every tracked connection is active. Insert anyway and let
			// the pool grow past its bound.
			p.logger.Warn("pool over capacity, no eviction candidate",
				"capacity", p.cfg.Capacity,
				"size", len(p.entries)+1,
			)
		}
	}

	if isZero(cfg) {
		cfg = p.cfg.ClientDefaults
	}

	clientOpts := []client.Option{
		client.WithHeader(header),
		client.WithLogger(p.logger),
	}
	if p.transport != nil {
		clientOpts = append(clientOpts, client.WithTransport(p.transport))
	}

	c, err := client.New(url, cfg, clientOpts...)
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("create client for %s: %w", url, err)
	}

	p.seq++
	p.entries[key] = &entry{client: c, seq: p.seq}
	size := len(p.entries)
	p.mu.Unlock()

	p.logger.Debug("connection added to pool", "endpoint", url, "size", size)

	if autoConnect {
		p.connectIfIdle(ctx, c)
	}
	return c, nil
}

// EnsureConnected reports whether the endpoint's connection is usable:
// true when already connected or a connect succeeds, false when the
// connection is disposed or the connect fails.
func (p *Pool) EnsureConnected(ctx context.Context, url string, header http.Header, cfg client.Config) bool {
	p.mu.Lock()
	if e, ok := p.entries[endpointKey(url, header)]; ok && e.client.Disposed() {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	c, err := p.GetOrCreate(ctx, url, header, cfg, false)
	if err != nil {
		p.logger.Warn("ensure connected failed", "endpoint", url, "error", err)
		return false
	}
	if c.Disposed() {
		return false
	}
	if c.State() == client.StateConnected {
		return true
	}
	return c.Connect(ctx) == nil
}

// Remove disposes and removes the endpoint's connection. It reports
// whether an entry was present.
func (p *Pool) Remove(url string, header http.Header) bool {
	key := endpointKey(url, header)

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	e.client.Dispose()
	return true
}

// DisposeAll disposes every managed connection and clears the registry.
func (p *Pool) DisposeAll() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for key, e := range p.entries {
		entries = append(entries, e)
		delete(p.entries, key)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.client.Dispose()
	}

	p.logger.Debug("pool disposed", "count", len(entries))
}

// Cleanup removes disposed entries, then disposes and removes every
// connection currently Disconnected.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	p.pruneDisposedLocked()

	var idle []*entry
	for key, e := range p.entries {
		if e.client.State() == client.StateDisconnected {
			idle = append(idle, e)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, e := range idle {
		e.client.Dispose()
	}

	if len(idle) > 0 {
		p.logger.Debug("pool cleanup", "removed", len(idle))
	}
}

// Len returns the number of tracked endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Status describes one pooled connection.
type Status struct {
	URL      string `json:"url"`
	State    string `json:"state"`
	Disposed bool   `json:"disposed,omitempty"`
}

// Snapshot returns the current status of every tracked connection, ordered
// by insertion.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, Status{
			URL:      e.client.URL(),
			State:    e.client.State().String(),
			Disposed: e.client.Disposed(),
		})
	}
	return out
}

// connectIfIdle starts a connect unless one is active or pending.
func (p *Pool) connectIfIdle(ctx context.Context, c *client.Client) {
	switch {
	case c.Disposed():
		return
	case c.State() == client.StateConnected, c.State() == client.StateConnecting:
		return
	}
	go func() {
		if err := c.Connect(ctx); err != nil {
			p.logger.Debug("pool connect failed", "endpoint", c.URL(), "error", err)
		}
	}()
}

// pruneDisposedLocked removes entries whose client is disposed. Caller
// holds mu.
func (p *Pool) pruneDisposedLocked() {
	for key, e := range p.entries {
		if e.client.Disposed() {
			delete(p.entries, key)
		}
	}
}

// evictOldestDisconnectedLocked evicts the oldest entry in the
// Disconnected state. Caller holds mu. Reports whether an entry was
// evicted.
func (p *Pool) evictOldestDisconnectedLocked() bool {
	var oldestKey string
	var oldest *entry

	for key, e := range p.entries {
		if e.client.State() != client.StateDisconnected {
			continue
		}
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
			oldestKey = key
		}
	}
	if oldest == nil {
		return false
	}

	delete(p.entries, oldestKey)
	oldest.client.Dispose()

	p.logger.Debug("evicted idle connection", "endpoint", oldest.client.URL())
	return true
}

// endpointKey canonicalizes URL plus headers into a registry key.
func endpointKey(url string, header http.Header) string {
	if len(header) == 0 {
		return url
	}

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.Join(header[k], ","))
	}
	return b.String()
}

// isZero reports whether cfg is the zero config, meaning the caller wants
// the pool's defaults.
func isZero(cfg client.Config) bool {
	return cfg == (client.Config{})
}
