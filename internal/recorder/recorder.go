package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldline/wirepool/internal/envelope"
	"github.com/fieldline/wirepool/internal/stream"
	"github.com/fieldline/wirepool/internal/transport"
)

// Source is anything that exposes the broadcast streams a recorder archives.
// A connection client satisfies this.
type Source interface {
	SubscribeMessages() *stream.Subscription[transport.Message]
	SubscribeEvents() *stream.Subscription[envelope.Envelope]
}

// Recorder archives one endpoint's inbound traffic to the database.
// Raw frames go to the messages table, promoted envelopes to the events
// table. Rows are spooled in memory and flushed in batches.
type Recorder struct {
	cfg      Config
	endpoint string
	logger   *slog.Logger

	// Input from the connection client
	source Source
	msgSub *stream.Subscription[transport.Message]
	evtSub *stream.Subscription[envelope.Envelope]

	// Database
	db *pgxpool.Pool

	// Spooling
	msgSpool *Spool[messageRow]
	evtSpool *Spool[eventRow]
	notify   chan struct{}

	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metricsMu sync.Mutex
	metrics   Metrics
}

// New creates a recorder for the named endpoint.
func New(cfg Config, endpoint string, source Source, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.SpoolSize < 1 {
		cfg.SpoolSize = DefaultConfig().SpoolSize
	}
	return &Recorder{
		cfg:      cfg,
		endpoint: endpoint,
		source:   source,
		db:       db,
		logger:   logger.With("endpoint", endpoint),
		msgSpool: NewSpool[messageRow](cfg.SpoolSize),
		evtSpool: NewSpool[eventRow](cfg.SpoolSize),
		notify:   make(chan struct{}, 1),
	}
}

// Start subscribes to the source and begins spooling and flushing.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.msgSub = r.source.SubscribeMessages()
	r.evtSub = r.source.SubscribeEvents()

	r.wg.Add(3)
	go r.messageLoop()
	go r.eventLoop()
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder and performs a final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.msgSub != nil {
		r.msgSub.Cancel()
	}
	if r.evtSub != nil {
		r.evtSub.Cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush of anything still spooled, then seal the spools so a
	// late publish counts as a drop instead of lingering unarchived.
	r.flush(ctx)
	r.msgSpool.Close()
	r.evtSpool.Close()

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	return r.metrics
}

// messageLoop spools raw inbound frames.
func (r *Recorder) messageLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-r.msgSub.C:
			if !ok {
				return
			}
			r.spoolMessage(transformMessage(r.endpoint, msg, time.Now()))
		}
	}
}

// eventLoop spools promoted envelopes.
func (r *Recorder) eventLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case evt, ok := <-r.evtSub.C:
			if !ok {
				return
			}
			r.spoolEvent(transformEvent(r.endpoint, evt, time.Now()))
		}
	}
}

// flushLoop flushes on the ticker and on batch-size notifications.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		case <-r.notify:
			r.flush(r.ctx)
		}
	}
}

func (r *Recorder) spoolMessage(row messageRow) {
	if !r.msgSpool.Put(row) {
		r.dropped()
		return
	}
	if r.msgSpool.Len() >= r.cfg.BatchSize {
		r.wake()
	}
}

func (r *Recorder) spoolEvent(row eventRow) {
	if !r.evtSpool.Put(row) {
		r.dropped()
		return
	}
	if r.evtSpool.Len() >= r.cfg.BatchSize {
		r.wake()
	}
}

func (r *Recorder) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) dropped() {
	r.metricsMu.Lock()
	r.metrics.Drops++
	r.metricsMu.Unlock()
}

// transformMessage converts a raw frame to a messageRow.
func transformMessage(endpoint string, msg transport.Message, receivedAt time.Time) messageRow {
	var payload []byte
	switch msg.Kind {
	case transport.KindText:
		payload = []byte(msg.Text)
	case transport.KindBinary:
		payload = msg.Binary
	}
	return messageRow{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		ReceivedAt: receivedAt.UnixMicro(),
		Kind:       msg.Kind.String(),
		Payload:    payload,
	}
}

// transformEvent converts an envelope to an eventRow.
func transformEvent(endpoint string, evt envelope.Envelope, receivedAt time.Time) eventRow {
	return eventRow{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		EventType:  evt.Type,
		EventTs:    evt.Timestamp.UnixMicro(),
		ReceivedAt: receivedAt.UnixMicro(),
		Payload:    []byte(evt.Data),
	}
}

// flush drains both spools and writes everything to the database.
func (r *Recorder) flush(ctx context.Context) {
	for {
		rows := r.msgSpool.Drain(r.cfg.BatchSize)
		if len(rows) == 0 {
			break
		}
		r.insertMessages(ctx, rows)
	}
	for {
		rows := r.evtSpool.Drain(r.cfg.BatchSize)
		if len(rows) == 0 {
			break
		}
		r.insertEvents(ctx, rows)
	}
}

// insertMessages inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) insertMessages(ctx context.Context, rows []messageRow) {
	start := time.Now()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO messages (id, endpoint, received_at, kind, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.Endpoint, row.ReceivedAt, row.Kind, row.Payload)
	}

	conflicts, err := r.sendBatch(ctx, batch, len(rows))
	if err != nil {
		r.logger.Error("message batch insert failed", "error", err, "count", len(rows))
		r.metricsMu.Lock()
		r.metrics.Errors++
		r.metricsMu.Unlock()
		return
	}

	r.metricsMu.Lock()
	r.metrics.Inserts += int64(len(rows) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.metricsMu.Unlock()

	r.logger.Debug("flushed messages",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// insertEvents inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) insertEvents(ctx context.Context, rows []eventRow) {
	start := time.Now()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO events (id, endpoint, event_type, event_ts, received_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.Endpoint, row.EventType, row.EventTs, row.ReceivedAt, row.Payload)
	}

	conflicts, err := r.sendBatch(ctx, batch, len(rows))
	if err != nil {
		r.logger.Error("event batch insert failed", "error", err, "count", len(rows))
		r.metricsMu.Lock()
		r.metrics.Errors++
		r.metricsMu.Unlock()
		return
	}

	r.metricsMu.Lock()
	r.metrics.Inserts += int64(len(rows) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.metricsMu.Unlock()

	r.logger.Debug("flushed events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (r *Recorder) sendBatch(ctx context.Context, batch *pgx.Batch, n int) (conflicts int, err error) {
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < n; i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
