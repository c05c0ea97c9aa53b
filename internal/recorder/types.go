package recorder

import (
	"time"
)

// Config contains configuration for a recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// SpoolSize is the initial capacity of the inbound spools.
	SpoolSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		SpoolSize:     4096,
	}
}

// messageRow represents a row to be inserted into the messages table.
type messageRow struct {
	ID         string // UUID
	Endpoint   string
	ReceivedAt int64 // Microseconds
	Kind       string
	Payload    []byte
}

// eventRow represents a row to be inserted into the events table.
type eventRow struct {
	ID         string // UUID
	Endpoint   string
	EventType  string
	EventTs    int64 // Microseconds, from the envelope timestamp
	ReceivedAt int64 // Microseconds
	Payload    []byte // Raw JSON data field
}

// Metrics holds metrics for a recorder.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Drops     int64
}
