package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPoolCapacity       = 20
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultJitterFactor       = 0.1
	DefaultPingInterval       = 30 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReadBufferSize     = 256
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultSpoolSize          = 4096
	DefaultHealthPort         = 8080
	DefaultHealthPath         = "/healthz"
)

func (c *DaemonConfig) applyDefaults() {
	// Connection defaults
	if c.Connection.PoolCapacity == 0 {
		c.Connection.PoolCapacity = DefaultPoolCapacity
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.BackoffMultiplier == 0 {
		c.Connection.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Connection.JitterFactor == 0 {
		c.Connection.JitterFactor = DefaultJitterFactor
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.ReadBufferSize == 0 {
		c.Connection.ReadBufferSize = DefaultReadBufferSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.SpoolSize == 0 {
		c.Recorder.SpoolSize = DefaultSpoolSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
