package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/fieldline/wirepool/internal/backoff"
)

// Errors
var (
	ErrConnectInProgress   = errors.New("connect already in progress")
	ErrConnectTimeout      = errors.New("connect timeout")
	ErrDisposed            = errors.New("client disposed")
	ErrMaxAttemptsExceeded = errors.New("max reconnect attempts exceeded")
)

// Config controls one connection's retry, keepalive, and timeout behavior.
type Config struct {
	// AutoReconnect enables reconnect scheduling after failures and
	// remote closures.
	AutoReconnect bool

	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int

	// InitialDelay is the first reconnect delay and the lower backoff bound.
	InitialDelay time.Duration

	// MaxDelay is the upper backoff bound.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// JitterFactor randomizes delays, as a fraction of the scaled delay.
	JitterFactor float64

	// PingInterval is the keepalive period while connected. 0 disables
	// keepalive.
	PingInterval time.Duration

	// ConnectTimeout bounds the transport handshake.
	ConnectTimeout time.Duration

	// ResetBackoffOnConnect resets the working delay to InitialDelay on a
	// successful connect.
	ResetBackoffOnConnect bool

	// StreamBuffer is the per-subscriber buffer size of the event streams.
	StreamBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:         true,
		MaxReconnectAttempts:  0,
		InitialDelay:          1 * time.Second,
		MaxDelay:              30 * time.Second,
		BackoffMultiplier:     2.0,
		JitterFactor:          0.1,
		PingInterval:          30 * time.Second,
		ConnectTimeout:        10 * time.Second,
		ResetBackoffOnConnect: true,
		StreamBuffer:          64,
	}
}

// withDefaults fills unset numeric fields. Booleans are taken as given.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialDelay == 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = def.StreamBuffer
	}
	return c
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if err := c.backoffPolicy().Validate(); err != nil {
		return err
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be > 0, got %v", c.ConnectTimeout)
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping interval must be >= 0, got %v", c.PingInterval)
	}
	return nil
}

func (c Config) backoffPolicy() backoff.Policy {
	return backoff.Policy{
		Initial:    c.InitialDelay,
		Max:        c.MaxDelay,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.JitterFactor,
	}
}
