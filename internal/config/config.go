package config

import (
	"time"

	"github.com/fieldline/wirepool/internal/client"
)

// DaemonConfig is the root configuration for a wirepoold instance.
type DaemonConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Endpoints  []EndpointConfig `yaml:"endpoints"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DBConfig         `yaml:"database"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// EndpointConfig describes one endpoint to keep connected.
type EndpointConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Record  bool              `yaml:"record"`
}

// ConnectionConfig holds pool and per-connection settings.
type ConnectionConfig struct {
	PoolCapacity         int           `yaml:"pool_capacity"`
	AutoReconnect        *bool         `yaml:"auto_reconnect"` // nil = enabled
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	BackoffMultiplier    float64       `yaml:"backoff_multiplier"`
	JitterFactor         float64       `yaml:"jitter_factor"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	ReadBufferSize       int           `yaml:"read_buffer_size"`
}

// ClientConfig converts the connection section to a client config.
func (c ConnectionConfig) ClientConfig() client.Config {
	return client.Config{
		AutoReconnect:         c.AutoReconnect == nil || *c.AutoReconnect,
		MaxReconnectAttempts:  c.MaxReconnectAttempts,
		InitialDelay:          c.ReconnectBaseDelay,
		MaxDelay:              c.ReconnectMaxDelay,
		BackoffMultiplier:     c.BackoffMultiplier,
		JitterFactor:          c.JitterFactor,
		PingInterval:          c.PingInterval,
		ConnectTimeout:        c.ConnectTimeout,
		ResetBackoffOnConnect: true,
	}
}

// DBConfig holds the PostgreSQL connection for the recorder.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds message archiver settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	SpoolSize     int           `yaml:"spool_size"`
}

// HealthConfig holds the HTTP health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
