package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *DaemonConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("endpoints[%d].url is required", i)
		}
		name := ep.Name
		if name == "" {
			name = ep.URL
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate endpoint %q", name)
		}
		seen[name] = struct{}{}
	}

	if c.Connection.PoolCapacity < 1 {
		return errors.New("connection.pool_capacity must be >= 1")
	}
	if err := c.Connection.ClientConfig().Validate(); err != nil {
		return fmt.Errorf("connection: %w", err)
	}

	if c.Recorder.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.SpoolSize < 1 {
			return errors.New("recorder.spool_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
