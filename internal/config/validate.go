package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Database.Driver {
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case "memory":
		// No connection settings required.
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}

	if c.Registry.MaxConnectionsPerUser < 1 {
		return errors.New("registry.max_connections_per_user must be >= 1")
	}
	if c.Registry.SendBufferSize < 1 {
		return errors.New("registry.send_buffer_size must be >= 1")
	}
	if c.Registry.TypingTTL <= 0 {
		return errors.New("registry.typing_ttl must be positive")
	}

	if c.Writer.QueueSize < 1 {
		return errors.New("writer.queue_size must be >= 1")
	}

	if c.Push.MaxConcurrent < 1 {
		return errors.New("push.max_concurrent must be >= 1")
	}

	return nil
}

func (db DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be 1-65535", prefix)
	}
	if db.ReadConns < 1 {
		return fmt.Errorf("%s.read_conns must be >= 1", prefix)
	}
	return nil
}
