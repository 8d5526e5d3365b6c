package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr              = ":8080"
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultDriver            = "postgres"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultReadConns         = 8
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultMaxConnsPerUser   = 5
	DefaultSendBufferSize    = 256
	DefaultTypingTTL         = 5 * time.Second
	DefaultBroadcastCacheTTL = 2 * time.Second
	DefaultRegistrySweep     = 1 * time.Second
	DefaultSessionTTL        = 24 * time.Hour
	DefaultMembershipTTL     = 5 * time.Minute
	DefaultMessagePageTTL    = 1 * time.Minute
	DefaultSearchTTL         = 30 * time.Second
	DefaultCacheSweep        = 30 * time.Second
	DefaultWriterQueueSize   = 1024
	DefaultPushConcurrency   = 16
)

func (c *ServerConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = DefaultDBPort
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = DefaultDBSSLMode
	}
	if c.Database.Postgres.ReadConns == 0 {
		c.Database.Postgres.ReadConns = DefaultReadConns
	}
	if c.Database.Postgres.AcquireTimeout == 0 {
		c.Database.Postgres.AcquireTimeout = DefaultAcquireTimeout
	}

	// Registry defaults
	if c.Registry.MaxConnectionsPerUser == 0 {
		c.Registry.MaxConnectionsPerUser = DefaultMaxConnsPerUser
	}
	if c.Registry.SendBufferSize == 0 {
		c.Registry.SendBufferSize = DefaultSendBufferSize
	}
	if c.Registry.TypingTTL == 0 {
		c.Registry.TypingTTL = DefaultTypingTTL
	}
	if c.Registry.BroadcastCacheTTL == 0 {
		c.Registry.BroadcastCacheTTL = DefaultBroadcastCacheTTL
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = DefaultRegistrySweep
	}

	// Cache defaults
	if c.Cache.SessionTTL == 0 {
		c.Cache.SessionTTL = DefaultSessionTTL
	}
	if c.Cache.MembershipTTL == 0 {
		c.Cache.MembershipTTL = DefaultMembershipTTL
	}
	if c.Cache.MessagePageTTL == 0 {
		c.Cache.MessagePageTTL = DefaultMessagePageTTL
	}
	if c.Cache.SearchTTL == 0 {
		c.Cache.SearchTTL = DefaultSearchTTL
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultCacheSweep
	}

	// Writer defaults
	if c.Writer.QueueSize == 0 {
		c.Writer.QueueSize = DefaultWriterQueueSize
	}

	// Push defaults
	if c.Push.MaxConcurrent == 0 {
		c.Push.MaxConcurrent = DefaultPushConcurrency
	}
}
