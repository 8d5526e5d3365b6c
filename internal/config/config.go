package config

import "time"

// ServerConfig is the root configuration for a chat server instance.
type ServerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   HTTPConfig     `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Registry RegistryConfig `yaml:"registry"`
	Cache    CacheConfig    `yaml:"cache"`
	Writer   WriterConfig   `yaml:"writer"`
	Push     PushConfig     `yaml:"push"`
}

// InstanceConfig identifies this server instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds the HTTP/WebSocket listener settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"` // Read limit per WebSocket frame
	WriteTimeout    time.Duration `yaml:"write_timeout"`     // Deadline for socket sends
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
}

// DatabaseConfig selects and configures the persistent store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps all state
	// in-process and exists for development and tests.
	Driver   string   `yaml:"driver"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// ReadConns bounds the read-only pool. The write side always uses a
	// single connection owned by the writer.
	ReadConns      int           `yaml:"read_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// RegistryConfig holds connection registry settings.
type RegistryConfig struct {
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user"`
	SendBufferSize        int           `yaml:"send_buffer_size"` // Per-connection outbound channel depth
	TypingTTL             time.Duration `yaml:"typing_ttl"`
	BroadcastCacheTTL     time.Duration `yaml:"broadcast_cache_ttl"` // Duplicate-suppression window
	SweepInterval         time.Duration `yaml:"sweep_interval"`
}

// CacheConfig holds TTLs for the read caches.
type CacheConfig struct {
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MembershipTTL  time.Duration `yaml:"membership_ttl"`
	MessagePageTTL time.Duration `yaml:"message_page_ttl"`
	SearchTTL      time.Duration `yaml:"search_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// WriterConfig holds writer actor settings.
type WriterConfig struct {
	QueueSize int `yaml:"queue_size"` // Initial work queue capacity
}

// PushConfig holds push notification dispatch settings.
type PushConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"` // Simultaneous delivery attempts
}
