package storage

import "time"

// PostgresConfig tunes the pgx connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

// Option adjusts the Postgres configuration.
type Option func(*PostgresConfig)

// WithPoolSize bounds the connection pool.
func WithPoolSize(min, max int32) Option {
	return func(cfg *PostgresConfig) {
		if min >= 0 {
			cfg.MinConnections = min
		}
		if max > 0 {
			cfg.MaxConnections = max
		}
	}
}

// WithConnLifetimes sets connection recycling intervals.
func WithConnLifetimes(lifetime, idle time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
	}
}

// WithConnectTimeout bounds how long establishing a connection may take.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.ConnectTimeout = timeout
		}
	}
}

// WithApplicationName tags pool connections in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(cfg *PostgresConfig) {
		if name != "" {
			cfg.ApplicationName = name
		}
	}
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: dsn, ApplicationName: "vodforge"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
