package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"stockpulse"`
	Password string `env:"PASSWORD" envDefault:"stockpulse"`
	Name     string `env:"NAME"     envDefault:"stockpulse"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains quote cache configuration (Redis-based).
type CacheConfig struct {
	// Enabled controls whether fetched snapshots are cached at all.
	// With the cache disabled every pipeline run hits the providers.
	Enabled bool `env:"CACHE_ENABLED" envDefault:"true"`

	// QuoteTTL is the TTL for cached market snapshots. Snapshots are keyed
	// by symbol and trading date, so anything past one day is wasted memory.
	QuoteTTL time.Duration `env:"CACHE_QUOTE_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 24 * time.Hour
	}
}
