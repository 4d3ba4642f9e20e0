package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// MaxDepth bounds how many reference levels Rehydrate follows below the root.
	// Default: 32
	// Max: 1024
	MaxDepth int

	// Logger receives warnings about malformed records and failed deletes.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for plan-shaped documents.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 32,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxDepth < 1 {
		c.MaxDepth = 32
	}
	if c.MaxDepth > 1024 {
		c.MaxDepth = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
