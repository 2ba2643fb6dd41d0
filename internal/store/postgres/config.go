package postgres

import (
	"fmt"
	"time"
)

// EngineConfig holds engine-specific settings. Pool configuration is
// handled separately via PoolConfig.
type EngineConfig struct {
	// QueryTimeout bounds each read. Default: 10s.
	// Writes run inside Apply and are bounded by the caller instead.
	QueryTimeout time.Duration

	// IsolationLevel for Apply transactions. Default: read committed, which
	// together with version-checked updates gives first-writer-wins.
	IsolationLevel string
}

// Validate checks that the configuration is valid.
func (c *EngineConfig) Validate() error {
	switch c.IsolationLevel {
	case "read committed", "repeatable read", "serializable":
	default:
		return fmt.Errorf("unsupported isolation level %q", c.IsolationLevel)
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *EngineConfig) ApplyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.IsolationLevel == "" {
		c.IsolationLevel = "read committed"
	}
}
