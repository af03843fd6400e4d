package retry

import (
	"fmt"
	"time"
)

// Config selects and tunes the strategy built by NewStrategy. The
// reconciler reads it from RECONCILE_RETRY_* (see internal/config).
type Config struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig spreads about six checks over roughly two minutes, which
// covers a slow block plus an RPC node lagging behind.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxRetries:   6,
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
	}
}

// Validate rejects settings the backoff loop cannot run with
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %v", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %v is below initial delay %v", c.MaxDelay, c.InitialDelay)
	}
	return nil
}
