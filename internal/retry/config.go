package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a retry configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid retry config")

// Config controls how many times a task is retried and how long to wait
// between attempts.
type Config struct {
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	EnableJitter      bool          `yaml:"enable_jitter" json:"enable_jitter"`
}

// DefaultConfig returns the retry settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		EnableJitter:      true,
	}
}

// Validate rejects configs that would make the backoff loop misbehave.
// Values are never clamped.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("%w: initial_delay must be >= 0, got %s", ErrInvalidConfig, c.InitialDelay)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("%w: max_delay must be >= 0, got %s", ErrInvalidConfig, c.MaxDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: max_delay (%s) must be >= initial_delay (%s)", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1, got %g", ErrInvalidConfig, c.BackoffMultiplier)
	}
	return nil
}

// Delay returns the wait before retrying after the given zero-based attempt,
// before jitter: min(initial * multiplier^attempt, max).
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}
