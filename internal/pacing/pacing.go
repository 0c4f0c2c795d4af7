package pacing

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/adsight/backfill/internal/upstream"
)

// Class is the outcome classification for a single window sync attempt.
type Class int

const (
	// Success means the attempt completed; stop retrying.
	Success Class = iota
	// RateLimited means the upstream throttled the call; retry with linear backoff.
	RateLimited
	// Transient means a network/timeout failure; retry with a fixed short delay.
	Transient
	// Permanent means the error is not worth retrying.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	default:
		return "permanent"
	}
}

// Classify maps an attempt error to its retry class.
func Classify(err error) Class {
	if err == nil {
		return Success
	}
	if upstream.IsRateLimited(err) {
		return RateLimited
	}
	if upstream.IsTransient(err) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	return Permanent
}

// Config holds every pacing knob the engine uses. All fields are plain
// durations/counts so a Config value is immutable once constructed.
type Config struct {
	BatchSizeDays    int           `toml:"batch_size_days"`
	MaxRetries       int           `toml:"max_retries"`
	TransientRetries int           `toml:"transient_retries"`
	RateLimitBase    time.Duration `toml:"rate_limit_base"`
	TransientDelay   time.Duration `toml:"transient_delay"`
	BatchDelay       time.Duration `toml:"batch_delay"`
	GapRepairDelay   time.Duration `toml:"gap_repair_delay"`
	ChainCooldown    time.Duration `toml:"chain_cooldown"`
	SafeMultiplier   int           `toml:"safe_multiplier"`
}

// DefaultConfig returns the standard pacing profile.
func DefaultConfig() Config {
	return Config{
		BatchSizeDays:    30,
		MaxRetries:       5,
		TransientRetries: 3,
		RateLimitBase:    60 * time.Second,
		TransientDelay:   10 * time.Second,
		BatchDelay:       20 * time.Second,
		GapRepairDelay:   5 * time.Second,
		ChainCooldown:    2 * time.Minute,
		SafeMultiplier:   3,
	}
}

// Validate checks the pacing configuration.
func (c Config) Validate() error {
	if c.BatchSizeDays <= 0 {
		return errors.New("pacing batch_size_days must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("pacing max_retries must be positive")
	}
	if c.TransientRetries <= 0 {
		return errors.New("pacing transient_retries must be positive")
	}
	if c.RateLimitBase <= 0 || c.BatchDelay <= 0 {
		return errors.New("pacing delays must be positive")
	}
	if c.SafeMultiplier < 2 {
		return errors.New("pacing safe_multiplier must be at least 2")
	}
	return nil
}

// SafeMode returns a copy of the profile with the inter-batch delay, backoff
// base, and chain cooldown multiplied for self-throttling after repeated
// upstream throttling. Retry budgets are unchanged.
func (c Config) SafeMode() Config {
	safe := c
	safe.RateLimitBase = c.RateLimitBase * time.Duration(c.SafeMultiplier)
	safe.BatchDelay = c.BatchDelay * time.Duration(c.SafeMultiplier)
	safe.ChainCooldown = c.ChainCooldown * time.Duration(c.SafeMultiplier)
	return safe
}

// Backoff returns the delay before retry number attempt (1-based) after a
// rate-limited outcome. Linear, not exponential: the upstream quota refills
// on a fixed schedule, so scaled-linear waits track it closely enough
// without the overshoot exponential backoff produces on long runs.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.RateLimitBase * time.Duration(attempt)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
