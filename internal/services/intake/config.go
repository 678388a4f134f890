// internal/services/intake/config.go
package intake

import (
	"time"

	"leader-intake/internal/common/config"
)

const (
	DefaultMaxImageBytes int64 = 2 * 1024 * 1024
	DefaultClaimAttempts       = 6

	compensationTimeout = 5 * time.Second
)

type Config struct {
	MaxImageBytes int64
	// ClaimAttempts bounds how often a submission reselects a slot after
	// losing a race for one.
	ClaimAttempts int
	Timeout       time.Duration
}

func LoadConfig(cfg config.IntakeConfig) *Config {
	c := &Config{
		MaxImageBytes: cfg.MaxImageBytes,
		ClaimAttempts: cfg.ClaimAttempts,
		Timeout:       config.GetDuration(cfg.RequestTimeout),
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.ClaimAttempts <= 0 {
		c.ClaimAttempts = DefaultClaimAttempts
	}
	return c
}
