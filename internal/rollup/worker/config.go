package worker

import "time"

// Config controls the rollup worker loop.
type Config struct {
	// BatchSize bounds how many hour buckets one tick summarizes.
	BatchSize int

	PollInterval time.Duration

	// RunTimeout bounds a single tick end to end.
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    24,
		PollInterval: 5 * time.Minute,
		RunTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
