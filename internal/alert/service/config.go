package service

import "time"

// Config tunes the alert state machines.
type Config struct {
	// ZThreshold gates the power anomaly check.
	ZThreshold float64

	// Alpha is the EWMA smoothing factor fed to the baseline adapter.
	Alpha float64

	// BudgetCooldown bounds full-month budget recomputations.
	BudgetCooldown time.Duration

	BudgetWarnPct float64
	BudgetCritPct float64

	// AdvisoryEpsilonFrac sets the near-threshold band width as a fraction
	// of the threshold value.
	AdvisoryEpsilonFrac float64
}

func DefaultConfig() Config {
	return Config{
		ZThreshold:          3.0,
		Alpha:               0.10,
		BudgetCooldown:      30 * time.Minute,
		BudgetWarnPct:       0.8,
		BudgetCritPct:       1.0,
		AdvisoryEpsilonFrac: 0.05,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ZThreshold <= 0 {
		c.ZThreshold = defaults.ZThreshold
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = defaults.Alpha
	}
	if c.BudgetCooldown <= 0 {
		c.BudgetCooldown = defaults.BudgetCooldown
	}
	if c.BudgetWarnPct <= 0 {
		c.BudgetWarnPct = defaults.BudgetWarnPct
	}
	if c.BudgetCritPct <= 0 {
		c.BudgetCritPct = defaults.BudgetCritPct
	}
	if c.AdvisoryEpsilonFrac <= 0 {
		c.AdvisoryEpsilonFrac = defaults.AdvisoryEpsilonFrac
	}
	return c
}
