// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Canonical defaults. Every call site reads these through Config; there is a
// single electricity rate default for the whole engine.
const (
	DefaultDeviceID         = "device-001"
	DefaultVoltageReference = 220.0
	DefaultRatePerKwh       = 12.50
	DefaultSampleInterval   = 5 * time.Second
)

// Config carries process-wide settings.
type Config struct {
	HTTPAddr string

	DatabasePath string

	DeviceID string

	// VoltageReference is used when the system_settings row is absent.
	VoltageReference float64

	// RatePerKwh is used when the system_settings row is absent.
	RatePerKwh float64

	// SampleInterval is the nominal device sampling cadence, the basis for
	// expected sample counts and completeness scoring.
	SampleInterval time.Duration

	// Timezone used to bucket readings into device-local dates and hours.
	Timezone string
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:         envOr("GRIDWATCH_HTTP_ADDR", ":8080"),
		DatabasePath:     envOr("GRIDWATCH_DB_PATH", "gridwatch.db"),
		DeviceID:         envOr("GRIDWATCH_DEVICE_ID", DefaultDeviceID),
		VoltageReference: DefaultVoltageReference,
		RatePerKwh:       DefaultRatePerKwh,
		SampleInterval:   DefaultSampleInterval,
		Timezone:         envOr("GRIDWATCH_TIMEZONE", "UTC"),
	}

	if raw := os.Getenv("GRIDWATCH_VOLTAGE_REFERENCE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.VoltageReference = v
	}

	if raw := os.Getenv("GRIDWATCH_RATE_PER_KWH"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.RatePerKwh = v
	}

	if raw := os.Getenv("GRIDWATCH_SAMPLE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.SampleInterval = d
	}

	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
