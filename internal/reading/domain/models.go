// Package domain contains persistence models for raw sensor readings.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Circuit identifiers for the three monitored current channels.
const (
	CircuitA1 = "A1"
	CircuitA2 = "A2"
	CircuitA3 = "A3"
)

var CircuitIDs = []string{CircuitA1, CircuitA2, CircuitA3}

var (
	ErrInvalidDevice   = errors.New("invalid_device")
	ErrMalformedSample = errors.New("malformed_sample")
)

// RawReading stores a single device sample, bucketed by device-local date
// and hour for rollup. Immutable once written.
type RawReading struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	DeviceID string       `gorm:"not null;index:idx_raw_readings_bucket,priority:1" json:"device_id"`

	// Date is the device-local calendar date, formatted 2006-01-02.
	Date string `gorm:"type:text;not null;index:idx_raw_readings_bucket,priority:2" json:"date"`
	Hour int    `gorm:"not null;index:idx_raw_readings_bucket,priority:3" json:"hour"`

	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`

	BatteryVoltage float64 `gorm:"not null;default:0" json:"battery_voltage"`
	ChargeVoltage  float64 `gorm:"not null;default:0" json:"charge_voltage"`
	CurrentA1      float64 `gorm:"not null;default:0" json:"current_a1"`
	CurrentA2      float64 `gorm:"not null;default:0" json:"current_a2"`
	CurrentA3      float64 `gorm:"not null;default:0" json:"current_a3"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (RawReading) TableName() string { return "raw_readings" }

// Currents returns the per-circuit current draw in amps.
func (r RawReading) Currents() map[string]float64 {
	return map[string]float64{
		CircuitA1: r.CurrentA1,
		CircuitA2: r.CurrentA2,
		CircuitA3: r.CurrentA3,
	}
}

// TotalPowerWatts is the instantaneous power summed across circuits at the
// given reference voltage.
func (r RawReading) TotalPowerWatts(voltageRef float64) float64 {
	return (r.CurrentA1 + r.CurrentA2 + r.CurrentA3) * voltageRef
}
