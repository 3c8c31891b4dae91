// Package domain contains the hourly and daily summary models.
//
// Summaries are derived data with an at-most-once creation invariant: the
// unique key is the idempotency guard, and a written summary is never
// recomputed. Late samples for an already-summarized hour are ignored.
package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Data-quality labels derived from completeness breakpoints.
const (
	QualityExcellent = "Excellent"
	QualityGood      = "Good"
	QualityFair      = "Fair"
	QualityPoor      = "Poor"
	QualityVeryPoor  = "Very Poor"
)

var (
	ErrInvalidDate = errors.New("invalid_date")
	ErrInvalidHour = errors.New("invalid_hour")
)

// QualityLabel maps a completeness fraction to its quality label.
func QualityLabel(completeness float64) string {
	switch {
	case completeness >= 0.95:
		return QualityExcellent
	case completeness >= 0.85:
		return QualityGood
	case completeness >= 0.70:
		return QualityFair
	case completeness >= 0.50:
		return QualityPoor
	default:
		return QualityVeryPoor
	}
}

// HourlySummary aggregates one (device, date, hour) bucket of raw readings.
type HourlySummary struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	DeviceID string       `gorm:"not null;uniqueIndex:ux_hourly_summary_key,priority:1" json:"device_id"`
	Date     string       `gorm:"type:text;not null;uniqueIndex:ux_hourly_summary_key,priority:2" json:"date"`
	Hour     int          `gorm:"not null;uniqueIndex:ux_hourly_summary_key,priority:3" json:"hour"`

	AvgPowerWatts  float64 `gorm:"not null;default:0" json:"avg_power_watts"`
	PeakPowerWatts float64 `gorm:"not null;default:0" json:"peak_power_watts"`
	MinPowerWatts  float64 `gorm:"not null;default:0" json:"min_power_watts"`
	TotalEnergyKwh float64 `gorm:"not null;default:0" json:"total_energy_kwh"`
	TotalCost      float64 `gorm:"not null;default:0" json:"total_cost"`
	BatteryLevel   float64 `gorm:"not null;default:0" json:"battery_level"`
	AvgVoltage     float64 `gorm:"not null;default:0" json:"avg_voltage"`

	CircuitEnergyKwh datatypes.JSONMap `gorm:"type:text;not null;default:'{}'" json:"circuit_energy_kwh"`
	CircuitAvgWatts  datatypes.JSONMap `gorm:"type:text;not null;default:'{}'" json:"circuit_avg_watts"`

	ReadingCount int     `gorm:"not null;default:0" json:"reading_count"`
	Completeness float64 `gorm:"not null;default:0" json:"completeness"`
	Quality      string  `gorm:"type:text;not null;default:''" json:"quality"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (HourlySummary) TableName() string { return "hourly_summaries" }

// CircuitEnergy reads one circuit's energy share out of the JSON column.
func (h HourlySummary) CircuitEnergy(circuit string) float64 {
	return jsonNumber(h.CircuitEnergyKwh, circuit)
}

// CircuitDayTotal is the per-circuit slice of a daily summary.
type CircuitDayTotal struct {
	EnergyKwh  float64    `json:"energy_kwh"`
	Cost       float64    `json:"cost"`
	SharePct   float64    `json:"share_pct"`
	PeakWatts  float64    `json:"peak_watts"`
	PeakAt     *time.Time `json:"peak_at,omitempty"`
	Attributed bool       `json:"attributed,omitempty"`
}

// HourSlice is one hour of the embedded daily breakdown.
type HourSlice struct {
	Hour      int     `json:"hour"`
	EnergyKwh float64 `json:"energy_kwh"`
	Cost      float64 `json:"cost"`
	AvgWatts  float64 `json:"avg_watts"`
	PeakWatts float64 `json:"peak_watts"`
	Quality   string  `json:"quality"`
}

// DailySummary aggregates all hourly summaries for a (device, date) key.
type DailySummary struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"-"`
	DeviceID string       `gorm:"not null;uniqueIndex:ux_daily_summary_key,priority:1" json:"device_id"`
	Date     string       `gorm:"type:text;not null;uniqueIndex:ux_daily_summary_key,priority:2" json:"date"`

	TotalEnergyKwh float64 `gorm:"not null;default:0" json:"total_energy_kwh"`
	TotalCost      float64 `gorm:"not null;default:0" json:"total_cost"`
	AvgPowerWatts  float64 `gorm:"not null;default:0" json:"avg_power_watts"`
	PeakPowerWatts float64 `gorm:"not null;default:0" json:"peak_power_watts"`
	MinPowerWatts  float64 `gorm:"not null;default:0" json:"min_power_watts"`

	// PeakHour is the first hour reaching the daily peak power.
	PeakHour     int     `gorm:"not null;default:0" json:"peak_hour"`
	BatteryLevel float64 `gorm:"not null;default:0" json:"battery_level"`

	CircuitTotals   datatypes.JSON `gorm:"type:text;not null;default:'{}'" json:"circuit_totals"`
	HourlyBreakdown datatypes.JSON `gorm:"type:text;not null;default:'[]'" json:"hourly_breakdown"`

	HourCount int       `gorm:"not null;default:0" json:"hour_count"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (DailySummary) TableName() string { return "daily_summaries" }

// DecodeCircuitTotals unmarshals the per-circuit totals column.
func (d DailySummary) DecodeCircuitTotals() (map[string]CircuitDayTotal, error) {
	totals := make(map[string]CircuitDayTotal)
	if len(d.CircuitTotals) == 0 {
		return totals, nil
	}
	if err := json.Unmarshal(d.CircuitTotals, &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// DecodeHourlyBreakdown unmarshals the embedded hourly breakdown column.
func (d DailySummary) DecodeHourlyBreakdown() ([]HourSlice, error) {
	var slices []HourSlice
	if len(d.HourlyBreakdown) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(d.HourlyBreakdown, &slices); err != nil {
		return nil, err
	}
	return slices, nil
}

func jsonNumber(m datatypes.JSONMap, key string) float64 {
	raw, ok := m[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
