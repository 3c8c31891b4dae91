// Package domain contains user and system settings models.
package domain

import (
	"errors"
	"time"
)

// System setting keys.
const (
	KeyElectricityRate  = "electricity_rate_per_kwh"
	KeyVoltageReference = "voltage_reference"
)

var (
	ErrInvalidVoltageBand = errors.New("invalid_voltage_band")
	ErrInvalidBudget      = errors.New("invalid_budget")
)

// AlertSettings is the single-row user configuration consumed by the alert
// evaluator. Mutated only by user action through the API.
type AlertSettings struct {
	ID int64 `gorm:"primaryKey" json:"-"`

	PowerThresholdWatts float64 `gorm:"not null;default:0" json:"power_threshold_watts"`
	MonthlyBudget       float64 `gorm:"not null;default:0" json:"monthly_budget"`
	VoltageMin          float64 `gorm:"not null;default:200" json:"voltage_min"`
	VoltageMax          float64 `gorm:"not null;default:240" json:"voltage_max"`

	VoltageAlertsEnabled bool `gorm:"not null;default:true" json:"voltage_alerts_enabled"`
	PushEnabled          bool `gorm:"not null;default:true" json:"push_enabled"`

	// Near-threshold advisory inputs; zero disables the advisory.
	EnergyThresholdKwh float64 `gorm:"not null;default:0" json:"energy_threshold_kwh"`
	CostThreshold      float64 `gorm:"not null;default:0" json:"cost_threshold"`

	UpdatedAt time.Time `json:"-"`
}

// TableName sets the database table name.
func (AlertSettings) TableName() string { return "alert_settings" }

// SystemSetting is a key/value row for device-level tunables.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"-"`
}

// TableName sets the database table name.
func (SystemSetting) TableName() string { return "system_settings" }
