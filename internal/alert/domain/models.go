// Package domain contains alert, budget, and advisory models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Alert types. The dedupe window keys on type, not message.
const (
	TypePower      = "POWER"
	TypeVoltage    = "VOLTAGE"
	TypeBudgetWarn = "BUDGET_WARN"
	TypeBudgetCrit = "BUDGET_CRIT"
)

// Budget notification states persisted per month.
type BudgetLevel string

const (
	BudgetNone BudgetLevel = "NONE"
	BudgetWarn BudgetLevel = "WARN"
	BudgetCrit BudgetLevel = "CRIT"
)

// Advisory kinds for the near-threshold check.
const (
	AdvisoryKindEnergy = "energy_kwh"
	AdvisoryKindCost   = "cost"
)

var (
	ErrInvalidAlertType = errors.New("invalid_alert_type")
	ErrInvalidMonth     = errors.New("invalid_month")
)

// Entry is one committed alert-log record. Append-only; only the read flag
// is ever mutated, by the notification UI.
type Entry struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	DeviceID string       `gorm:"not null;index:idx_alert_entries_partition,priority:1" json:"device_id"`
	Year     int          `gorm:"not null;index:idx_alert_entries_partition,priority:2" json:"year"`
	Month    int          `gorm:"not null;index:idx_alert_entries_partition,priority:3" json:"month"`

	Type        string    `gorm:"type:text;not null" json:"type"`
	Title       string    `gorm:"type:text;not null" json:"title"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	TriggeredAt time.Time `gorm:"not null" json:"triggered_at"`

	// Source summary key.
	DateKey string `gorm:"type:text;not null;default:''" json:"date_key"`
	HourKey *int   `gorm:"" json:"hour_key,omitempty"`

	Metadata datatypes.JSONMap `gorm:"type:text;not null;default:'{}'" json:"metadata"`
	Read     bool              `gorm:"not null;default:false" json:"read"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "alert_entries" }

// BudgetState tracks the last-notified budget level per month, the
// hysteresis memory, plus the durable cooldown timestamp.
type BudgetState struct {
	Month           string      `gorm:"primaryKey;type:text"`
	State           BudgetLevel `gorm:"type:text;not null;default:'NONE'"`
	LastEvaluatedAt *time.Time  `gorm:""`
	UpdatedAt       time.Time   `gorm:"not null"`
}

// TableName sets the database table name.
func (BudgetState) TableName() string { return "budget_states" }

// ThresholdAdvisory persists the near/met latches for one advisory kind.
// The stored threshold value defines the epoch: when the user changes the
// threshold, both latches reset.
type ThresholdAdvisory struct {
	Kind      string    `gorm:"primaryKey;type:text"`
	Threshold float64   `gorm:"not null"`
	NearSent  bool      `gorm:"not null;default:false"`
	Met       bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (ThresholdAdvisory) TableName() string { return "threshold_advisories" }
