package events

// Notification event types handed to the external delivery layer.
const (
	EventPowerAlert       = "alert.power"
	EventVoltageAlert     = "alert.voltage"
	EventBudgetWarn       = "alert.budget_warn"
	EventBudgetCrit       = "alert.budget_crit"
	EventThresholdNear    = "advisory.threshold_near"
	EventThresholdReached = "advisory.threshold_reached"
)

// AlertPayload captures the minimal data needed to render a notification.
type AlertPayload struct {
	AlertType string  `json:"alert_type"`
	DateKey   string  `json:"date_key,omitempty"`
	HourKey   *int    `json:"hour_key,omitempty"`
	Observed  float64 `json:"observed,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	ZScore    float64 `json:"z_score,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p AlertPayload) ToMap() map[string]any {
	payload := map[string]any{
		"alert_type": p.AlertType,
	}
	if p.DateKey != "" {
		payload["date_key"] = p.DateKey
	}
	if p.HourKey != nil {
		payload["hour_key"] = *p.HourKey
	}
	if p.Observed != 0 {
		payload["observed"] = p.Observed
	}
	if p.Threshold != 0 {
		payload["threshold"] = p.Threshold
	}
	if p.ZScore != 0 {
		payload["z_score"] = p.ZScore
	}
	return payload
}
