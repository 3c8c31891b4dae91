package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gridsense/gridwatch/internal/alert/alertlog"
	alertdomain "github.com/gridsense/gridwatch/internal/alert/domain"
	"github.com/gridsense/gridwatch/internal/alert/notify"
	"github.com/gridsense/gridwatch/internal/baseline"
	"github.com/gridsense/gridwatch/internal/clock"
	"github.com/gridsense/gridwatch/internal/events"
	rollupdomain "github.com/gridsense/gridwatch/internal/rollup/domain"
	settingsdomain "github.com/gridsense/gridwatch/internal/settings/domain"
	settingsservice "github.com/gridsense/gridwatch/internal/settings/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Settings *settingsservice.Service
	Baseline *baseline.Adapter
	AlertLog *alertlog.Log
	Gate     *notify.Gate
	Outbox   *events.Outbox
	Config   Config `optional:"true"`
}

// Service runs the three cooperating alert state machines: the stateless
// power/voltage check per new hourly summary, the cooldown-gated monthly
// budget check with hysteresis, and the near-threshold advisory with
// persisted per-epoch latches.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg Config

	clock    clock.Clock
	settings *settingsservice.Service
	baseline *baseline.Adapter
	alertLog *alertlog.Log
	gate     *notify.Gate
	outbox   *events.Outbox
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("alert.service"),
		cfg: p.Config.withDefaults(),

		clock:    p.Clock,
		settings: p.Settings,
		baseline: p.Baseline,
		alertLog: p.AlertLog,
		gate:     p.Gate,
		outbox:   p.Outbox,
	}
}

// EvaluateHourly runs every check against one new hourly summary. Individual
// check failures are logged and do not stop the remaining checks; the next
// summary re-evaluates everything anyway.
func (s *Service) EvaluateHourly(ctx context.Context, summary rollupdomain.HourlySummary) error {
	cfg, err := s.settings.AlertSettings(ctx)
	if err != nil {
		return err
	}

	if err := s.checkPower(ctx, cfg, summary); err != nil {
		s.log.Warn("power check failed", zap.Error(err))
	}
	if err := s.checkVoltage(ctx, cfg, summary); err != nil {
		s.log.Warn("voltage check failed", zap.Error(err))
	}
	if err := s.CheckBudget(ctx, summary.DeviceID); err != nil {
		s.log.Warn("budget check failed", zap.Error(err))
	}
	if err := s.checkAdvisories(ctx, cfg, summary.DeviceID); err != nil {
		s.log.Warn("advisory check failed", zap.Error(err))
	}
	return nil
}

// checkPower fires when the summary's average power is both anomalous
// against the baseline and above the user threshold. Level-triggered; the
// alert log's dedupe window suppresses hourly repeats.
func (s *Service) checkPower(ctx context.Context, cfg settingsdomain.AlertSettings, summary rollupdomain.HourlySummary) error {
	metricKey := "power:" + summary.DeviceID
	z, err := s.baseline.Observe(ctx, metricKey, summary.AvgPowerWatts, s.cfg.Alpha)
	if err != nil {
		return err
	}

	if cfg.PowerThresholdWatts <= 0 {
		return nil
	}
	if z <= s.cfg.ZThreshold || summary.AvgPowerWatts <= cfg.PowerThresholdWatts {
		return nil
	}

	hour := summary.Hour
	return s.emit(ctx, cfg, alertdomain.Entry{
		DeviceID: summary.DeviceID,
		Type:     alertdomain.TypePower,
		Title:    "High power usage",
		Message: fmt.Sprintf("Average power reached %.0f W, above your %.0f W threshold",
			summary.AvgPowerWatts, cfg.PowerThresholdWatts),
		DateKey: summary.Date,
		HourKey: &hour,
		Metadata: datatypes.JSONMap{
			"observed":  summary.AvgPowerWatts,
			"threshold": cfg.PowerThresholdWatts,
			"z_score":   z,
		},
	}, events.EventPowerAlert)
}

// checkVoltage is a pure range check with no baseline component.
func (s *Service) checkVoltage(ctx context.Context, cfg settingsdomain.AlertSettings, summary rollupdomain.HourlySummary) error {
	if !cfg.VoltageAlertsEnabled {
		return nil
	}
	if summary.AvgVoltage <= 0 {
		return nil
	}
	if summary.AvgVoltage >= cfg.VoltageMin && summary.AvgVoltage <= cfg.VoltageMax {
		return nil
	}

	hour := summary.Hour
	return s.emit(ctx, cfg, alertdomain.Entry{
		DeviceID: summary.DeviceID,
		Type:     alertdomain.TypeVoltage,
		Title:    "Voltage out of range",
		Message: fmt.Sprintf("Average voltage %.1f V is outside the %.0f-%.0f V band",
			summary.AvgVoltage, cfg.VoltageMin, cfg.VoltageMax),
		DateKey: summary.Date,
		HourKey: &hour,
		Metadata: datatypes.JSONMap{
			"observed":    summary.AvgVoltage,
			"voltage_min": cfg.VoltageMin,
			"voltage_max": cfg.VoltageMax,
		},
	}, events.EventVoltageAlert)
}

// CheckBudget recomputes the month's cost at most once per cooldown window
// and notifies only on state transitions. The cooldown timestamp and the
// last-notified state are durable, so a restart neither resets rate
// limiting nor re-announces a standing state.
func (s *Service) CheckBudget(ctx context.Context, deviceID string) error {
	now := s.clock.Now()
	month := now.Format("2006-01")

	state, err := s.loadBudgetState(ctx, month)
	if err != nil {
		return err
	}
	if state != nil && state.LastEvaluatedAt != nil &&
		now.Sub(*state.LastEvaluatedAt) < s.cfg.BudgetCooldown {
		return nil
	}

	cfg, err := s.settings.AlertSettings(ctx)
	if err != nil {
		return err
	}

	previous := alertdomain.BudgetNone
	if state != nil {
		previous = state.State
	}

	level := alertdomain.BudgetNone
	var pct, monthCost float64
	if cfg.MonthlyBudget > 0 {
		monthCost, err = s.sumMonthCost(ctx, deviceID, month)
		if err != nil {
			return err
		}
		pct = monthCost / cfg.MonthlyBudget
		switch {
		case pct >= s.cfg.BudgetCritPct:
			level = alertdomain.BudgetCrit
		case pct >= s.cfg.BudgetWarnPct:
			level = alertdomain.BudgetWarn
		}
	}

	if level != previous && level != alertdomain.BudgetNone {
		entry := alertdomain.Entry{
			DeviceID: deviceID,
			Type:     alertdomain.TypeBudgetWarn,
			Title:    "Budget warning",
			Message: fmt.Sprintf("Monthly cost ₱%.2f has reached %d%% of your ₱%.2f budget",
				monthCost, int(pct*100), cfg.MonthlyBudget),
			DateKey: month,
			Metadata: datatypes.JSONMap{
				"month_cost": monthCost,
				"budget":     cfg.MonthlyBudget,
				"pct":        pct,
			},
		}
		category := events.EventBudgetWarn
		if level == alertdomain.BudgetCrit {
			entry.Type = alertdomain.TypeBudgetCrit
			entry.Title = "Budget exceeded"
			entry.Message = fmt.Sprintf("Monthly cost ₱%.2f has reached %d%% of your ₱%.2f budget",
				monthCost, int(pct*100), cfg.MonthlyBudget)
			category = events.EventBudgetCrit
		}
		if err := s.emit(ctx, cfg, entry, category); err != nil {
			return err
		}
	}

	// Persist unconditionally, including transitions back down.
	return s.persistBudgetState(ctx, month, level, now)
}

// checkAdvisories evaluates the near-threshold advisory for both kinds.
// Latches are persisted per threshold epoch: changing the configured value
// re-arms both.
func (s *Service) checkAdvisories(ctx context.Context, cfg settingsdomain.AlertSettings, deviceID string) error {
	if cfg.EnergyThresholdKwh > 0 {
		total, err := s.sumAllHourly(ctx, deviceID, "total_energy_kwh")
		if err != nil {
			return err
		}
		if err := s.evaluateAdvisory(ctx, cfg, alertdomain.AdvisoryKindEnergy,
			cfg.EnergyThresholdKwh, total, "kWh"); err != nil {
			return err
		}
	}
	if cfg.CostThreshold > 0 {
		total, err := s.sumAllHourly(ctx, deviceID, "total_cost")
		if err != nil {
			return err
		}
		if err := s.evaluateAdvisory(ctx, cfg, alertdomain.AdvisoryKindCost,
			cfg.CostThreshold, total, "cost"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) evaluateAdvisory(ctx context.Context, cfg settingsdomain.AlertSettings, kind string, threshold, cumulative float64, unit string) error {
	advisory, err := s.loadAdvisory(ctx, kind)
	if err != nil {
		return err
	}
	if advisory == nil || advisory.Threshold != threshold {
		// New epoch: the configured value changed, both latches re-arm.
		advisory = &alertdomain.ThresholdAdvisory{Kind: kind, Threshold: threshold}
	}

	epsilon := threshold * s.cfg.AdvisoryEpsilonFrac

	switch {
	case !advisory.Met && cumulative >= threshold:
		advisory.Met = true
		advisory.NearSent = true
		s.advise(ctx, cfg, events.EventThresholdReached,
			"Usage threshold reached",
			fmt.Sprintf("Cumulative %s %.2f has reached your %.2f threshold", unit, cumulative, threshold),
			kind, threshold, cumulative)
	case !advisory.NearSent && cumulative >= threshold-epsilon && cumulative < threshold:
		advisory.NearSent = true
		s.advise(ctx, cfg, events.EventThresholdNear,
			"Approaching usage threshold",
			fmt.Sprintf("Cumulative %s %.2f is approaching your %.2f threshold", unit, cumulative, threshold),
			kind, threshold, cumulative)
	default:
		return nil
	}

	return s.persistAdvisory(ctx, advisory)
}

// advise hands an advisory to the outbox and the notifier gate. Advisories
// are not alert-log entries; the outbox dedupe key gives them their own
// at-most-once guarantee per epoch.
func (s *Service) advise(ctx context.Context, cfg settingsdomain.AlertSettings, eventType, title, body, kind string, threshold, observed float64) {
	dedupe := fmt.Sprintf("%s:%s:%g", eventType, kind, threshold)
	if err := s.outbox.Publish(ctx, events.Notification{
		Type:  eventType,
		Title: title,
		Body:  body,
		Payload: events.AlertPayload{
			AlertType: eventType,
			Observed:  observed,
			Threshold: threshold,
		}.ToMap(),
		DedupeKey: dedupe,
	}); err != nil {
		s.log.Warn("advisory outbox publish failed", zap.Error(err))
	}
	s.gate.NotifyIfAllowed(ctx, cfg.PushEnabled, title, body, eventType)
}

// emit appends to the alert log and, when committed, hands the notification
// to the outbox and the gate. A dedupe drop suppresses the whole emission.
func (s *Service) emit(ctx context.Context, cfg settingsdomain.AlertSettings, entry alertdomain.Entry, eventType string) error {
	entry.TriggeredAt = s.clock.Now()

	committed, err := s.alertLog.LogAlert(ctx, entry)
	if err != nil {
		return err
	}
	if !committed {
		return nil
	}

	payload := events.AlertPayload{
		AlertType: entry.Type,
		DateKey:   entry.DateKey,
		HourKey:   entry.HourKey,
	}
	if err := s.outbox.Publish(ctx, events.Notification{
		Type:      eventType,
		Title:     entry.Title,
		Body:      entry.Message,
		Payload:   payload.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s", entry.Type, entry.ID.String()),
	}); err != nil {
		s.log.Warn("alert outbox publish failed", zap.Error(err))
	}

	s.gate.NotifyIfAllowed(ctx, cfg.PushEnabled, entry.Title, entry.Message, entry.Type)
	return nil
}

// BudgetStatus reports the current month's spend against the budget and the
// last-notified state. Unlike CheckBudget it always recomputes and never
// notifies.
type BudgetStatus struct {
	Month     string                  `json:"month"`
	State     alertdomain.BudgetLevel `json:"state"`
	MonthCost float64                 `json:"month_cost"`
	Budget    float64                 `json:"budget"`
	Pct       float64                 `json:"pct"`
}

func (s *Service) CurrentBudgetStatus(ctx context.Context, deviceID string) (BudgetStatus, error) {
	month := s.clock.Now().Format("2006-01")

	cfg, err := s.settings.AlertSettings(ctx)
	if err != nil {
		return BudgetStatus{}, err
	}
	monthCost, err := s.sumMonthCost(ctx, deviceID, month)
	if err != nil {
		return BudgetStatus{}, err
	}

	status := BudgetStatus{
		Month:     month,
		State:     alertdomain.BudgetNone,
		MonthCost: monthCost,
		Budget:    cfg.MonthlyBudget,
	}
	if cfg.MonthlyBudget > 0 {
		status.Pct = monthCost / cfg.MonthlyBudget
	}
	if state, err := s.loadBudgetState(ctx, month); err == nil && state != nil {
		status.State = state.State
	}
	return status, nil
}

func (s *Service) loadBudgetState(ctx context.Context, month string) (*alertdomain.BudgetState, error) {
	var row alertdomain.BudgetState
	err := s.db.WithContext(ctx).
		Where("month = ?", month).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Month == "" {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) persistBudgetState(ctx context.Context, month string, level alertdomain.BudgetLevel, evaluatedAt time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO budget_states (month, state, last_evaluated_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (month) DO UPDATE SET
			state = excluded.state,
			last_evaluated_at = excluded.last_evaluated_at,
			updated_at = excluded.updated_at`,
		month, string(level), evaluatedAt, evaluatedAt,
	).Error
}

func (s *Service) loadAdvisory(ctx context.Context, kind string) (*alertdomain.ThresholdAdvisory, error) {
	var row alertdomain.ThresholdAdvisory
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Kind == "" {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) persistAdvisory(ctx context.Context, advisory *alertdomain.ThresholdAdvisory) error {
	advisory.UpdatedAt = s.clock.Now()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO threshold_advisories (kind, threshold, near_sent, met, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind) DO UPDATE SET
			threshold = excluded.threshold,
			near_sent = excluded.near_sent,
			met = excluded.met,
			updated_at = excluded.updated_at`,
		advisory.Kind, advisory.Threshold, advisory.NearSent, advisory.Met, advisory.UpdatedAt,
	).Error
}

func (s *Service) sumMonthCost(ctx context.Context, deviceID, month string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total_cost), 0)
		 FROM hourly_summaries
		 WHERE device_id = ? AND date LIKE ?`,
		deviceID, month+"-%",
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) sumAllHourly(ctx context.Context, deviceID, column string) (float64, error) {
	var total float64
	var query string
	switch column {
	case "total_energy_kwh":
		query = `SELECT COALESCE(SUM(total_energy_kwh), 0) FROM hourly_summaries WHERE device_id = ?`
	case "total_cost":
		query = `SELECT COALESCE(SUM(total_cost), 0) FROM hourly_summaries WHERE device_id = ?`
	default:
		return 0, fmt.Errorf("unknown column %q", column)
	}
	if err := s.db.WithContext(ctx).Raw(query, deviceID).Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
