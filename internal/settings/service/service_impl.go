package service

import (
	"context"
	"strconv"
	"time"

	"github.com/gridsense/gridwatch/internal/cache"
	"github.com/gridsense/gridwatch/internal/config"
	settingsdomain "github.com/gridsense/gridwatch/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	alertSettingsRowID = 1
	cacheTTL           = 30 * time.Second

	cacheKeyAlertSettings = "alert_settings"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	alertCache cache.Cache[string, settingsdomain.AlertSettings]
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("settings.service"),
		cfg: p.Config,

		alertCache: cache.NewTTLCache[string, settingsdomain.AlertSettings](),
	}
}

// AlertSettings returns the user alert configuration. A missing row falls
// back to the zero-threshold defaults rather than failing the caller.
func (s *Service) AlertSettings(ctx context.Context) (settingsdomain.AlertSettings, error) {
	if cached, ok := s.alertCache.Get(cacheKeyAlertSettings); ok {
		return cached, nil
	}

	var row settingsdomain.AlertSettings
	err := s.db.WithContext(ctx).
		Where("id = ?", alertSettingsRowID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return settingsdomain.AlertSettings{}, err
	}
	if row.ID == 0 {
		row = defaultAlertSettings()
	}

	s.alertCache.Set(cacheKeyAlertSettings, row, cacheTTL)
	return row, nil
}

// UpdateAlertSettings upserts the single settings row and invalidates the
// cache. This is the user-action boundary.
func (s *Service) UpdateAlertSettings(ctx context.Context, in settingsdomain.AlertSettings) (settingsdomain.AlertSettings, error) {
	if in.VoltageMin >= in.VoltageMax {
		return settingsdomain.AlertSettings{}, settingsdomain.ErrInvalidVoltageBand
	}
	if in.MonthlyBudget < 0 {
		return settingsdomain.AlertSettings{}, settingsdomain.ErrInvalidBudget
	}

	in.ID = alertSettingsRowID
	in.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO alert_settings (
			id, power_threshold_watts, monthly_budget, voltage_min, voltage_max,
			voltage_alerts_enabled, push_enabled, energy_threshold_kwh, cost_threshold, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			power_threshold_watts = excluded.power_threshold_watts,
			monthly_budget = excluded.monthly_budget,
			voltage_min = excluded.voltage_min,
			voltage_max = excluded.voltage_max,
			voltage_alerts_enabled = excluded.voltage_alerts_enabled,
			push_enabled = excluded.push_enabled,
			energy_threshold_kwh = excluded.energy_threshold_kwh,
			cost_threshold = excluded.cost_threshold,
			updated_at = excluded.updated_at`,
		in.ID,
		in.PowerThresholdWatts,
		in.MonthlyBudget,
		in.VoltageMin,
		in.VoltageMax,
		in.VoltageAlertsEnabled,
		in.PushEnabled,
		in.EnergyThresholdKwh,
		in.CostThreshold,
		in.UpdatedAt,
	).Error
	if err != nil {
		return settingsdomain.AlertSettings{}, err
	}

	s.alertCache.Delete(cacheKeyAlertSettings)
	return in, nil
}

// ElectricityRate returns the configured rate per kWh, falling back to the
// canonical default when the setting row is absent or unparseable.
func (s *Service) ElectricityRate(ctx context.Context) float64 {
	return s.systemFloat(ctx, settingsdomain.KeyElectricityRate, s.cfg.RatePerKwh)
}

// VoltageReference returns the reference voltage used for power computation.
func (s *Service) VoltageReference(ctx context.Context) float64 {
	return s.systemFloat(ctx, settingsdomain.KeyVoltageReference, s.cfg.VoltageReference)
}

func (s *Service) systemFloat(ctx context.Context, key string, fallback float64) float64 {
	var row settingsdomain.SystemSetting
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&row).Error
	if err != nil {
		s.log.Warn("system setting read failed, using default",
			zap.String("key", key), zap.Error(err))
		return fallback
	}
	if row.Key == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(row.Value, 64)
	if err != nil {
		s.log.Warn("system setting unparseable, using default",
			zap.String("key", key), zap.String("value", row.Value))
		return fallback
	}
	return value
}

func defaultAlertSettings() settingsdomain.AlertSettings {
	return settingsdomain.AlertSettings{
		ID:                   alertSettingsRowID,
		VoltageMin:           200,
		VoltageMax:           240,
		VoltageAlertsEnabled: true,
		PushEnabled:          true,
	}
}
