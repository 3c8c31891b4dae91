package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gridsense/gridwatch/internal/config"
	"github.com/gridsense/gridwatch/internal/migration"
	settingsdomain "github.com/gridsense/gridwatch/internal/settings/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSettingsTest(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	if err := migration.RunMigrations(sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(ServiceParam{
		DB:  db,
		Log: zap.NewNop(),
		Config: config.Config{
			VoltageReference: 220,
			RatePerKwh:       12.50,
		},
	})
	return svc, db
}

func TestAlertSettingsDefaultsWhenMissing(t *testing.T) {
	svc, _ := setupSettingsTest(t)

	settings, err := svc.AlertSettings(context.Background())
	if err != nil {
		t.Fatalf("alert settings: %v", err)
	}
	if settings.VoltageMin != 200 || settings.VoltageMax != 240 {
		t.Fatalf("voltage band = %v-%v", settings.VoltageMin, settings.VoltageMax)
	}
	if !settings.VoltageAlertsEnabled || !settings.PushEnabled {
		t.Fatal("defaults should enable voltage alerts and push")
	}
	if settings.MonthlyBudget != 0 || settings.PowerThresholdWatts != 0 {
		t.Fatal("defaults should leave thresholds unset")
	}
}

func TestUpdateAlertSettingsRoundTrip(t *testing.T) {
	svc, _ := setupSettingsTest(t)
	ctx := context.Background()

	_, err := svc.UpdateAlertSettings(ctx, settingsdomain.AlertSettings{
		PowerThresholdWatts: 1500,
		MonthlyBudget:       2000,
		VoltageMin:          210,
		VoltageMax:          230,
		PushEnabled:         true,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	settings, err := svc.AlertSettings(ctx)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if settings.PowerThresholdWatts != 1500 || settings.MonthlyBudget != 2000 {
		t.Fatalf("settings = %+v", settings)
	}

	// A second update must be visible immediately despite the cache.
	_, err = svc.UpdateAlertSettings(ctx, settingsdomain.AlertSettings{
		MonthlyBudget: 3000,
		VoltageMin:    210,
		VoltageMax:    230,
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	settings, err = svc.AlertSettings(ctx)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if settings.MonthlyBudget != 3000 {
		t.Fatalf("budget = %v, want 3000", settings.MonthlyBudget)
	}
}

func TestUpdateAlertSettingsValidation(t *testing.T) {
	svc, _ := setupSettingsTest(t)
	ctx := context.Background()

	_, err := svc.UpdateAlertSettings(ctx, settingsdomain.AlertSettings{
		VoltageMin: 240,
		VoltageMax: 200,
	})
	if !errors.Is(err, settingsdomain.ErrInvalidVoltageBand) {
		t.Fatalf("expected invalid voltage band, got %v", err)
	}

	_, err = svc.UpdateAlertSettings(ctx, settingsdomain.AlertSettings{
		VoltageMin:    200,
		VoltageMax:    240,
		MonthlyBudget: -5,
	})
	if !errors.Is(err, settingsdomain.ErrInvalidBudget) {
		t.Fatalf("expected invalid budget, got %v", err)
	}
}

func TestElectricityRateFallsBackToConfig(t *testing.T) {
	svc, db := setupSettingsTest(t)
	ctx := context.Background()

	if rate := svc.ElectricityRate(ctx); rate != 12.50 {
		t.Fatalf("rate = %v, want config default", rate)
	}

	err := db.Exec(`INSERT INTO system_settings (key, value) VALUES (?, ?)`,
		settingsdomain.KeyElectricityRate, "14.75").Error
	if err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	if rate := svc.ElectricityRate(ctx); rate != 14.75 {
		t.Fatalf("rate = %v, want stored value", rate)
	}

	// Unparseable values fall back rather than failing.
	err = db.Exec(`UPDATE system_settings SET value = 'oops' WHERE key = ?`,
		settingsdomain.KeyElectricityRate).Error
	if err != nil {
		t.Fatalf("corrupt setting: %v", err)
	}
	if rate := svc.ElectricityRate(ctx); rate != 12.50 {
		t.Fatalf("rate = %v, want fallback", rate)
	}
}

func TestVoltageReferenceFallsBackToConfig(t *testing.T) {
	svc, db := setupSettingsTest(t)
	ctx := context.Background()

	if ref := svc.VoltageReference(ctx); ref != 220 {
		t.Fatalf("voltage ref = %v, want config default", ref)
	}

	err := db.Exec(`INSERT INTO system_settings (key, value) VALUES (?, ?)`,
		settingsdomain.KeyVoltageReference, "230").Error
	if err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	if ref := svc.VoltageReference(ctx); ref != 230 {
		t.Fatalf("voltage ref = %v, want stored value", ref)
	}
}
