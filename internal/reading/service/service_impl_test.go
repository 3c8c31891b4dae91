package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridsense/gridwatch/internal/config"
	"github.com/gridsense/gridwatch/internal/migration"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupReadingTest(t *testing.T, timezone string) *Service {
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

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Config: config.Config{
			DeviceID: "device-001",
			Timezone: timezone,
		},
	})
}

func TestIngestBucketsByLocalHour(t *testing.T) {
	svc := setupReadingTest(t, "Asia/Manila")
	ctx := context.Background()

	// 2026-03-15 23:30 UTC is 2026-03-16 07:30 in Manila (UTC+8).
	recordedAt := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	record, err := svc.Ingest(ctx, "", "12.6,220.1,1.5,0.8,2.1,0", recordedAt)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if record.DeviceID != "device-001" {
		t.Fatalf("device = %q, want config default", record.DeviceID)
	}
	if record.Date != "2026-03-16" {
		t.Fatalf("date = %q, want local date", record.Date)
	}
	if record.Hour != 7 {
		t.Fatalf("hour = %d, want local hour 7", record.Hour)
	}

	rows, err := svc.ListForHour(ctx, "device-001", "2026-03-16", 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].CurrentA2 != 0.8 {
		t.Fatalf("a2 = %v", rows[0].CurrentA2)
	}
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	svc := setupReadingTest(t, "UTC")

	_, err := svc.Ingest(context.Background(), "device-001", "12.6,220.1", time.Now())
	if !errors.Is(err, readingdomain.ErrMalformedSample) {
		t.Fatalf("expected malformed sample, got %v", err)
	}

	rows, err := svc.ListForDate(context.Background(), "device-001", time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("malformed payload was persisted: %+v", rows)
	}
}

func TestLatestReturnsNewestReading(t *testing.T) {
	svc := setupReadingTest(t, "UTC")
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	if _, err := svc.Ingest(ctx, "device-001", "12.6,220,1.0,0,0,0", base); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if _, err := svc.Ingest(ctx, "device-001", "12.7,221,2.0,0,0,0", base.Add(5*time.Second)); err != nil {
		t.Fatalf("ingest second: %v", err)
	}

	latest, err := svc.Latest(ctx, "device-001")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.CurrentA1 != 2.0 {
		t.Fatalf("latest = %+v, want second reading", latest)
	}
}

func TestLatestEmpty(t *testing.T) {
	svc := setupReadingTest(t, "UTC")

	latest, err := svc.Latest(context.Background(), "device-001")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("latest = %+v, want nil", latest)
	}
}
