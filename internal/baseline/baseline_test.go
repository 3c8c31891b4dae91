package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gridsense/gridwatch/internal/migration"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupBaselineTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestAdapter(db *gorm.DB) *Adapter {
	return &Adapter{db: db, log: zap.NewNop()}
}

func TestObserveFirstObservationScoresZero(t *testing.T) {
	adapter := newTestAdapter(setupBaselineTestDB(t))

	z, err := adapter.Observe(context.Background(), "power:test", 850, DefaultAlpha)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if z != 0 {
		t.Fatalf("first observation z = %v, want 0", z)
	}
}

func TestObserveConvergesOnSteadySignal(t *testing.T) {
	adapter := newTestAdapter(setupBaselineTestDB(t))
	ctx := context.Background()

	var z float64
	var err error
	for i := 0; i < 50; i++ {
		z, err = adapter.Observe(ctx, "power:test", 500, DefaultAlpha)
		if err != nil {
			t.Fatalf("observe %d: %v", i, err)
		}
	}
	if math.Abs(z) > 1e-6 {
		t.Fatalf("steady signal z = %v, want ~0", z)
	}

	// A spike against a tight baseline scores far outside any sane
	// threshold.
	z, err = adapter.Observe(ctx, "power:test", 2000, DefaultAlpha)
	if err != nil {
		t.Fatalf("observe spike: %v", err)
	}
	if z < 2.5 {
		t.Fatalf("spike z = %v, want well above the baseline", z)
	}
}

func TestObserveStateSurvivesRestart(t *testing.T) {
	db := setupBaselineTestDB(t)
	ctx := context.Background()

	first := newTestAdapter(db)
	for i := 0; i < 10; i++ {
		if _, err := first.Observe(ctx, "power:test", 500, DefaultAlpha); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}

	second := newTestAdapter(db)
	state, err := second.load(ctx, "power:test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state == nil {
		t.Fatal("expected persisted state")
	}
	if state.Observations != 10 {
		t.Fatalf("observations = %d, want 10", state.Observations)
	}
	if math.Abs(state.Mean()-500) > 1e-9 {
		t.Fatalf("mean = %v, want 500", state.Mean())
	}
}

func TestObserveTracksDriftingMean(t *testing.T) {
	adapter := newTestAdapter(setupBaselineTestDB(t))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		if _, err := adapter.Observe(ctx, "power:test", 1000, DefaultAlpha); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	state, err := adapter.load(ctx, "power:test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if math.Abs(state.Mean()-1000) > 1e-6 {
		t.Fatalf("mean = %v, want 1000", state.Mean())
	}
}

func TestObserveRejectsInvalidAlpha(t *testing.T) {
	adapter := newTestAdapter(setupBaselineTestDB(t))

	_, err := adapter.Observe(context.Background(), "power:test", 500, 1.5)
	if !errors.Is(err, ErrInvalidAlpha) {
		t.Fatalf("expected invalid alpha, got %v", err)
	}
}
