// Package worker drives the rollup pipeline: it finds completed hour
// buckets that have raw readings but no summary, summarizes them, and runs
// the alert checks against every summary it creates.
package worker

import (
	"context"
	"time"

	alertservice "github.com/gridsense/gridwatch/internal/alert/service"
	"github.com/gridsense/gridwatch/internal/clock"
	"github.com/gridsense/gridwatch/internal/config"
	rollupservice "github.com/gridsense/gridwatch/internal/rollup/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	AppCfg  config.Config
	Rollups *rollupservice.Service
	Alerts  *alertservice.Service
	Config  Config `optional:"true"`
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	clk     clock.Clock
	appCfg  config.Config
	rollups *rollupservice.Service
	alerts  *alertservice.Service
	cfg     Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("rollup.worker"),
		clk:     p.Clock,
		appCfg:  p.AppCfg,
		rollups: p.Rollups,
		alerts:  p.Alerts,
		cfg:     p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("rollup run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, w.cfg.RunTimeout)
	defer cancel()

	created, err := w.rollupPendingHours(ctx)
	if err != nil {
		return err
	}
	if err := w.rollupPendingDays(ctx); err != nil {
		return err
	}

	// The budget check rate-limits itself; running it every tick keeps the
	// month state fresh even on hours with no new summaries.
	if created == 0 {
		if err := w.alerts.CheckBudget(ctx, w.appCfg.DeviceID); err != nil {
			w.log.Warn("budget check failed", zap.Error(err))
		}
	}
	return nil
}

type hourBucket struct {
	Date string
	Hour int
}

// rollupPendingHours summarizes every completed hour bucket that has raw
// readings but no summary yet, newest buckets last so alerts fire in order.
func (w *Worker) rollupPendingHours(ctx context.Context) (int, error) {
	buckets, err := w.pendingHourBuckets(ctx)
	if err != nil {
		return 0, err
	}

	now := w.clk.Now().In(w.appCfg.Location())
	created := 0
	for _, b := range buckets {
		if !w.bucketCompleted(b, now) {
			continue
		}
		summary, ok, err := w.rollups.RollupHour(ctx, w.appCfg.DeviceID, b.Date, b.Hour)
		if err != nil {
			w.log.Warn("hourly rollup failed",
				zap.String("date", b.Date), zap.Int("hour", b.Hour), zap.Error(err))
			continue
		}
		if !ok || summary == nil {
			continue
		}
		created++
		if err := w.alerts.EvaluateHourly(ctx, *summary); err != nil {
			w.log.Warn("alert evaluation failed",
				zap.String("date", b.Date), zap.Int("hour", b.Hour), zap.Error(err))
		}
	}
	return created, nil
}

func (w *Worker) pendingHourBuckets(ctx context.Context) ([]hourBucket, error) {
	var rows []hourBucket
	err := w.db.WithContext(ctx).Raw(
		`SELECT r.date AS date, r.hour AS hour
		 FROM raw_readings r
		 LEFT JOIN hourly_summaries h
			ON h.device_id = r.device_id AND h.date = r.date AND h.hour = r.hour
		 WHERE r.device_id = ? AND h.id IS NULL
		 GROUP BY r.date, r.hour
		 ORDER BY r.date ASC, r.hour ASC
		 LIMIT ?`,
		w.appCfg.DeviceID, w.cfg.BatchSize,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// bucketCompleted reports whether the bucket's hour has fully elapsed in the
// configured timezone. In-progress hours stay pending.
func (w *Worker) bucketCompleted(b hourBucket, now time.Time) bool {
	start, err := time.ParseInLocation("2006-01-02", b.Date, w.appCfg.Location())
	if err != nil {
		return false
	}
	end := start.Add(time.Duration(b.Hour+1) * time.Hour)
	return !now.Before(end)
}

// rollupPendingDays produces daily summaries for past dates that have hourly
// summaries but no daily row. Today is excluded until it completes.
func (w *Worker) rollupPendingDays(ctx context.Context) error {
	today := w.clk.Now().In(w.appCfg.Location()).Format("2006-01-02")

	var dates []string
	err := w.db.WithContext(ctx).Raw(
		`SELECT h.date
		 FROM hourly_summaries h
		 LEFT JOIN daily_summaries d
			ON d.device_id = h.device_id AND d.date = h.date
		 WHERE h.device_id = ? AND h.date < ? AND d.id IS NULL
		 GROUP BY h.date
		 ORDER BY h.date ASC`,
		w.appCfg.DeviceID, today,
	).Scan(&dates).Error
	if err != nil {
		return err
	}

	for _, date := range dates {
		if _, _, err := w.rollups.RollupDay(ctx, w.appCfg.DeviceID, date); err != nil {
			w.log.Warn("daily rollup failed", zap.String("date", date), zap.Error(err))
		}
	}
	return nil
}
