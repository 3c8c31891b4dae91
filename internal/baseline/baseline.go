// Package baseline maintains a persisted EWMA mean/variance per metric and
// scores observations as standardized deviations. It is a streaming O(1)
// detector: state never resets except by deleting the row.
package baseline

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultAlpha is the EWMA smoothing factor used when callers pass 0.
	DefaultAlpha = 0.10

	// varianceEpsilon seeds the variance on first observation and floors the
	// standard deviation to keep z finite.
	varianceEpsilon = 1e-6
)

var ErrInvalidAlpha = errors.New("invalid_alpha")

// State is the persisted model memory for one metric. Mean and variance are
// stored as raw float64 bit patterns so round-tripping through the store
// never loses precision.
type State struct {
	MetricKey    string `gorm:"primaryKey;type:text"`
	MeanBits     int64  `gorm:"not null"`
	VarianceBits int64  `gorm:"not null"`
	Observations int64  `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// TableName sets the database table name.
func (State) TableName() string { return "baseline_states" }

// Mean decodes the stored mean.
func (s State) Mean() float64 { return math.Float64frombits(uint64(s.MeanBits)) }

// Variance decodes the stored variance.
func (s State) Variance() float64 { return math.Float64frombits(uint64(s.VarianceBits)) }

type AdapterParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Adapter persists baseline state per metric key.
type Adapter struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAdapter(p AdapterParam) *Adapter {
	return &Adapter{
		db:  p.DB,
		log: p.Log.Named("baseline.adapter"),
	}
}

// Observe scores x against the metric's pre-update baseline, then folds it
// into the EWMA state. Scoring before the update keeps a genuine spike from
// inflating the deviation it is measured against. State is persisted before
// returning; the observation counts as seen even if the caller discards its
// decision.
func (a *Adapter) Observe(ctx context.Context, metricKey string, x, alpha float64) (float64, error) {
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha < 0 || alpha > 1 {
		return 0, ErrInvalidAlpha
	}

	state, err := a.load(ctx, metricKey)
	if err != nil {
		return 0, err
	}

	var z, mean, variance float64
	if state == nil {
		// First observation defines the baseline and scores zero.
		mean = x
		variance = varianceEpsilon
	} else {
		prevMean := state.Mean()
		std := math.Sqrt(state.Variance())
		if std < varianceEpsilon {
			std = varianceEpsilon
		}
		z = (x - prevMean) / std

		mean = alpha*x + (1-alpha)*prevMean
		variance = (1 - alpha) * (state.Variance() + alpha*(x-prevMean)*(x-prevMean))
	}

	var observations int64 = 1
	if state != nil {
		observations = state.Observations + 1
	}
	if err := a.persist(ctx, metricKey, mean, variance, observations); err != nil {
		return 0, err
	}
	return z, nil
}

func (a *Adapter) load(ctx context.Context, metricKey string) (*State, error) {
	var row State
	err := a.db.WithContext(ctx).
		Where("metric_key = ?", metricKey).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.MetricKey == "" {
		return nil, nil
	}
	return &row, nil
}

func (a *Adapter) persist(ctx context.Context, metricKey string, mean, variance float64, observations int64) error {
	now := time.Now().UTC()
	return a.db.WithContext(ctx).Exec(
		`INSERT INTO baseline_states (metric_key, mean_bits, variance_bits, observations, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (metric_key) DO UPDATE SET
			mean_bits = excluded.mean_bits,
			variance_bits = excluded.variance_bits,
			observations = excluded.observations,
			updated_at = excluded.updated_at`,
		metricKey,
		int64(math.Float64bits(mean)),
		int64(math.Float64bits(variance)),
		observations,
		now,
	).Error
}

var Module = fx.Module("baseline",
	fx.Provide(NewAdapter),
)
