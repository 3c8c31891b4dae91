// Package peak computes per-circuit instantaneous peak power for a day.
package peak

import (
	"context"
	"math"
	"time"

	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CircuitPeak is one circuit's peak power and the instant it occurred.
type CircuitPeak struct {
	Watts float64   `json:"watts"`
	At    time.Time `json:"at"`
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("peak.service"),
	}
}

// Attribute returns per-circuit peaks for the date. The primary path scans
// raw readings and tracks each circuit's true maximum independently; circuit
// peaks may occur at different instants, so their sum can diverge from the
// overall peak. When raw readings are unavailable it falls back to
// distributing totalPeakWatts proportionally to each circuit's energy share,
// which preserves the sum exactly. The second return reports whether the
// fallback was used.
func (s *Service) Attribute(
	ctx context.Context,
	deviceID, date string,
	totalPeakWatts float64,
	peakAt time.Time,
	circuitEnergyKwh map[string]float64,
	voltageRef float64,
) (map[string]CircuitPeak, bool, error) {
	rows, err := s.loadReadings(ctx, deviceID, date)
	if err != nil {
		s.log.Warn("raw readings unavailable, using proportional attribution",
			zap.String("device_id", deviceID),
			zap.String("date", date),
			zap.Error(err))
		return proportional(totalPeakWatts, peakAt, circuitEnergyKwh), true, nil
	}
	if len(rows) == 0 {
		return proportional(totalPeakWatts, peakAt, circuitEnergyKwh), true, nil
	}

	peaks := make(map[string]CircuitPeak, len(readingdomain.CircuitIDs))
	for _, row := range rows {
		for circuit, amps := range row.Currents() {
			watts := amps * voltageRef
			if current, ok := peaks[circuit]; !ok || watts > current.Watts {
				peaks[circuit] = CircuitPeak{Watts: watts, At: row.RecordedAt}
			}
		}
	}

	var sum float64
	for _, p := range peaks {
		sum += p.Watts
	}
	if totalPeakWatts > 0 && math.Abs(sum-totalPeakWatts) > 1e-9 {
		// Expected when circuit peaks land at different instants.
		s.log.Debug("circuit peak sum diverges from overall peak",
			zap.String("date", date),
			zap.Float64("circuit_sum_watts", sum),
			zap.Float64("total_peak_watts", totalPeakWatts))
	}
	return peaks, false, nil
}

func (s *Service) loadReadings(ctx context.Context, deviceID, date string) ([]readingdomain.RawReading, error) {
	var rows []readingdomain.RawReading
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND date = ?", deviceID, date).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func proportional(totalPeakWatts float64, peakAt time.Time, circuitEnergyKwh map[string]float64) map[string]CircuitPeak {
	var totalEnergy float64
	for _, kwh := range circuitEnergyKwh {
		totalEnergy += kwh
	}

	peaks := make(map[string]CircuitPeak, len(circuitEnergyKwh))
	for circuit, kwh := range circuitEnergyKwh {
		var share float64
		if totalEnergy > 0 {
			share = kwh / totalEnergy
		}
		peaks[circuit] = CircuitPeak{
			Watts: totalPeakWatts * share,
			At:    peakAt,
		}
	}
	return peaks
}

var Module = fx.Module("peak",
	fx.Provide(NewService),
)
