package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridsense/gridwatch/internal/config"
	"github.com/gridsense/gridwatch/internal/peak"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	readingservice "github.com/gridsense/gridwatch/internal/reading/service"
	rollupdomain "github.com/gridsense/gridwatch/internal/rollup/domain"
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
	GenID    *snowflake.Node
	Config   config.Config
	Readings *readingservice.Service
	Settings *settingsservice.Service
	Peaks    *peak.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	cfg      config.Config
	readings *readingservice.Service
	settings *settingsservice.Service
	peaks    *peak.Service
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("rollup.service"),

		genID:    p.GenID,
		cfg:      p.Config,
		readings: p.Readings,
		settings: p.Settings,
		peaks:    p.Peaks,
	}
}

// RollupHour produces the hourly summary for one (device, date, hour) key.
// It skips without error when a summary already exists or the bucket holds
// no readings. The conditional insert is the commit point: once a row lands,
// the hour is permanently processed and late samples are ignored. Returns
// the summary and whether this call created it.
func (s *Service) RollupHour(ctx context.Context, deviceID, date string, hour int) (*rollupdomain.HourlySummary, bool, error) {
	if hour < 0 || hour > 23 {
		return nil, false, rollupdomain.ErrInvalidHour
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, false, rollupdomain.ErrInvalidDate
	}

	existing, err := s.findHourly(ctx, deviceID, date, hour)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	samples, err := s.readings.ListForHour(ctx, deviceID, date, hour)
	if err != nil {
		return nil, false, err
	}
	if len(samples) == 0 {
		// No summary for an empty hour: a zero row would be
		// indistinguishable from an all-zero device report and would
		// block retry once samples arrive.
		return nil, false, nil
	}

	voltageRef := s.settings.VoltageReference(ctx)
	rate := s.settings.ElectricityRate(ctx)

	agg := ComputeHourly(samples, voltageRef, s.cfg.SampleInterval)
	if agg == nil {
		return nil, false, nil
	}

	summary := &rollupdomain.HourlySummary{
		ID:               s.genID.Generate(),
		DeviceID:         deviceID,
		Date:             date,
		Hour:             hour,
		AvgPowerWatts:    agg.AvgPowerWatts,
		PeakPowerWatts:   agg.PeakPowerWatts,
		MinPowerWatts:    agg.MinPowerWatts,
		TotalEnergyKwh:   agg.TotalEnergyKwh,
		TotalCost:        agg.TotalEnergyKwh * rate,
		BatteryLevel:     agg.BatteryLevel,
		AvgVoltage:       agg.AvgVoltage,
		CircuitEnergyKwh: toJSONMap(agg.CircuitEnergyKwh),
		CircuitAvgWatts:  toJSONMap(agg.CircuitAvgWatts),
		ReadingCount:     agg.ReadingCount,
		Completeness:     agg.Completeness,
		Quality:          rollupdomain.QualityLabel(agg.Completeness),
		CreatedAt:        time.Now().UTC(),
	}

	created, err := s.insertHourly(ctx, summary)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Another trigger claimed the key between the check and the
		// write; the conditional insert makes that a benign skip.
		winner, err := s.findHourly(ctx, deviceID, date, hour)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	s.log.Info("hourly summary written",
		zap.String("device_id", deviceID),
		zap.String("date", date),
		zap.Int("hour", hour),
		zap.Float64("total_energy_kwh", summary.TotalEnergyKwh),
		zap.String("quality", summary.Quality))
	return summary, true, nil
}

// RollupDay aggregates all hourly summaries for a date into the daily
// summary. Skips when the daily key exists or no hourly summaries exist.
func (s *Service) RollupDay(ctx context.Context, deviceID, date string) (*rollupdomain.DailySummary, bool, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, false, rollupdomain.ErrInvalidDate
	}

	existing, err := s.FindDaily(ctx, deviceID, date)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	hours, err := s.ListHourly(ctx, deviceID, date)
	if err != nil {
		return nil, false, err
	}
	if len(hours) == 0 {
		return nil, false, nil
	}

	rate := s.settings.ElectricityRate(ctx)
	voltageRef := s.settings.VoltageReference(ctx)

	day := aggregateDay(hours, rate)

	peakAt := dayPeakTime(date, day.PeakHour, s.cfg.Location())
	circuitPeaks, fallbackUsed, err := s.peaks.Attribute(
		ctx, deviceID, date, day.PeakPowerWatts, peakAt, day.circuitEnergy, voltageRef)
	if err != nil {
		return nil, false, err
	}

	totals := make(map[string]rollupdomain.CircuitDayTotal, len(day.circuitEnergy))
	for circuit, kwh := range day.circuitEnergy {
		total := rollupdomain.CircuitDayTotal{
			EnergyKwh:  kwh,
			Cost:       kwh * rate,
			SharePct:   sharePct(kwh, day.TotalEnergyKwh),
			Attributed: !fallbackUsed,
		}
		if p, ok := circuitPeaks[circuit]; ok {
			total.PeakWatts = p.Watts
			at := p.At
			total.PeakAt = &at
		}
		totals[circuit] = total
	}

	circuitJSON, err := json.Marshal(totals)
	if err != nil {
		return nil, false, err
	}
	breakdownJSON, err := json.Marshal(day.breakdown)
	if err != nil {
		return nil, false, err
	}

	summary := &rollupdomain.DailySummary{
		ID:              s.genID.Generate(),
		DeviceID:        deviceID,
		Date:            date,
		TotalEnergyKwh:  day.TotalEnergyKwh,
		TotalCost:       day.TotalCost,
		AvgPowerWatts:   day.AvgPowerWatts,
		PeakPowerWatts:  day.PeakPowerWatts,
		MinPowerWatts:   day.MinPowerWatts,
		PeakHour:        day.PeakHour,
		BatteryLevel:    day.BatteryLevel,
		CircuitTotals:   datatypes.JSON(circuitJSON),
		HourlyBreakdown: datatypes.JSON(breakdownJSON),
		HourCount:       len(hours),
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.insertDaily(ctx, summary)
	if err != nil {
		return nil, false, err
	}
	if !created {
		winner, err := s.FindDaily(ctx, deviceID, date)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	s.log.Info("daily summary written",
		zap.String("device_id", deviceID),
		zap.String("date", date),
		zap.Int("hour_count", len(hours)),
		zap.Float64("total_energy_kwh", summary.TotalEnergyKwh))
	return summary, true, nil
}

// ListHourly returns the hourly summaries for a date ordered by hour.
func (s *Service) ListHourly(ctx context.Context, deviceID, date string) ([]rollupdomain.HourlySummary, error) {
	var rows []rollupdomain.HourlySummary
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND date = ?", deviceID, date).
		Order("hour ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindDaily returns the daily summary for a date, or nil when absent.
func (s *Service) FindDaily(ctx context.Context, deviceID, date string) (*rollupdomain.DailySummary, error) {
	var row rollupdomain.DailySummary
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND date = ?", deviceID, date).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) findHourly(ctx context.Context, deviceID, date string, hour int) (*rollupdomain.HourlySummary, error) {
	var row rollupdomain.HourlySummary
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND date = ? AND hour = ?", deviceID, date, hour).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) insertHourly(ctx context.Context, summary *rollupdomain.HourlySummary) (bool, error) {
	circuitEnergy, err := json.Marshal(summary.CircuitEnergyKwh)
	if err != nil {
		return false, err
	}
	circuitWatts, err := json.Marshal(summary.CircuitAvgWatts)
	if err != nil {
		return false, err
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`INSERT INTO hourly_summaries (
				id, device_id, date, hour,
				avg_power_watts, peak_power_watts, min_power_watts,
				total_energy_kwh, total_cost, battery_level, avg_voltage,
				circuit_energy_kwh, circuit_avg_watts,
				reading_count, completeness, quality, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (device_id, date, hour) DO NOTHING`,
			summary.ID,
			summary.DeviceID,
			summary.Date,
			summary.Hour,
			summary.AvgPowerWatts,
			summary.PeakPowerWatts,
			summary.MinPowerWatts,
			summary.TotalEnergyKwh,
			summary.TotalCost,
			summary.BatteryLevel,
			summary.AvgVoltage,
			string(circuitEnergy),
			string(circuitWatts),
			summary.ReadingCount,
			summary.Completeness,
			summary.Quality,
			summary.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Service) insertDaily(ctx context.Context, summary *rollupdomain.DailySummary) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`INSERT INTO daily_summaries (
				id, device_id, date,
				total_energy_kwh, total_cost,
				avg_power_watts, peak_power_watts, min_power_watts,
				peak_hour, battery_level,
				circuit_totals, hourly_breakdown, hour_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (device_id, date) DO NOTHING`,
			summary.ID,
			summary.DeviceID,
			summary.Date,
			summary.TotalEnergyKwh,
			summary.TotalCost,
			summary.AvgPowerWatts,
			summary.PeakPowerWatts,
			summary.MinPowerWatts,
			summary.PeakHour,
			summary.BatteryLevel,
			string(summary.CircuitTotals),
			string(summary.HourlyBreakdown),
			summary.HourCount,
			summary.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// HourlyAggregate is the computed view of one hour of raw readings before
// pricing and persistence.
type HourlyAggregate struct {
	AvgPowerWatts    float64
	PeakPowerWatts   float64
	MinPowerWatts    float64
	TotalEnergyKwh   float64
	BatteryLevel     float64
	AvgVoltage       float64
	CircuitEnergyKwh map[string]float64
	CircuitAvgWatts  map[string]float64
	ReadingCount     int
	Completeness     float64
}

// ComputeHourly folds raw readings into an hourly aggregate. Instantaneous
// power per circuit is voltageRef times the circuit current; each sample
// contributes power/1000 * interval hours of energy. Returns nil when the
// sample set is empty.
func ComputeHourly(samples []readingdomain.RawReading, voltageRef float64, sampleInterval time.Duration) *HourlyAggregate {
	if len(samples) == 0 {
		return nil
	}

	intervalHours := sampleInterval.Hours()
	expected := int(time.Hour / sampleInterval)
	if expected <= 0 {
		expected = 1
	}

	agg := &HourlyAggregate{
		CircuitEnergyKwh: make(map[string]float64, len(readingdomain.CircuitIDs)),
		CircuitAvgWatts:  make(map[string]float64, len(readingdomain.CircuitIDs)),
	}

	var powerSum, batterySum, voltageSum float64
	circuitWattSum := make(map[string]float64, len(readingdomain.CircuitIDs))

	for i, sample := range samples {
		var totalWatts float64
		for circuit, amps := range sample.Currents() {
			watts := amps * voltageRef
			totalWatts += watts
			circuitWattSum[circuit] += watts
			agg.CircuitEnergyKwh[circuit] += watts / 1000 * intervalHours
		}

		agg.TotalEnergyKwh += totalWatts / 1000 * intervalHours
		powerSum += totalWatts
		batterySum += sample.BatteryVoltage
		voltageSum += sample.ChargeVoltage

		if i == 0 || totalWatts > agg.PeakPowerWatts {
			agg.PeakPowerWatts = totalWatts
		}
		if i == 0 || totalWatts < agg.MinPowerWatts {
			agg.MinPowerWatts = totalWatts
		}
	}

	count := float64(len(samples))
	agg.AvgPowerWatts = powerSum / count
	agg.BatteryLevel = batterySum / count
	agg.AvgVoltage = voltageSum / count
	agg.ReadingCount = len(samples)

	for circuit, sum := range circuitWattSum {
		agg.CircuitAvgWatts[circuit] = sum / count
	}

	agg.Completeness = count / float64(expected)
	if agg.Completeness > 1 {
		agg.Completeness = 1
	}

	return agg
}

type dayAggregate struct {
	TotalEnergyKwh float64
	TotalCost      float64
	AvgPowerWatts  float64
	PeakPowerWatts float64
	MinPowerWatts  float64
	PeakHour       int
	BatteryLevel   float64

	circuitEnergy map[string]float64
	breakdown     []rollupdomain.HourSlice
}

func aggregateDay(hours []rollupdomain.HourlySummary, rate float64) dayAggregate {
	sorted := make([]rollupdomain.HourlySummary, len(hours))
	copy(sorted, hours)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hour < sorted[j].Hour })

	day := dayAggregate{
		circuitEnergy: make(map[string]float64),
		breakdown:     make([]rollupdomain.HourSlice, 0, len(sorted)),
	}

	var avgSum, batterySum float64
	for i, h := range sorted {
		day.TotalEnergyKwh += h.TotalEnergyKwh
		day.TotalCost += h.TotalCost
		avgSum += h.AvgPowerWatts
		batterySum += h.BatteryLevel

		// Tie-break: the first hour reaching the maximum wins.
		if i == 0 || h.PeakPowerWatts > day.PeakPowerWatts {
			day.PeakPowerWatts = h.PeakPowerWatts
			day.PeakHour = h.Hour
		}
		if i == 0 || h.MinPowerWatts < day.MinPowerWatts {
			day.MinPowerWatts = h.MinPowerWatts
		}

		for _, circuit := range readingdomain.CircuitIDs {
			day.circuitEnergy[circuit] += h.CircuitEnergy(circuit)
		}

		day.breakdown = append(day.breakdown, rollupdomain.HourSlice{
			Hour:      h.Hour,
			EnergyKwh: h.TotalEnergyKwh,
			Cost:      h.TotalCost,
			AvgWatts:  h.AvgPowerWatts,
			PeakWatts: h.PeakPowerWatts,
			Quality:   h.Quality,
		})
	}

	count := float64(len(sorted))
	day.AvgPowerWatts = avgSum / count
	day.BatteryLevel = batterySum / count
	return day
}

func sharePct(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

func dayPeakTime(date string, hour int, loc *time.Location) time.Time {
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(hour) * time.Hour)
}

func toJSONMap(values map[string]float64) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
