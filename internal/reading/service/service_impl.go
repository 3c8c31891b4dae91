package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gridsense/gridwatch/internal/config"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Config config.Config
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	deviceID string
	loc      *time.Location
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("reading.service"),

		genID:    p.GenID,
		deviceID: p.Config.DeviceID,
		loc:      p.Config.Location(),
	}
}

// Ingest decodes one wire payload and persists it bucketed by device-local
// date and hour. Malformed payloads are skipped without error; they count
// against completeness by never being written.
func (s *Service) Ingest(ctx context.Context, deviceID, payload string, recordedAt time.Time) (*readingdomain.RawReading, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = s.deviceID
	}
	if deviceID == "" {
		return nil, readingdomain.ErrInvalidDevice
	}

	sample, err := readingdomain.ParseWireSample(payload)
	if err != nil {
		s.log.Debug("skipping malformed sample",
			zap.String("device_id", deviceID),
			zap.Time("recorded_at", recordedAt))
		return nil, err
	}

	local := recordedAt.In(s.loc)
	record := &readingdomain.RawReading{
		ID:             s.genID.Generate(),
		DeviceID:       deviceID,
		Date:           local.Format("2006-01-02"),
		Hour:           local.Hour(),
		RecordedAt:     recordedAt.UTC(),
		BatteryVoltage: sample.BatteryVoltage,
		ChargeVoltage:  sample.ChargeVoltage,
		CurrentA1:      sample.CurrentA1,
		CurrentA2:      sample.CurrentA2,
		CurrentA3:      sample.CurrentA3,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// ListForHour returns the raw readings for one (device, date, hour) bucket
// in recording order.
func (s *Service) ListForHour(ctx context.Context, deviceID, date string, hour int) ([]readingdomain.RawReading, error) {
	var rows []readingdomain.RawReading
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND date = ? AND hour = ?", deviceID, date, hour).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListForDate returns all raw readings for a device-local calendar date.
func (s *Service) ListForDate(ctx context.Context, deviceID, date string) ([]readingdomain.RawReading, error) {
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

// Latest returns the most recent reading for the device, or nil when none
// exist yet.
func (s *Service) Latest(ctx context.Context, deviceID string) (*readingdomain.RawReading, error) {
	var row readingdomain.RawReading
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("recorded_at DESC").
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
