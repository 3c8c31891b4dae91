// Package alertlog appends deduplicated alert entries.
package alertlog

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/gridsense/gridwatch/internal/alert/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultDedupeWindow is the minimum interval between two committed entries
// of the same type.
const DefaultDedupeWindow = 2 * time.Minute

// Log appends alert entries, dropping repeats of the same type inside the
// dedupe window. The per-type timestamps are process-local on purpose: a
// restart may re-log one entry per type inside the window, which is cheaper
// than the store transaction a durable dedupe would need.
type Log struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	window time.Duration

	mu         sync.Mutex
	lastLogged map[string]time.Time
	now        func() time.Time
}

func New(db *gorm.DB, genID *snowflake.Node, log *zap.Logger, window time.Duration) *Log {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Log{
		db:    db,
		log:   log.Named("alert.log"),
		genID: genID,

		window:     window,
		lastLogged: make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LogAlert appends one entry unless an entry of the same type was committed
// inside the dedupe window. Returns whether the entry was committed.
func (l *Log) LogAlert(ctx context.Context, entry alertdomain.Entry) (bool, error) {
	switch entry.Type {
	case alertdomain.TypePower, alertdomain.TypeVoltage,
		alertdomain.TypeBudgetWarn, alertdomain.TypeBudgetCrit:
	default:
		return false, alertdomain.ErrInvalidAlertType
	}

	now := l.now()

	l.mu.Lock()
	if last, ok := l.lastLogged[entry.Type]; ok && now.Sub(last) < l.window {
		l.mu.Unlock()
		l.log.Debug("alert dropped inside dedupe window",
			zap.String("type", entry.Type))
		return false, nil
	}
	// Claim the slot before the write so concurrent callers of the same
	// type dedupe against each other.
	l.lastLogged[entry.Type] = now
	l.mu.Unlock()

	if entry.ID == 0 {
		entry.ID = l.genID.Generate()
	}
	if entry.TriggeredAt.IsZero() {
		entry.TriggeredAt = now
	}
	entry.Year = entry.TriggeredAt.Year()
	entry.Month = int(entry.TriggeredAt.Month())
	entry.CreatedAt = now

	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.mu.Lock()
		delete(l.lastLogged, entry.Type)
		l.mu.Unlock()
		return false, err
	}

	l.log.Info("alert logged",
		zap.String("type", entry.Type),
		zap.String("title", entry.Title))
	return true, nil
}

// List returns the entries for one (year, month) partition, newest first.
func (l *Log) List(ctx context.Context, deviceID string, year, month int) ([]alertdomain.Entry, error) {
	var rows []alertdomain.Entry
	err := l.db.WithContext(ctx).
		Where("device_id = ? AND year = ? AND month = ?", deviceID, year, month).
		Order("triggered_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead toggles the user-visible read flag, the only mutation an entry
// ever receives.
func (l *Log) MarkRead(ctx context.Context, id snowflake.ID) error {
	return l.db.WithContext(ctx).Exec(
		`UPDATE alert_entries SET read = true WHERE id = ?`, id,
	).Error
}

// SetNowFunc overrides the clock for tests.
func (l *Log) SetNowFunc(now func() time.Time) { l.now = now }
