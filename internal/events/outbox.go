package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification describes an emitted alert to hand to the external delivery
// collaborator. Delivery mechanics stay outside this engine; the outbox row
// is the handoff.
type Notification struct {
	Type      string
	Title     string
	Body      string
	Payload   map[string]any
	DedupeKey string
}

// Outbox inserts notification events into the notification_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores a notification event. A repeated dedupe key is a silent
// no-op, the same at-most-once contract the alert log enforces in memory.
func (o *Outbox) Publish(ctx context.Context, n Notification) error {
	return o.publish(ctx, o.db, n)
}

// PublishTx stores a notification event inside an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, n Notification) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, n)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, n Notification) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	eventType := strings.TrimSpace(n.Type)
	if eventType == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range n.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(n.DedupeKey)
	var dedupeValue any
	if dedupe != "" {
		dedupeValue = dedupe
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_events (id, event_type, title, body, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		eventType,
		n.Title,
		n.Body,
		payload,
		dedupeValue,
		now,
	).Error
}
