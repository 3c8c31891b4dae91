// Package notify is the single choke point for outbound notifications.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a rendered notification to the platform layer.
type Notifier interface {
	Notify(ctx context.Context, title, body, category string) error
}

// PermissionFunc reports whether the platform currently allows
// notifications. Supplied by the hosting layer; defaults to allowed.
type PermissionFunc func() bool

// Gate wraps a Notifier with the push-enabled setting and the platform
// permission check. Every alert emission must pass through it.
type Gate struct {
	notifier   Notifier
	permission PermissionFunc
	log        *zap.Logger
}

func NewGate(notifier Notifier, permission PermissionFunc, log *zap.Logger) *Gate {
	if permission == nil {
		permission = func() bool { return true }
	}
	return &Gate{
		notifier:   notifier,
		permission: permission,
		log:        log.Named("alert.notify"),
	}
}

// NotifyIfAllowed delivers the notification unless push is disabled or the
// platform permission check fails. Returns whether delivery was attempted.
func (g *Gate) NotifyIfAllowed(ctx context.Context, pushEnabled bool, title, body, category string) bool {
	if !pushEnabled {
		return false
	}
	if !g.permission() {
		return false
	}
	if err := g.notifier.Notify(ctx, title, body, category); err != nil {
		// Delivery failure is not an engine failure; the alert log and
		// outbox already hold the record.
		g.log.Warn("notification delivery failed",
			zap.String("category", category), zap.Error(err))
	}
	return true
}

// LogNotifier writes notifications to the process log. It stands in for the
// platform push layer in deployments without one.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("alert.push")}
}

func (n *LogNotifier) Notify(ctx context.Context, title, body, category string) error {
	n.log.Info("notification",
		zap.String("category", category),
		zap.String("title", title),
		zap.String("body", body))
	return nil
}
