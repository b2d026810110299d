package library

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bookcircle/pkg/logger"
)

// Deliverer pushes a notification to the recipient's live sessions.
// Delivery is best effort: an offline recipient is not an error.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// NoopDeliverer discards deliveries. Useful when no real-time transport
// is wired, and in tests.
type NoopDeliverer struct{}

func (NoopDeliverer) Deliver(ctx context.Context, n Notification) error { return nil }

// Dispatcher records notifications durably and then attempts real-time
// delivery. The persist-then-push order is the delivery contract: a
// notification survives a failed push and stays queryable until read.
type Dispatcher struct {
	gateway   Gateway
	deliverer Deliverer
	log       *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the Dispatcher.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher creates a notification dispatcher. A nil deliverer is
// replaced with NoopDeliverer.
func NewDispatcher(gateway Gateway, deliverer Deliverer, opts ...DispatcherOption) *Dispatcher {
	if deliverer == nil {
		deliverer = NoopDeliverer{}
	}

	d := &Dispatcher{
		gateway:   gateway,
		deliverer: deliverer,
		log:       slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Notify persists a notification for the recipient and pushes it to any
// live sessions. It returns the notification id; the caller embeds it in
// payloads that need a stable reference (e.g. approve/deny actions).
func (d *Dispatcher) Notify(ctx context.Context, n Notification) (uuid.UUID, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	// Store first so a failed push degrades to an unread notification
	// instead of a lost one.
	if err := d.gateway.CreateNotification(ctx, n); err != nil {
		return uuid.Nil, fmt.Errorf("store notification: %w", err)
	}

	if err := d.deliverer.Deliver(ctx, n); err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, "notification stored but real-time delivery failed",
			logger.NotificationID(n.ID),
			logger.UserID(n.RecipientID),
			logger.Error(err),
		)
	}

	return n.ID, nil
}
