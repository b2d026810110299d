package library

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bookcircle/pkg/logger"
)

// ReminderConfig configures the due-date reminder scan.
type ReminderConfig struct {
	Interval time.Duration `env:"REMINDER_INTERVAL" envDefault:"30m"` // Interval between scans.
}

// Reminder periodically scans active loans and emits due-soon and
// overdue notifications, at most once per book, kind, and calendar day.
//
// Idempotence does not rely on scheduler state: before inserting, the
// scan queries notifications created since local midnight for the same
// book and kind, so restarting the process mid-day cannot duplicate
// reminders.
type Reminder struct {
	gateway    Gateway
	dispatcher *Dispatcher
	interval   time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// ReminderOption configures a Reminder.
type ReminderOption func(*Reminder)

// WithReminderLogger sets the logger.
func WithReminderLogger(log *slog.Logger) ReminderOption {
	return func(r *Reminder) { r.log = log }
}

// WithReminderClock overrides the time source, for tests.
func WithReminderClock(now func() time.Time) ReminderOption {
	return func(r *Reminder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReminderInterval overrides the scan interval.
func WithReminderInterval(d time.Duration) ReminderOption {
	return func(r *Reminder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReminder creates the reminder scheduler with a 30 minute default
// interval.
func NewReminder(gateway Gateway, dispatcher *Dispatcher, opts ...ReminderOption) *Reminder {
	r := &Reminder{
		gateway:    gateway,
		dispatcher: dispatcher,
		interval:   30 * time.Minute,
		now:        time.Now,
		log:        slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start runs the scan loop until the context is cancelled. The first
// scan happens immediately.
func (r *Reminder) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.scanAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.InfoContext(ctx, "reminder scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.scanAndLog(ctx)
		}
	}
}

func (r *Reminder) scanAndLog(ctx context.Context) {
	if err := r.Scan(ctx); err != nil {
		r.log.LogAttrs(ctx, slog.LevelError, "reminder scan failed", logger.Error(err))
	}
}

// Scan walks every book currently on loan and emits the reminders the
// current day calls for. Safe to call any number of times per day.
func (r *Reminder) Scan(ctx context.Context) error {
	books, err := r.gateway.ListBooks(ctx, BookFilter{OnLoanOnly: true})
	if err != nil {
		return fmt.Errorf("list loans: %w", err)
	}

	now := r.now()
	for _, book := range books {
		if book.DueDate == nil || book.BorrowerID == nil {
			continue
		}
		if err := r.remindForBook(ctx, book, now); err != nil {
			r.log.LogAttrs(ctx, slog.LevelError, "failed to emit reminder",
				logger.BookID(book.ID),
				logger.Error(err),
			)
		}
	}
	return nil
}

// daysUntilDue counts whole days until the due instant, rounding up:
// a loan due later today yields 0, one due tomorrow yields 1, an
// overdue one yields a negative count.
func daysUntilDue(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

func (r *Reminder) remindForBook(ctx context.Context, book Book, now time.Time) error {
	days := daysUntilDue(*book.DueDate, now)

	switch {
	case days == 3 || days == 1 || days == 0:
		return r.emitOnce(ctx, *book.BorrowerID, NotificationDueSoon, book, now, Notification{
			Title:   "Book due soon",
			Message: fmt.Sprintf("Reminder: %q is due in %d day(s). Please prepare to return it.", book.Title, days),
		})
	case days < 0:
		overdueDays := -days
		if err := r.emitOnce(ctx, *book.BorrowerID, NotificationOverdue, book, now, Notification{
			Title:   "Book overdue",
			Message: fmt.Sprintf("%q is %d day(s) overdue. Please return it immediately.", book.Title, overdueDays),
		}); err != nil {
			return err
		}
		return r.emitOnce(ctx, book.OwnerID, NotificationBorrowerOverdue, book, now, Notification{
			Title:   "Your book is overdue",
			Message: fmt.Sprintf("Your book %q is %d day(s) overdue with the borrower.", book.Title, overdueDays),
		})
	default:
		return nil
	}
}

// emitOnce creates the notification unless one with the same reminder
// key (book, kind, calendar day) already exists.
func (r *Reminder) emitOnce(ctx context.Context, recipientID uuid.UUID, kind NotificationType, book Book, now time.Time, template Notification) error {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	existing, err := r.gateway.ListNotifications(ctx, recipientID, NotificationFilter{
		Types: []NotificationType{kind},
		Since: &midnight,
	})
	if err != nil {
		return fmt.Errorf("query today's reminders: %w", err)
	}
	for _, n := range existing {
		if id, ok := n.Data["book_id"].(string); ok && id == book.ID.String() {
			return nil
		}
	}

	template.RecipientID = recipientID
	template.Type = kind
	template.CreatedAt = now
	template.Data = map[string]any{
		"book_id":    book.ID.String(),
		"book_title": book.Title,
		"due_date":   book.DueDate.Format(time.RFC3339),
	}

	_, err = r.dispatcher.Notify(ctx, template)
	return err
}
