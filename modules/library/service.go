package library

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bookcircle/pkg/logger"
)

// EventSink receives catalog change events for fan-out to connected
// sessions. Like notification delivery, event fan-out is best effort and
// never fails the triggering operation.
type EventSink interface {
	BookAdded(ctx context.Context, b Book)
	BookUpdated(ctx context.Context, b Book)
	BookDeleted(ctx context.Context, id uuid.UUID)
}

// NoopEventSink discards all events.
type NoopEventSink struct{}

func (NoopEventSink) BookAdded(ctx context.Context, b Book) {}

func (NoopEventSink) BookUpdated(ctx context.Context, b Book) {}

func (NoopEventSink) BookDeleted(ctx context.Context, id uuid.UUID) {}

// Service is the borrow lifecycle engine: the single owner of every
// transition of a book's loan sub-state and of the request protocol
// between borrower and owner.
//
// Mutating operations on the same book are serialized through a per-book
// lock, so the approve-on-still-available check and the loan write act
// as one atomic unit regardless of gateway adapter.
type Service struct {
	gateway    Gateway
	dispatcher *Dispatcher
	events     EventSink
	log        *slog.Logger
	now        func() time.Time

	bookLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the lifecycle engine. Nil dispatcher or sink are
// replaced with no-op implementations.
func NewService(gateway Gateway, dispatcher *Dispatcher, events EventSink, opts ...ServiceOption) *Service {
	if dispatcher == nil {
		dispatcher = NewDispatcher(gateway, nil)
	}
	if events == nil {
		events = NoopEventSink{}
	}

	s := &Service{
		gateway:    gateway,
		dispatcher: dispatcher,
		events:     events,
		log:        slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// lockBook acquires the per-book mutex and returns its unlock function.
func (s *Service) lockBook(id uuid.UUID) func() {
	v, _ := s.bookLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AddBookParams carries the owner-supplied listing fields.
type AddBookParams struct {
	Title       string
	Author      string
	Genre       string
	Description string
	Condition   string
}

// AddBook lists a new book for the owner. The book starts available.
func (s *Service) AddBook(ctx context.Context, ownerID uuid.UUID, p AddBookParams) (*Book, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, NewValidationError("title", "is required")
	}
	if strings.TrimSpace(p.Author) == "" {
		return nil, NewValidationError("author", "is required")
	}

	if _, err := s.gateway.UserByID(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	now := s.now()
	book := Book{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(p.Title),
		Author:      strings.TrimSpace(p.Author),
		Genre:       strings.TrimSpace(p.Genre),
		Description: strings.TrimSpace(p.Description),
		Condition:   strings.TrimSpace(p.Condition),
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.gateway.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.events.BookAdded(ctx, book)
	return &book, nil
}

// RequestBorrow creates a pending borrow request and notifies the owner.
// The requested period is clamped to the allowed range.
func (s *Service) RequestBorrow(ctx context.Context, requesterID, bookID uuid.UUID, periodDays int, message string) (*BorrowRequest, error) {
	if periodDays <= 0 {
		return nil, NewValidationError("period_days", "must be a positive number of days")
	}
	periodDays = ClampBorrowPeriod(periodDays)

	unlock := s.lockBook(bookID)
	defer unlock()

	book, err := s.gateway.BookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.OwnerID == requesterID {
		return nil, fmt.Errorf("%w: cannot borrow your own book", ErrConflict)
	}
	if book.OnLoan() {
		return nil, fmt.Errorf("%w: book is already borrowed", ErrConflict)
	}

	pending, err := s.gateway.HasPendingRequest(ctx, bookID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("check pending request: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("%w: you already have a pending request for this book", ErrConflict)
	}

	requester, err := s.gateway.UserByID(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("resolve requester: %w", err)
	}

	request := BorrowRequest{
		ID:          uuid.New(),
		BookID:      bookID,
		RequesterID: requesterID,
		OwnerID:     book.OwnerID,
		PeriodDays:  periodDays,
		Message:     strings.TrimSpace(message),
		Status:      RequestPending,
		RequestedAt: s.now(),
	}
	if err := s.gateway.CreateRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	msg := fmt.Sprintf("%s wants to borrow %q for %d day(s).", requester.DisplayName, book.Title, periodDays)
	if request.Message != "" {
		msg += " Message: " + request.Message
	}
	s.notify(ctx, Notification{
		RecipientID: book.OwnerID,
		Type:        NotificationBorrowRequest,
		Title:       "New borrow request",
		Message:     msg,
		Data: map[string]any{
			"request_id":     request.ID.String(),
			"book_id":        book.ID.String(),
			"book_title":     book.Title,
			"requester_id":   requester.ID.String(),
			"requester_name": requester.DisplayName,
			"period_days":    periodDays,
		},
	})

	return &request, nil
}

// RespondToRequest lets the book's owner approve or deny a pending
// request. Approval claims the book atomically; if the book was claimed
// by a concurrent approval in the meantime, the request stays pending
// and ErrConflict is returned.
func (s *Service) RespondToRequest(ctx context.Context, responderID, requestID uuid.UUID, decision RequestStatus, responseText string) error {
	if decision != RequestApproved && decision != RequestDenied {
		return NewValidationError("decision", "must be approved or denied")
	}

	request, err := s.gateway.RequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.OwnerID != responderID {
		return fmt.Errorf("%w: only the book owner can respond to this request", ErrForbidden)
	}

	unlock := s.lockBook(request.BookID)
	defer unlock()

	// Re-read under the lock: the request may have been answered by a
	// concurrent call.
	request, err = s.gateway.RequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != RequestPending {
		return fmt.Errorf("%w: request is no longer pending", ErrConflict)
	}

	book, err := s.gateway.BookByID(ctx, request.BookID)
	if err != nil {
		return err
	}
	owner, err := s.gateway.UserByID(ctx, request.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}

	now := s.now()

	if decision == RequestApproved {
		dueDate := now.AddDate(0, 0, request.PeriodDays)
		loan := Loan{
			BookID:     request.BookID,
			BorrowerID: request.RequesterID,
			BorrowedAt: now,
			DueDate:    dueDate,
			PeriodDays: request.PeriodDays,
		}
		// The gateway refuses the claim when the book is no longer
		// available; the second of two racing approvals fails here.
		if err := s.gateway.ApproveLoan(ctx, loan); err != nil {
			return err
		}

		request.Status = RequestApproved
		request.OwnerResponse = strings.TrimSpace(responseText)
		request.RespondedAt = &now
		if err := s.gateway.UpdateRequest(ctx, *request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		s.notify(ctx, Notification{
			RecipientID: request.RequesterID,
			Type:        NotificationRequestApproved,
			Title:       "Request approved",
			Message: fmt.Sprintf("%s approved your request to borrow %q. Due date: %s.",
				owner.DisplayName, book.Title, dueDate.Format("Jan 2, 2006")),
			Data: map[string]any{
				"request_id": request.ID.String(),
				"book_id":    book.ID.String(),
				"book_title": book.Title,
				"due_date":   dueDate.Format(time.RFC3339),
			},
		})

		updated, err := s.gateway.BookByID(ctx, request.BookID)
		if err == nil {
			s.events.BookUpdated(ctx, *updated)
		}
		return nil
	}

	request.Status = RequestDenied
	request.OwnerResponse = strings.TrimSpace(responseText)
	request.RespondedAt = &now
	if err := s.gateway.UpdateRequest(ctx, *request); err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	msg := fmt.Sprintf("%s declined your request to borrow %q.", owner.DisplayName, book.Title)
	if request.OwnerResponse != "" {
		msg += " " + request.OwnerResponse
	}
	s.notify(ctx, Notification{
		RecipientID: request.RequesterID,
		Type:        NotificationRequestDenied,
		Title:       "Request denied",
		Message:     msg,
		Data: map[string]any{
			"request_id": request.ID.String(),
			"book_id":    book.ID.String(),
			"book_title": book.Title,
		},
	})
	return nil
}

// ReturnBook completes the active loan. Only the current borrower can
// return a book.
func (s *Service) ReturnBook(ctx context.Context, returnerID, bookID uuid.UUID) (*Book, error) {
	unlock := s.lockBook(bookID)
	defer unlock()

	book, err := s.gateway.BookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.BorrowerID == nil || *book.BorrowerID != returnerID {
		return nil, fmt.Errorf("%w: only the current borrower can return this book", ErrForbidden)
	}

	returner, err := s.gateway.UserByID(ctx, returnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve returner: %w", err)
	}
	owner, err := s.gateway.UserByID(ctx, book.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	now := s.now()
	book.BorrowerID = nil
	book.BorrowedAt = nil
	book.DueDate = nil
	book.BorrowPeriodDays = nil
	book.ReturnedAt = &now
	book.UpdatedAt = now
	if err := s.gateway.UpdateBook(ctx, *book); err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}

	s.notify(ctx, Notification{
		RecipientID: book.OwnerID,
		Type:        NotificationBookReturned,
		Title:       "Book returned",
		Message:     fmt.Sprintf("%s has returned your book %q.", returner.DisplayName, book.Title),
		Data: map[string]any{
			"book_id":       book.ID.String(),
			"book_title":    book.Title,
			"borrower_name": returner.DisplayName,
		},
	})
	s.notify(ctx, Notification{
		RecipientID: returnerID,
		Type:        NotificationReturnConfirm,
		Title:       "Return confirmed",
		Message:     fmt.Sprintf("You have returned %q to %s.", book.Title, owner.DisplayName),
		Data: map[string]any{
			"book_id":    book.ID.String(),
			"book_title": book.Title,
		},
	})

	s.events.BookUpdated(ctx, *book)
	return book, nil
}

// DeleteBook removes a listing. Deleting a book that is currently on
// loan is forbidden: the copy has to come back first, otherwise the
// active loan would lose its subject.
func (s *Service) DeleteBook(ctx context.Context, ownerID, bookID uuid.UUID) error {
	unlock := s.lockBook(bookID)
	defer unlock()

	book, err := s.gateway.BookByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book.OwnerID != ownerID {
		return fmt.Errorf("%w: only the owner can delete this book", ErrForbidden)
	}
	if book.OnLoan() {
		return fmt.Errorf("%w: book is currently on loan, it must be returned first", ErrConflict)
	}

	if err := s.gateway.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	s.events.BookDeleted(ctx, bookID)
	return nil
}

// AvailableBooks lists other members' books: the caller's own listings
// are excluded, currently borrowed copies are included so the catalog
// shows when they might come back.
func (s *Service) AvailableBooks(ctx context.Context, callerID uuid.UUID, titleQuery string) ([]Book, error) {
	return s.gateway.ListBooks(ctx, BookFilter{
		ExcludeOwnerID: &callerID,
		TitleContains:  strings.TrimSpace(titleQuery),
	})
}

// MyBooks lists the caller's own listings.
func (s *Service) MyBooks(ctx context.Context, ownerID uuid.UUID) ([]Book, error) {
	return s.gateway.ListBooks(ctx, BookFilter{OwnerID: &ownerID})
}

// BorrowedBooks lists books the caller currently has on loan.
func (s *Service) BorrowedBooks(ctx context.Context, borrowerID uuid.UUID) ([]Book, error) {
	return s.gateway.ListBooks(ctx, BookFilter{BorrowerID: &borrowerID})
}

// PendingRequests lists pending borrow requests addressed to the caller
// as owner, oldest first.
func (s *Service) PendingRequests(ctx context.Context, ownerID uuid.UUID) ([]PendingRequest, error) {
	return s.gateway.PendingRequestsForOwner(ctx, ownerID)
}

// Notifications lists the caller's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error) {
	return s.gateway.ListNotifications(ctx, recipientID, NotificationFilter{Limit: limit})
}

// UnreadNotifications lists the caller's unread notifications, newest
// first. Used to replay missed notifications when a session connects.
func (s *Service) UnreadNotifications(ctx context.Context, recipientID uuid.UUID) ([]Notification, error) {
	return s.gateway.ListNotifications(ctx, recipientID, NotificationFilter{OnlyUnread: true})
}

// MarkNotificationRead marks one notification as read. It is idempotent
// and a no-op for notifications not owned by the caller.
func (s *Service) MarkNotificationRead(ctx context.Context, recipientID, notifID uuid.UUID) error {
	return s.gateway.MarkNotificationRead(ctx, recipientID, notifID)
}

// UnreadNotificationCount returns the caller's unread notification count.
func (s *Service) UnreadNotificationCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	return s.gateway.CountUnreadNotifications(ctx, recipientID)
}

// notify dispatches through the Dispatcher and logs instead of failing:
// a stored-but-unpushed notification is a degradation, not an error, and
// an unstorable one must not abort an already committed transition.
func (s *Service) notify(ctx context.Context, n Notification) {
	if _, err := s.dispatcher.Notify(ctx, n); err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "failed to record notification",
			logger.UserID(n.RecipientID),
			logger.EventType(string(n.Type)),
			logger.Error(err),
		)
	}
}
