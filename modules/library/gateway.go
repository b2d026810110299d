package library

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway is the persistence boundary of the lending core. The lifecycle
// engine holds no authoritative in-memory state: every transition is a
// read-check-write through this interface, so adapters can be swapped
// (in-memory, PostgreSQL, SQLite) without touching the core.
//
// Adapters translate driver errors into the package taxonomy: missing
// rows become ErrNotFound, transport failures become ErrUnavailable.
type Gateway interface {
	// Users.
	CreateUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u User) error

	// Books.
	CreateBook(ctx context.Context, b Book) error
	BookByID(ctx context.Context, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, b Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)

	// ApproveLoan claims the book for the borrower if and only if the
	// book is still available, as one atomic unit. A book already on
	// loan yields ErrConflict. This is the guard against two approvals
	// racing for the same copy.
	ApproveLoan(ctx context.Context, loan Loan) error

	// Borrow requests.
	CreateRequest(ctx context.Context, r BorrowRequest) error
	RequestByID(ctx context.Context, id uuid.UUID) (*BorrowRequest, error)
	UpdateRequest(ctx context.Context, r BorrowRequest) error
	HasPendingRequest(ctx context.Context, bookID, requesterID uuid.UUID) (bool, error)
	PendingRequestsForOwner(ctx context.Context, ownerID uuid.UUID) ([]PendingRequest, error)

	// Notifications.
	CreateNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, recipientID uuid.UUID, f NotificationFilter) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID, notifID uuid.UUID) error
	CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error)
}

// BookFilter narrows ListBooks results. Zero value lists everything.
type BookFilter struct {
	OwnerID        *uuid.UUID // only books owned by this user
	BorrowerID     *uuid.UUID // only books currently borrowed by this user
	ExcludeOwnerID *uuid.UUID // hide this owner's books (the caller's own)
	OnLoanOnly     bool       // only books with an active loan
	AvailableOnly  bool       // only books without an active loan
	TitleContains  string     // case-insensitive substring match on title
}

// NotificationFilter narrows ListNotifications results. Results are
// always ordered newest first.
type NotificationFilter struct {
	OnlyUnread bool
	Types      []NotificationType
	Since      *time.Time // only notifications created at or after this instant
	Limit      int        // 0 means no limit
}
