package library

import (
	"time"

	"github.com/google/uuid"
)

// User is a community member. Users are created on first successful
// registration and never deleted: they remain the referential owner of
// their books.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastLoginAt  time.Time `json:"last_login_at"`
}

// Book is a single physical copy listed by its owner. The loan sub-state
// (BorrowerID, BorrowedAt, DueDate, BorrowPeriodDays) is set while the
// book is on loan and nil otherwise; ReturnedAt records the most recent
// return for history.
type Book struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Author           string     `json:"author"`
	Genre            string     `json:"genre,omitempty"`
	Description      string     `json:"description,omitempty"`
	Condition        string     `json:"condition,omitempty"`
	OwnerID          uuid.UUID  `json:"owner_id"`
	BorrowerID       *uuid.UUID `json:"borrower_id,omitempty"`
	BorrowedAt       *time.Time `json:"borrowed_at,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	ReturnedAt       *time.Time `json:"returned_at,omitempty"`
	BorrowPeriodDays *int       `json:"borrow_period_days,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Available reports whether the book can accept borrow requests.
func (b *Book) Available() bool {
	return b.BorrowerID == nil
}

// OnLoan reports whether the book is currently borrowed.
func (b *Book) OnLoan() bool {
	return b.BorrowerID != nil
}

// RequestStatus is the lifecycle state of a borrow request.
// Pending transitions exactly once to approved or denied.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// Borrow period bounds in days. Out-of-range values are clamped.
const (
	MinBorrowPeriodDays = 1
	MaxBorrowPeriodDays = 30
)

// ClampBorrowPeriod forces a requested borrow period into the allowed range.
func ClampBorrowPeriod(days int) int {
	return min(max(days, MinBorrowPeriodDays), MaxBorrowPeriodDays)
}

// BorrowRequest is a requester's offer to borrow a book, answered by the
// book's owner. OwnerID is denormalized from the book at request time so
// owner-side queries need no join against the book.
type BorrowRequest struct {
	ID            uuid.UUID     `json:"id"`
	BookID        uuid.UUID     `json:"book_id"`
	RequesterID   uuid.UUID     `json:"requester_id"`
	OwnerID       uuid.UUID     `json:"owner_id"`
	PeriodDays    int           `json:"period_days"`
	Message       string        `json:"message,omitempty"`
	Status        RequestStatus `json:"status"`
	OwnerResponse string        `json:"owner_response,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
}

// PendingRequest is the owner's inbox view of a pending borrow request,
// enriched with book and requester context for rendering.
type PendingRequest struct {
	BorrowRequest
	BookTitle     string `json:"book_title"`
	BookAuthor    string `json:"book_author"`
	RequesterName string `json:"requester_name"`
}

// NotificationType is the closed set of notification kinds this service emits.
type NotificationType string

const (
	NotificationBorrowRequest   NotificationType = "borrow_request"
	NotificationRequestApproved NotificationType = "request_approved"
	NotificationRequestDenied   NotificationType = "request_denied"
	NotificationBookReturned    NotificationType = "book_returned"
	NotificationReturnConfirm   NotificationType = "return_confirm"
	NotificationDueSoon         NotificationType = "due_soon"
	NotificationOverdue         NotificationType = "overdue"
	NotificationBorrowerOverdue NotificationType = "borrower_overdue"
)

// Notification is a durable per-user message. It is created as a side
// effect of a lifecycle transition or a reminder scan and never mutated
// afterwards except for the read flag, settable only by its recipient.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	RecipientID uuid.UUID        `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Data        map[string]any   `json:"data,omitempty"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// MarkAsRead marks the notification as read with the current timestamp.
func (n *Notification) MarkAsRead() {
	if n.Read {
		return
	}
	n.Read = true
	now := time.Now()
	n.ReadAt = &now
}

// Loan captures the parameters of an approved loan, claimed atomically
// against a still-available book.
type Loan struct {
	BookID     uuid.UUID
	BorrowerID uuid.UUID
	BorrowedAt time.Time
	DueDate    time.Time
	PeriodDays int
}
