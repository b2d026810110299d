package library

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryGateway is an in-memory Gateway adapter. Suitable for development
// and testing; it keeps copies on the way in and out so callers can never
// mutate stored state behind the lock.
type MemoryGateway struct {
	users         map[uuid.UUID]User
	books         map[uuid.UUID]Book
	requests      map[uuid.UUID]BorrowRequest
	notifications map[uuid.UUID][]Notification // recipientID -> newest last
	mu            sync.RWMutex
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		users:         make(map[uuid.UUID]User),
		books:         make(map[uuid.UUID]Book),
		requests:      make(map[uuid.UUID]BorrowRequest),
		notifications: make(map[uuid.UUID][]Notification),
	}
}

func (g *MemoryGateway) CreateUser(ctx context.Context, u User) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	g.users[u.ID] = u
	return nil
}

func (g *MemoryGateway) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (g *MemoryGateway) UserByEmail(ctx context.Context, email string) (*User, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, u := range g.users {
		if strings.EqualFold(u.Email, email) {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) UpdateUser(ctx context.Context, u User) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[u.ID]; !ok {
		return ErrNotFound
	}
	g.users[u.ID] = u
	return nil
}

func (g *MemoryGateway) CreateBook(ctx context.Context, b Book) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.books[b.ID] = b
	return nil
}

func (g *MemoryGateway) BookByID(ctx context.Context, id uuid.UUID) (*Book, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b, ok := g.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (g *MemoryGateway) UpdateBook(ctx context.Context, b Book) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.books[b.ID]; !ok {
		return ErrNotFound
	}
	g.books[b.ID] = b
	return nil
}

func (g *MemoryGateway) DeleteBook(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.books[id]; !ok {
		return ErrNotFound
	}
	delete(g.books, id)
	return nil
}

func (g *MemoryGateway) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Book, 0, len(g.books))
	for _, b := range g.books {
		if !matchBook(b, f) {
			continue
		}
		out = append(out, b)
	}

	// Newest listings first, stable for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matchBook(b Book, f BookFilter) bool {
	if f.OwnerID != nil && b.OwnerID != *f.OwnerID {
		return false
	}
	if f.ExcludeOwnerID != nil && b.OwnerID == *f.ExcludeOwnerID {
		return false
	}
	if f.BorrowerID != nil && (b.BorrowerID == nil || *b.BorrowerID != *f.BorrowerID) {
		return false
	}
	if f.OnLoanOnly && !b.OnLoan() {
		return false
	}
	if f.AvailableOnly && !b.Available() {
		return false
	}
	if f.TitleContains != "" && !strings.Contains(strings.ToLower(b.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	return true
}

// ApproveLoan claims the book for the borrower. The check and the write
// happen under one lock acquisition, which is what makes the
// double-approval race impossible with this adapter.
func (g *MemoryGateway) ApproveLoan(ctx context.Context, loan Loan) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.books[loan.BookID]
	if !ok {
		return ErrNotFound
	}
	if b.OnLoan() {
		return ErrConflict
	}

	borrowerID := loan.BorrowerID
	borrowedAt := loan.BorrowedAt
	dueDate := loan.DueDate
	periodDays := loan.PeriodDays

	b.BorrowerID = &borrowerID
	b.BorrowedAt = &borrowedAt
	b.DueDate = &dueDate
	b.BorrowPeriodDays = &periodDays
	b.UpdatedAt = borrowedAt
	g.books[loan.BookID] = b
	return nil
}

func (g *MemoryGateway) CreateRequest(ctx context.Context, r BorrowRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests[r.ID] = r
	return nil
}

func (g *MemoryGateway) RequestByID(ctx context.Context, id uuid.UUID) (*BorrowRequest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (g *MemoryGateway) UpdateRequest(ctx context.Context, r BorrowRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.requests[r.ID]; !ok {
		return ErrNotFound
	}
	g.requests[r.ID] = r
	return nil
}

func (g *MemoryGateway) HasPendingRequest(ctx context.Context, bookID, requesterID uuid.UUID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, r := range g.requests {
		if r.BookID == bookID && r.RequesterID == requesterID && r.Status == RequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (g *MemoryGateway) PendingRequestsForOwner(ctx context.Context, ownerID uuid.UUID) ([]PendingRequest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []PendingRequest
	for _, r := range g.requests {
		if r.OwnerID != ownerID || r.Status != RequestPending {
			continue
		}
		pr := PendingRequest{BorrowRequest: r}
		if b, ok := g.books[r.BookID]; ok {
			pr.BookTitle = b.Title
			pr.BookAuthor = b.Author
		}
		if u, ok := g.users[r.RequesterID]; ok {
			pr.RequesterName = u.DisplayName
		}
		out = append(out, pr)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (g *MemoryGateway) CreateNotification(ctx context.Context, n Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.notifications[n.RecipientID] = append(g.notifications[n.RecipientID], n)
	return nil
}

func (g *MemoryGateway) ListNotifications(ctx context.Context, recipientID uuid.UUID, f NotificationFilter) ([]Notification, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stored := g.notifications[recipientID]
	filtered := make([]Notification, 0, len(stored))
	for _, n := range stored {
		if f.OnlyUnread && n.Read {
			continue
		}
		if len(f.Types) > 0 && !containsType(f.Types, n.Type) {
			continue
		}
		if f.Since != nil && n.CreatedAt.Before(*f.Since) {
			continue
		}
		filtered = append(filtered, n)
	}

	// Newest first.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}
	return filtered, nil
}

func containsType(types []NotificationType, t NotificationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// MarkNotificationRead is idempotent and silently ignores notifications
// that do not exist or belong to another recipient.
func (g *MemoryGateway) MarkNotificationRead(ctx context.Context, recipientID, notifID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	stored := g.notifications[recipientID]
	for i := range stored {
		if stored[i].ID == notifID {
			stored[i].MarkAsRead()
			break
		}
	}
	return nil
}

func (g *MemoryGateway) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, n := range g.notifications[recipientID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

var _ Gateway = (*MemoryGateway)(nil)
