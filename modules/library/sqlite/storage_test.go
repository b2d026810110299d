package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/modules/library/sqlite"
)

func openStorage(t *testing.T) *sqlite.Storage {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "bookcircle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *sqlite.Storage, name string) uuid.UUID {
	t.Helper()

	u := library.User{
		ID:          uuid.New(),
		Email:       name + "@campus.edu",
		DisplayName: name,
		CreatedAt:   time.Now().UTC(),
		LastLoginAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u.ID
}

func seedBook(t *testing.T, s *sqlite.Storage, ownerID uuid.UUID, title string) library.Book {
	t.Helper()

	now := time.Now().UTC()
	b := library.Book{
		ID:        uuid.New(),
		Title:     title,
		Author:    "Some Author",
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateBook(context.Background(), b))
	return b
}

func TestStorageUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStorage(t)
	id := seedUser(t, s, "alice")

	got, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice@campus.edu", got.Email)

	got, err = s.UserByEmail(ctx, "ALICE@campus.edu")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		err := s.CreateUser(ctx, library.User{
			ID: uuid.New(), Email: "Alice@campus.edu", DisplayName: "Clone",
			CreatedAt: time.Now(), LastLoginAt: time.Now(),
		})
		require.ErrorIs(t, err, library.ErrConflict)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.UserByID(ctx, uuid.New())
		require.ErrorIs(t, err, library.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		got.DisplayName = "Alice B."
		require.NoError(t, s.UpdateUser(ctx, *got))

		updated, err := s.UserByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Alice B.", updated.DisplayName)
	})
}

func TestStorageBooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStorage(t)
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	dune := seedBook(t, s, alice, "Dune")
	seedBook(t, s, bob, "Gatsby")

	t.Run("round trip preserves fields", func(t *testing.T) {
		got, err := s.BookByID(ctx, dune.ID)
		require.NoError(t, err)
		assert.Equal(t, "Dune", got.Title)
		assert.Equal(t, alice, got.OwnerID)
		assert.Nil(t, got.BorrowerID)
	})

	t.Run("filters", func(t *testing.T) {
		books, err := s.ListBooks(ctx, library.BookFilter{OwnerID: &alice})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, dune.ID, books[0].ID)

		books, err = s.ListBooks(ctx, library.BookFilter{ExcludeOwnerID: &alice})
		require.NoError(t, err)
		require.Len(t, books, 1)

		books, err = s.ListBooks(ctx, library.BookFilter{TitleContains: "dUnE"})
		require.NoError(t, err)
		require.Len(t, books, 1)
	})

	t.Run("approve loan claims once", func(t *testing.T) {
		now := time.Now().UTC()
		loan := library.Loan{
			BookID:     dune.ID,
			BorrowerID: bob,
			BorrowedAt: now,
			DueDate:    now.AddDate(0, 0, 7),
			PeriodDays: 7,
		}
		require.NoError(t, s.ApproveLoan(ctx, loan))

		got, err := s.BookByID(ctx, dune.ID)
		require.NoError(t, err)
		require.True(t, got.OnLoan())
		assert.Equal(t, bob, *got.BorrowerID)
		assert.Equal(t, 7, *got.BorrowPeriodDays)

		err = s.ApproveLoan(ctx, library.Loan{BookID: dune.ID, BorrowerID: alice, BorrowedAt: now, DueDate: now})
		require.ErrorIs(t, err, library.ErrConflict)

		err = s.ApproveLoan(ctx, library.Loan{BookID: uuid.New(), BorrowerID: alice, BorrowedAt: now, DueDate: now})
		require.ErrorIs(t, err, library.ErrNotFound)

		books, err := s.ListBooks(ctx, library.BookFilter{OnLoanOnly: true})
		require.NoError(t, err)
		require.Len(t, books, 1)
	})

	t.Run("delete", func(t *testing.T) {
		shelved := seedBook(t, s, alice, "Shelved")
		require.NoError(t, s.DeleteBook(ctx, shelved.ID))
		_, err := s.BookByID(ctx, shelved.ID)
		require.ErrorIs(t, err, library.ErrNotFound)

		require.ErrorIs(t, s.DeleteBook(ctx, uuid.New()), library.ErrNotFound)
	})
}

func TestStorageRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStorage(t)
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	dune := seedBook(t, s, alice, "Dune")

	req := library.BorrowRequest{
		ID:          uuid.New(),
		BookID:      dune.ID,
		RequesterID: bob,
		OwnerID:     alice,
		PeriodDays:  7,
		Message:     "please",
		Status:      library.RequestPending,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	pending, err := s.HasPendingRequest(ctx, dune.ID, bob)
	require.NoError(t, err)
	assert.True(t, pending)

	list, err := s.PendingRequestsForOwner(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Dune", list[0].BookTitle)
	assert.Equal(t, "bob", list[0].RequesterName)

	now := time.Now().UTC()
	req.Status = library.RequestApproved
	req.OwnerResponse = "enjoy"
	req.RespondedAt = &now
	require.NoError(t, s.UpdateRequest(ctx, req))

	got, err := s.RequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, library.RequestApproved, got.Status)
	require.NotNil(t, got.RespondedAt)

	pending, err = s.HasPendingRequest(ctx, dune.ID, bob)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestStorageNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openStorage(t)
	alice := seedUser(t, s, "alice")

	base := time.Now().UTC().Truncate(time.Second)
	for i, kind := range []library.NotificationType{
		library.NotificationBorrowRequest,
		library.NotificationDueSoon,
	} {
		require.NoError(t, s.CreateNotification(ctx, library.Notification{
			ID:          uuid.New(),
			RecipientID: alice,
			Type:        kind,
			Title:       "t",
			Message:     "m",
			Data:        map[string]any{"book_id": uuid.NewString()},
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListNotifications(ctx, alice, library.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, library.NotificationDueSoon, list[0].Type) // newest first
	assert.NotEmpty(t, list[0].Data["book_id"])

	filtered, err := s.ListNotifications(ctx, alice, library.NotificationFilter{
		Types: []library.NotificationType{library.NotificationDueSoon},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	since := base.Add(30 * time.Second)
	filtered, err = s.ListNotifications(ctx, alice, library.NotificationFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	require.NoError(t, s.MarkNotificationRead(ctx, alice, list[1].ID))
	require.NoError(t, s.MarkNotificationRead(ctx, alice, list[1].ID)) // idempotent

	count, err := s.CountUnreadNotifications(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unread, err := s.ListNotifications(ctx, alice, library.NotificationFilter{OnlyUnread: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.NotNil(t, unread)
}
