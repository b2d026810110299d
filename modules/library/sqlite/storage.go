// Package sqlite is the single-file SQLite adapter of the library
// gateway, for small deployments that do not want to run PostgreSQL.
// The schema is applied on open; WAL mode keeps concurrent readers
// from blocking the writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dmitrymomot/bookcircle/modules/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
    display_name  TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at    DATETIME NOT NULL,
    last_login_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS books (
    id                 TEXT PRIMARY KEY,
    title              TEXT NOT NULL,
    author             TEXT NOT NULL,
    genre              TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    condition          TEXT NOT NULL DEFAULT '',
    owner_id           TEXT NOT NULL REFERENCES users(id),
    borrower_id        TEXT REFERENCES users(id),
    borrowed_at        DATETIME,
    due_date           DATETIME,
    returned_at        DATETIME,
    borrow_period_days INTEGER,
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS borrow_requests (
    id             TEXT PRIMARY KEY,
    book_id        TEXT NOT NULL REFERENCES books(id),
    requester_id   TEXT NOT NULL REFERENCES users(id),
    owner_id       TEXT NOT NULL REFERENCES users(id),
    period_days    INTEGER NOT NULL,
    message        TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    owner_response TEXT NOT NULL DEFAULT '',
    requested_at   DATETIME NOT NULL,
    responded_at   DATETIME
);

CREATE TABLE IF NOT EXISTS notifications (
    id           TEXT PRIMARY KEY,
    recipient_id TEXT NOT NULL REFERENCES users(id),
    type         TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    data         TEXT NOT NULL DEFAULT '{}',
    read         BOOLEAN NOT NULL DEFAULT 0,
    read_at      DATETIME,
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_owner ON books(owner_id);
CREATE INDEX IF NOT EXISTS idx_books_borrower ON books(borrower_id);
CREATE INDEX IF NOT EXISTS idx_requests_owner_status ON borrow_requests(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
`

// Storage implements library.Gateway on SQLite.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) CreateUser(ctx context.Context, u library.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, created_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt, u.LastLoginAt)
	if err != nil {
		if isUniqueViolation(err) {
			return library.ErrConflict
		}
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*library.User, error) {
	return s.userBy(ctx, "id = ?", id.String())
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*library.User, error) {
	return s.userBy(ctx, "email = ? COLLATE NOCASE", email)
}

func (s *Storage) userBy(ctx context.Context, cond string, arg any) (*library.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, created_at, last_login_at
		 FROM users WHERE `+cond, arg)

	var u library.User
	var id string
	if err := row.Scan(&id, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return nil, translate(err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.ID = parsed
	return &u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u library.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, display_name = ?, password_hash = ?, last_login_at = ?
		 WHERE id = ?`,
		u.Email, u.DisplayName, u.PasswordHash, u.LastLoginAt, u.ID.String())
	if err != nil {
		return fmt.Errorf("update user: %w", translate(err))
	}
	return expectRow(res)
}

func (s *Storage) CreateBook(ctx context.Context, b library.Book) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, genre, description, condition, owner_id,
		                    borrower_id, borrowed_at, due_date, returned_at, borrow_period_days,
		                    created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Title, b.Author, b.Genre, b.Description, b.Condition, b.OwnerID.String(),
		uuidPtr(b.BorrowerID), b.BorrowedAt, b.DueDate, b.ReturnedAt, b.BorrowPeriodDays,
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert book: %w", translate(err))
	}
	return nil
}

const bookColumns = `id, title, author, genre, description, condition, owner_id,
	borrower_id, borrowed_at, due_date, returned_at, borrow_period_days, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*library.Book, error) {
	var b library.Book
	var id, ownerID string
	var borrowerID sql.NullString
	var borrowedAt, dueDate, returnedAt sql.NullTime
	var periodDays sql.NullInt64

	err := row.Scan(&id, &b.Title, &b.Author, &b.Genre, &b.Description, &b.Condition,
		&ownerID, &borrowerID, &borrowedAt, &dueDate, &returnedAt, &periodDays,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}

	var parseErr error
	if b.ID, parseErr = uuid.Parse(id); parseErr != nil {
		return nil, fmt.Errorf("parse book id: %w", parseErr)
	}
	if b.OwnerID, parseErr = uuid.Parse(ownerID); parseErr != nil {
		return nil, fmt.Errorf("parse owner id: %w", parseErr)
	}
	if borrowerID.Valid {
		parsed, err := uuid.Parse(borrowerID.String)
		if err != nil {
			return nil, fmt.Errorf("parse borrower id: %w", err)
		}
		b.BorrowerID = &parsed
	}
	b.BorrowedAt = timePtr(borrowedAt)
	b.DueDate = timePtr(dueDate)
	b.ReturnedAt = timePtr(returnedAt)
	if periodDays.Valid {
		days := int(periodDays.Int64)
		b.BorrowPeriodDays = &days
	}
	return &b, nil
}

func (s *Storage) BookByID(ctx context.Context, id uuid.UUID) (*library.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id.String())
	return scanBook(row)
}

func (s *Storage) UpdateBook(ctx context.Context, b library.Book) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, genre = ?, description = ?, condition = ?,
		        borrower_id = ?, borrowed_at = ?, due_date = ?, returned_at = ?,
		        borrow_period_days = ?, updated_at = ?
		 WHERE id = ?`,
		b.Title, b.Author, b.Genre, b.Description, b.Condition,
		uuidPtr(b.BorrowerID), b.BorrowedAt, b.DueDate, b.ReturnedAt,
		b.BorrowPeriodDays, b.UpdatedAt, b.ID.String())
	if err != nil {
		return fmt.Errorf("update book: %w", translate(err))
	}
	return expectRow(res)
}

func (s *Storage) DeleteBook(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete book: %w", translate(err))
	}
	return expectRow(res)
}

func (s *Storage) ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	var conds []string
	var args []any

	if f.OwnerID != nil {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID.String())
	}
	if f.ExcludeOwnerID != nil {
		conds = append(conds, "owner_id != ?")
		args = append(args, f.ExcludeOwnerID.String())
	}
	if f.BorrowerID != nil {
		conds = append(conds, "borrower_id = ?")
		args = append(args, f.BorrowerID.String())
	}
	if f.OnLoanOnly {
		conds = append(conds, "borrower_id IS NOT NULL")
	}
	if f.AvailableOnly {
		conds = append(conds, "borrower_id IS NULL")
	}
	if f.TitleContains != "" {
		conds = append(conds, "title LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.TitleContains+"%")
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", translate(err))
	}
	defer rows.Close()

	var out []library.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ApproveLoan claims the book with a conditional update matching only
// while borrower_id is NULL, so racing approvals cannot both win.
func (s *Storage) ApproveLoan(ctx context.Context, loan library.Loan) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET borrower_id = ?, borrowed_at = ?, due_date = ?,
		        borrow_period_days = ?, updated_at = ?
		 WHERE id = ? AND borrower_id IS NULL`,
		loan.BorrowerID.String(), loan.BorrowedAt, loan.DueDate,
		loan.PeriodDays, loan.BorrowedAt, loan.BookID.String())
	if err != nil {
		return fmt.Errorf("approve loan: %w", translate(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve loan: %w", err)
	}
	if affected == 0 {
		if _, err := s.BookByID(ctx, loan.BookID); err != nil {
			return err
		}
		return library.ErrConflict
	}
	return nil
}

func (s *Storage) CreateRequest(ctx context.Context, r library.BorrowRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO borrow_requests (id, book_id, requester_id, owner_id, period_days,
		                              message, status, owner_response, requested_at, responded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.BookID.String(), r.RequesterID.String(), r.OwnerID.String(), r.PeriodDays,
		r.Message, string(r.Status), r.OwnerResponse, r.RequestedAt, r.RespondedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", translate(err))
	}
	return nil
}

func (s *Storage) RequestByID(ctx context.Context, id uuid.UUID) (*library.BorrowRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, book_id, requester_id, owner_id, period_days, message, status,
		        owner_response, requested_at, responded_at
		 FROM borrow_requests WHERE id = ?`, id.String())
	return scanRequest(row, nil)
}

// scanRequest reads a borrow request row; extra receives trailing
// columns when the query joins additional tables.
func scanRequest(row rowScanner, extra []any) (*library.BorrowRequest, error) {
	var r library.BorrowRequest
	var id, bookID, requesterID, ownerID, status string
	var respondedAt sql.NullTime

	dest := []any{&id, &bookID, &requesterID, &ownerID, &r.PeriodDays,
		&r.Message, &status, &r.OwnerResponse, &r.RequestedAt, &respondedAt}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, translate(err)
	}

	for _, pair := range []struct {
		raw string
		out *uuid.UUID
	}{{id, &r.ID}, {bookID, &r.BookID}, {requesterID, &r.RequesterID}, {ownerID, &r.OwnerID}} {
		parsed, err := uuid.Parse(pair.raw)
		if err != nil {
			return nil, fmt.Errorf("parse request id field: %w", err)
		}
		*pair.out = parsed
	}
	r.Status = library.RequestStatus(status)
	r.RespondedAt = timePtr(respondedAt)
	return &r, nil
}

func (s *Storage) UpdateRequest(ctx context.Context, r library.BorrowRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE borrow_requests SET status = ?, owner_response = ?, responded_at = ?
		 WHERE id = ?`,
		string(r.Status), r.OwnerResponse, r.RespondedAt, r.ID.String())
	if err != nil {
		return fmt.Errorf("update request: %w", translate(err))
	}
	return expectRow(res)
}

func (s *Storage) HasPendingRequest(ctx context.Context, bookID, requesterID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrow_requests
		 WHERE book_id = ? AND requester_id = ? AND status = ?`,
		bookID.String(), requesterID.String(), string(library.RequestPending)).Scan(&count)
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *Storage) PendingRequestsForOwner(ctx context.Context, ownerID uuid.UUID) ([]library.PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.book_id, r.requester_id, r.owner_id, r.period_days, r.message,
		        r.status, r.owner_response, r.requested_at, r.responded_at,
		        b.title, b.author, u.display_name
		 FROM borrow_requests r
		 JOIN books b ON b.id = r.book_id
		 JOIN users u ON u.id = r.requester_id
		 WHERE r.owner_id = ? AND r.status = ?
		 ORDER BY r.requested_at ASC`,
		ownerID.String(), string(library.RequestPending))
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", translate(err))
	}
	defer rows.Close()

	var out []library.PendingRequest
	for rows.Next() {
		var pr library.PendingRequest
		req, err := scanRequest(rows, []any{&pr.BookTitle, &pr.BookAuthor, &pr.RequesterName})
		if err != nil {
			return nil, err
		}
		pr.BorrowRequest = *req
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (s *Storage) CreateNotification(ctx context.Context, n library.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_id, type, title, message, data, read, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.RecipientID.String(), string(n.Type), n.Title, n.Message,
		string(data), n.Read, n.ReadAt, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", translate(err))
	}
	return nil
}

func (s *Storage) ListNotifications(ctx context.Context, recipientID uuid.UUID, f library.NotificationFilter) ([]library.Notification, error) {
	conds := []string{"recipient_id = ?"}
	args := []any{recipientID.String()}

	if f.OnlyUnread {
		conds = append(conds, "read = 0")
	}
	if len(f.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Types)), ", ")
		conds = append(conds, "type IN ("+placeholders+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.Since)
	}

	query := `SELECT id, recipient_id, type, title, message, data, read, read_at, created_at
		 FROM notifications WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", translate(err))
	}
	defer rows.Close()

	var out []library.Notification
	for rows.Next() {
		var n library.Notification
		var id, recipient, kind, data string
		var readAt sql.NullTime

		if err := rows.Scan(&id, &recipient, &kind, &n.Title, &n.Message, &data,
			&n.Read, &readAt, &n.CreatedAt); err != nil {
			return nil, translate(err)
		}
		if n.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse notification id: %w", err)
		}
		if n.RecipientID, err = uuid.Parse(recipient); err != nil {
			return nil, fmt.Errorf("parse recipient id: %w", err)
		}
		n.Type = library.NotificationType(kind)
		n.ReadAt = timePtr(readAt)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Storage) MarkNotificationRead(ctx context.Context, recipientID, notifID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1, read_at = ?
		 WHERE id = ? AND recipient_id = ? AND read = 0`,
		time.Now(), notifID.String(), recipientID.String())
	if err != nil {
		return fmt.Errorf("mark read: %w", translate(err))
	}
	return nil
}

func (s *Storage) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = 0`,
		recipientID.String()).Scan(&count)
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func uuidPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return library.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return library.ErrNotFound
	case isUniqueViolation(err):
		return library.ErrConflict
	default:
		return fmt.Errorf("%w: %v", library.ErrUnavailable, err)
	}
}

var _ library.Gateway = (*Storage)(nil)
