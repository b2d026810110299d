// Package postgres is the PostgreSQL adapter of the library gateway.
// Queries are built with goqu and executed on a pgx pool; driver errors
// are translated into the library error taxonomy at this boundary.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/pkg/pg"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	tableUsers         = "users"
	tableBooks         = "books"
	tableRequests      = "borrow_requests"
	tableNotifications = "notifications"
)

var builder = goqu.Dialect("postgres")

// Storage implements library.Gateway on PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// NewStorage creates the adapter on an established pool.
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func (s *Storage) CreateUser(ctx context.Context, u library.User) error {
	sql, _, err := builder.Insert(tableUsers).Rows(goqu.Record{
		"id":            u.ID,
		"email":         u.Email,
		"display_name":  u.DisplayName,
		"password_hash": u.PasswordHash,
		"created_at":    u.CreatedAt,
		"last_login_at": u.LastLoginAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}

	if _, err := s.pool.Exec(ctx, sql); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return library.ErrConflict
		}
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*library.User, error) {
	return s.userBy(ctx, goqu.Ex{"id": id})
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*library.User, error) {
	return s.userBy(ctx, goqu.L("LOWER(email)").Eq(goqu.L("LOWER(?)", email)))
}

func (s *Storage) userBy(ctx context.Context, cond goqu.Expression) (*library.User, error) {
	sql, _, err := builder.From(tableUsers).
		Select("id", "email", "display_name", "password_hash", "created_at", "last_login_at").
		Where(cond).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select user: %w", err)
	}

	var u library.User
	row := s.pool.QueryRow(ctx, sql)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u library.User) error {
	sql, _, err := builder.Update(tableUsers).Set(goqu.Record{
		"email":         u.Email,
		"display_name":  u.DisplayName,
		"password_hash": u.PasswordHash,
		"last_login_at": u.LastLoginAt,
	}).Where(goqu.Ex{"id": u.ID}).ToSQL()
	if err != nil {
		return fmt.Errorf("build update user: %w", err)
	}
	return s.execExpectingRow(ctx, sql, "update user")
}

func (s *Storage) CreateBook(ctx context.Context, b library.Book) error {
	sql, _, err := builder.Insert(tableBooks).Rows(bookRecord(b)).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("insert book: %w", translate(err))
	}
	return nil
}

func bookRecord(b library.Book) goqu.Record {
	return goqu.Record{
		"id":                 b.ID,
		"title":              b.Title,
		"author":             b.Author,
		"genre":              b.Genre,
		"description":        b.Description,
		"condition":          b.Condition,
		"owner_id":           b.OwnerID,
		"borrower_id":        b.BorrowerID,
		"borrowed_at":        b.BorrowedAt,
		"due_date":           b.DueDate,
		"returned_at":        b.ReturnedAt,
		"borrow_period_days": b.BorrowPeriodDays,
		"created_at":         b.CreatedAt,
		"updated_at":         b.UpdatedAt,
	}
}

var bookColumns = []any{
	"id", "title", "author", "genre", "description", "condition",
	"owner_id", "borrower_id", "borrowed_at", "due_date", "returned_at",
	"borrow_period_days", "created_at", "updated_at",
}

func scanBook(row pgx.Row) (*library.Book, error) {
	var b library.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.Description, &b.Condition,
		&b.OwnerID, &b.BorrowerID, &b.BorrowedAt, &b.DueDate, &b.ReturnedAt,
		&b.BorrowPeriodDays, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (s *Storage) BookByID(ctx context.Context, id uuid.UUID) (*library.Book, error) {
	sql, _, err := builder.From(tableBooks).Select(bookColumns...).Where(goqu.Ex{"id": id}).Limit(1).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select book: %w", err)
	}
	return scanBook(s.pool.QueryRow(ctx, sql))
}

func (s *Storage) UpdateBook(ctx context.Context, b library.Book) error {
	record := bookRecord(b)
	delete(record, "id")
	delete(record, "created_at")

	sql, _, err := builder.Update(tableBooks).Set(record).Where(goqu.Ex{"id": b.ID}).ToSQL()
	if err != nil {
		return fmt.Errorf("build update book: %w", err)
	}
	return s.execExpectingRow(ctx, sql, "update book")
}

func (s *Storage) DeleteBook(ctx context.Context, id uuid.UUID) error {
	sql, _, err := builder.Delete(tableBooks).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete book: %w", err)
	}
	return s.execExpectingRow(ctx, sql, "delete book")
}

func (s *Storage) ListBooks(ctx context.Context, f library.BookFilter) ([]library.Book, error) {
	stmt := builder.From(tableBooks).Select(bookColumns...).Order(goqu.I("created_at").Desc())

	if f.OwnerID != nil {
		stmt = stmt.Where(goqu.Ex{"owner_id": *f.OwnerID})
	}
	if f.ExcludeOwnerID != nil {
		stmt = stmt.Where(goqu.C("owner_id").Neq(*f.ExcludeOwnerID))
	}
	if f.BorrowerID != nil {
		stmt = stmt.Where(goqu.Ex{"borrower_id": *f.BorrowerID})
	}
	if f.OnLoanOnly {
		stmt = stmt.Where(goqu.C("borrower_id").IsNotNull())
	}
	if f.AvailableOnly {
		stmt = stmt.Where(goqu.C("borrower_id").IsNull())
	}
	if f.TitleContains != "" {
		stmt = stmt.Where(goqu.C("title").ILike("%" + f.TitleContains + "%"))
	}

	sql, _, err := stmt.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list books: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql)
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

// ApproveLoan claims the book with a conditional update: the WHERE
// clause only matches while the book is unclaimed, so of two racing
// approvals exactly one sees an affected row.
func (s *Storage) ApproveLoan(ctx context.Context, loan library.Loan) error {
	sql, _, err := builder.Update(tableBooks).Set(goqu.Record{
		"borrower_id":        loan.BorrowerID,
		"borrowed_at":        loan.BorrowedAt,
		"due_date":           loan.DueDate,
		"borrow_period_days": loan.PeriodDays,
		"updated_at":         loan.BorrowedAt,
	}).Where(goqu.Ex{"id": loan.BookID}, goqu.C("borrower_id").IsNull()).ToSQL()
	if err != nil {
		return fmt.Errorf("build approve loan: %w", err)
	}

	tag, err := s.pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("approve loan: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.BookByID(ctx, loan.BookID); err != nil {
			return err
		}
		return library.ErrConflict
	}
	return nil
}

func (s *Storage) CreateRequest(ctx context.Context, r library.BorrowRequest) error {
	sql, _, err := builder.Insert(tableRequests).Rows(goqu.Record{
		"id":             r.ID,
		"book_id":        r.BookID,
		"requester_id":   r.RequesterID,
		"owner_id":       r.OwnerID,
		"period_days":    r.PeriodDays,
		"message":        r.Message,
		"status":         r.Status,
		"owner_response": r.OwnerResponse,
		"requested_at":   r.RequestedAt,
		"responded_at":   r.RespondedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert request: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("insert request: %w", translate(err))
	}
	return nil
}

func (s *Storage) RequestByID(ctx context.Context, id uuid.UUID) (*library.BorrowRequest, error) {
	sql, _, err := builder.From(tableRequests).
		Select("id", "book_id", "requester_id", "owner_id", "period_days",
			"message", "status", "owner_response", "requested_at", "responded_at").
		Where(goqu.Ex{"id": id}).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select request: %w", err)
	}

	var r library.BorrowRequest
	row := s.pool.QueryRow(ctx, sql)
	if err := row.Scan(&r.ID, &r.BookID, &r.RequesterID, &r.OwnerID, &r.PeriodDays,
		&r.Message, &r.Status, &r.OwnerResponse, &r.RequestedAt, &r.RespondedAt); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Storage) UpdateRequest(ctx context.Context, r library.BorrowRequest) error {
	sql, _, err := builder.Update(tableRequests).Set(goqu.Record{
		"status":         r.Status,
		"owner_response": r.OwnerResponse,
		"responded_at":   r.RespondedAt,
	}).Where(goqu.Ex{"id": r.ID}).ToSQL()
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	return s.execExpectingRow(ctx, sql, "update request")
}

func (s *Storage) HasPendingRequest(ctx context.Context, bookID, requesterID uuid.UUID) (bool, error) {
	sql, _, err := builder.From(tableRequests).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{
			"book_id":      bookID,
			"requester_id": requesterID,
			"status":       library.RequestPending,
		}).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build count pending: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *Storage) PendingRequestsForOwner(ctx context.Context, ownerID uuid.UUID) ([]library.PendingRequest, error) {
	sql, _, err := builder.From(goqu.T(tableRequests).As("r")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.Ex{"r.book_id": goqu.I("b.id")})).
		Join(goqu.T(tableUsers).As("u"), goqu.On(goqu.Ex{"r.requester_id": goqu.I("u.id")})).
		Select("r.id", "r.book_id", "r.requester_id", "r.owner_id", "r.period_days",
			"r.message", "r.status", "r.owner_response", "r.requested_at", "r.responded_at",
			"b.title", "b.author", "u.display_name").
		Where(goqu.Ex{"r.owner_id": ownerID, "r.status": library.RequestPending}).
		Order(goqu.I("r.requested_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pending requests: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", translate(err))
	}
	defer rows.Close()

	var out []library.PendingRequest
	for rows.Next() {
		var pr library.PendingRequest
		if err := rows.Scan(&pr.ID, &pr.BookID, &pr.RequesterID, &pr.OwnerID, &pr.PeriodDays,
			&pr.Message, &pr.Status, &pr.OwnerResponse, &pr.RequestedAt, &pr.RespondedAt,
			&pr.BookTitle, &pr.BookAuthor, &pr.RequesterName); err != nil {
			return nil, translate(err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (s *Storage) CreateNotification(ctx context.Context, n library.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	sql, _, err := builder.Insert(tableNotifications).Rows(goqu.Record{
		"id":           n.ID,
		"recipient_id": n.RecipientID,
		"type":         n.Type,
		"title":        n.Title,
		"message":      n.Message,
		"data":         string(data),
		"read":         n.Read,
		"read_at":      n.ReadAt,
		"created_at":   n.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert notification: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("insert notification: %w", translate(err))
	}
	return nil
}

func (s *Storage) ListNotifications(ctx context.Context, recipientID uuid.UUID, f library.NotificationFilter) ([]library.Notification, error) {
	stmt := builder.From(tableNotifications).
		Select("id", "recipient_id", "type", "title", "message", "data", "read", "read_at", "created_at").
		Where(goqu.Ex{"recipient_id": recipientID}).
		Order(goqu.I("created_at").Desc())

	if f.OnlyUnread {
		stmt = stmt.Where(goqu.Ex{"read": false})
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		stmt = stmt.Where(goqu.C("type").In(types))
	}
	if f.Since != nil {
		stmt = stmt.Where(goqu.C("created_at").Gte(*f.Since))
	}
	if f.Limit > 0 {
		stmt = stmt.Limit(uint(f.Limit))
	}

	sql, _, err := stmt.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list notifications: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", translate(err))
	}
	defer rows.Close()

	var out []library.Notification
	for rows.Next() {
		var n library.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message,
			&data, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, translate(err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Storage) MarkNotificationRead(ctx context.Context, recipientID, notifID uuid.UUID) error {
	sql, _, err := builder.Update(tableNotifications).Set(goqu.Record{
		"read":    true,
		"read_at": time.Now(),
	}).Where(goqu.Ex{"id": notifID, "recipient_id": recipientID, "read": false}).ToSQL()
	if err != nil {
		return fmt.Errorf("build mark read: %w", err)
	}

	// Zero affected rows means already read, unknown, or not the
	// recipient's notification. All of those are silent no-ops.
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("mark read: %w", translate(err))
	}
	return nil
}

func (s *Storage) CountUnreadNotifications(ctx context.Context, recipientID uuid.UUID) (int, error) {
	sql, _, err := builder.From(tableNotifications).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{"recipient_id": recipientID, "read": false}).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build unread count: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// execExpectingRow runs a statement that must touch exactly one row.
func (s *Storage) execExpectingRow(ctx context.Context, sql, op string) error {
	tag, err := s.pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return library.ErrNotFound
	}
	return nil
}

// translate maps driver errors onto the library taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return library.ErrNotFound
	case pg.IsDuplicateKeyError(err):
		return library.ErrConflict
	default:
		return fmt.Errorf("%w: %v", library.ErrUnavailable, err)
	}
}

var _ library.Gateway = (*Storage)(nil)
