package session

import (
	"context"

	"github.com/google/uuid"
)

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user's ID.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user's ID from the context, or
// uuid.Nil for anonymous requests.
func UserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey{}).(uuid.UUID)
	return id
}

// IsAuthenticated reports whether the context carries a principal.
func IsAuthenticated(ctx context.Context) bool {
	return UserID(ctx) != uuid.Nil
}
