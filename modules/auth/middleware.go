package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/pkg/session"
)

type userKey struct{}

// CurrentUser returns the authenticated user stored in the request
// context by Middleware, or nil when the request is anonymous.
func CurrentUser(ctx context.Context) *library.User {
	user, _ := ctx.Value(userKey{}).(*library.User)
	return user
}

// CurrentUserID returns the authenticated user's ID, or uuid.Nil for
// anonymous requests.
func CurrentUserID(ctx context.Context) uuid.UUID {
	return session.UserID(ctx)
}

// BearerToken extracts the token from the Authorization header, falling
// back to the "token" query parameter for websocket upgrades where
// custom headers are unavailable.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates requests and stores the principal in the
// request context. Requests without a valid token are rejected with 401.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := svc.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}

			ctx := session.WithUserID(r.Context(), user.ID)
			ctx = context.WithValue(ctx, userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
