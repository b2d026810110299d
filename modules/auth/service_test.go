package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bookcircle/modules/auth"
	"github.com/dmitrymomot/bookcircle/modules/library"
)

func newTestService(t *testing.T) *auth.Service {
	t.Helper()
	cfg := auth.Config{
		AllowedEmailDomains: []string{"campus.edu"},
		TokenTTL:            time.Hour,
		BcryptCost:          4, // minimum cost keeps the tests fast
	}
	return auth.NewService(cfg, library.NewMemoryGateway(), auth.NewMemoryTokenStore())
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("creates user with hashed password", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		user, err := svc.Register(context.Background(), "Alice@Campus.edu", "Alice", "secret-password")
		require.NoError(t, err)
		require.NotNil(t, user)

		assert.Equal(t, "alice@campus.edu", user.Email)
		assert.Equal(t, "Alice", user.DisplayName)
		assert.NotEmpty(t, user.PasswordHash)
		assert.NotEqual(t, "secret-password", user.PasswordHash)
	})

	t.Run("rejects foreign email domain", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, err := svc.Register(context.Background(), "bob@gmail.com", "Bob", "secret-password")
		require.ErrorIs(t, err, auth.ErrEmailDomainNotAllowed)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, err := svc.Register(context.Background(), "alice@campus.edu", "Alice", "secret-password")
		require.NoError(t, err)

		_, err = svc.Register(context.Background(), "ALICE@campus.edu", "Alice Again", "another-password")
		require.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)

		_, err := svc.Register(context.Background(), "", "Alice", "secret-password")
		assert.True(t, library.IsValidationError(err))

		_, err = svc.Register(context.Background(), "alice@campus.edu", "", "secret-password")
		assert.True(t, library.IsValidationError(err))

		_, err = svc.Register(context.Background(), "alice@campus.edu", "Alice", "short")
		assert.True(t, library.IsValidationError(err))
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("issues resolvable token", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		registered, err := svc.Register(context.Background(), "alice@campus.edu", "Alice", "secret-password")
		require.NoError(t, err)

		user, token, err := svc.Login(context.Background(), "alice@campus.edu", "secret-password")
		require.NoError(t, err)
		require.NotEmpty(t, token)
		assert.Equal(t, registered.ID, user.ID)

		resolved, err := svc.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, resolved.ID)
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, err := svc.Register(context.Background(), "alice@campus.edu", "Alice", "secret-password")
		require.NoError(t, err)

		_, _, err = svc.Login(context.Background(), "alice@campus.edu", "wrong-password")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("rejects unknown email", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, _, err := svc.Login(context.Background(), "nobody@campus.edu", "secret-password")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "alice@campus.edu", "Alice", "secret-password")
	require.NoError(t, err)

	_, token, err := svc.Login(context.Background(), "alice@campus.edu", "secret-password")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), token))

	_, err = svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty token", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, err := svc.Authenticate(context.Background(), "")
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t)
		_, err := svc.Authenticate(context.Background(), "not-a-real-token")
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	t.Parallel()

	store := auth.NewMemoryTokenStore()
	svc := auth.NewService(auth.Config{
		AllowedEmailDomains: []string{"campus.edu"},
		TokenTTL:            -time.Minute, // already expired on issue
		BcryptCost:          4,
	}, library.NewMemoryGateway(), store)

	_, err := svc.Register(context.Background(), "alice@campus.edu", "Alice", "secret-password")
	require.NoError(t, err)

	_, token, err := svc.Login(context.Background(), "alice@campus.edu", "secret-password")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
