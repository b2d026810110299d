package library_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bookcircle/modules/auth"
	"github.com/dmitrymomot/bookcircle/modules/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type apiEnv struct {
	server *httptest.Server
	auth   *auth.Service
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	gateway := library.NewMemoryGateway()
	svc := library.NewService(gateway, library.NewDispatcher(gateway, nil), library.NoopEventSink{})

	authSvc := auth.NewService(auth.Config{
		AllowedEmailDomains: []string{"campus.edu"},
		TokenTTL:            time.Hour,
		BcryptCost:          4,
	}, gateway, auth.NewMemoryTokenStore())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authSvc))
		r.Mount("/", library.Router(svc))
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiEnv{server: server, auth: authSvc}
}

func (e *apiEnv) signup(t *testing.T, email string) string {
	t.Helper()

	_, err := e.auth.Register(context.Background(), email, "Member", "secret-password")
	require.NoError(t, err)
	_, token, err := e.auth.Login(context.Background(), email, "secret-password")
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRouterBorrowFlow(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	ownerToken := env.signup(t, "owner@campus.edu")
	borrowerToken := env.signup(t, "borrower@campus.edu")

	// Owner lists a book.
	resp := env.do(t, ownerToken, http.MethodPost, "/books", map[string]string{
		"Title": "Dune", "Author": "Frank Herbert",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	book := decode[map[string]any](t, resp)
	bookID := book["id"].(string)

	// Borrower sees it in the catalog.
	resp = env.do(t, borrowerToken, http.MethodGet, "/books", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	catalog := decode[[]map[string]any](t, resp)
	require.Len(t, catalog, 1)

	// The owner's own catalog view is empty.
	resp = env.do(t, ownerToken, http.MethodGet, "/books", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]map[string]any](t, resp))

	// Borrower requests the book.
	resp = env.do(t, borrowerToken, http.MethodPost, "/books/"+bookID+"/request-borrow", map[string]any{
		"period_days": 14, "message": "back soon",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Owner sees the pending request and approves it.
	resp = env.do(t, ownerToken, http.MethodGet, "/borrow-requests", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[[]map[string]any](t, resp)
	require.Len(t, pending, 1)
	requestID := pending[0]["id"].(string)

	resp = env.do(t, ownerToken, http.MethodPost, "/borrow-requests/"+requestID+"/respond", map[string]string{
		"decision": "approved",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The loan shows up for the borrower.
	resp = env.do(t, borrowerToken, http.MethodGet, "/books/borrowed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	borrowed := decode[[]map[string]any](t, resp)
	require.Len(t, borrowed, 1)
	assert.NotNil(t, borrowed[0]["due_date"])

	// Borrower has an approval notification.
	resp = env.do(t, borrowerToken, http.MethodGet, "/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := decode[map[string]int](t, resp)
	assert.Equal(t, 1, count["unread"])

	// And returns the book.
	resp = env.do(t, borrowerToken, http.MethodPost, "/books/"+bookID+"/return", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	returned := decode[map[string]any](t, resp)
	assert.Nil(t, returned["borrower_id"])
}

func TestRouterErrorMapping(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	ownerToken := env.signup(t, "owner@campus.edu")
	otherToken := env.signup(t, "other@campus.edu")

	resp := env.do(t, ownerToken, http.MethodPost, "/books", map[string]string{
		"Title": "Dune", "Author": "Frank Herbert",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	book := decode[map[string]any](t, resp)
	bookID := book["id"].(string)

	t.Run("validation error is 400", func(t *testing.T) {
		resp := env.do(t, ownerToken, http.MethodPost, "/books", map[string]string{"Title": "No Author"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("own book request is 409", func(t *testing.T) {
		resp := env.do(t, ownerToken, http.MethodPost, "/books/"+bookID+"/request-borrow", map[string]any{"period_days": 7})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown book is 404", func(t *testing.T) {
		resp := env.do(t, otherToken, http.MethodPost, "/books/00000000-0000-0000-0000-000000000001/request-borrow", map[string]any{"period_days": 7})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		resp := env.do(t, otherToken, http.MethodDelete, "/books/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("foreign delete is 403", func(t *testing.T) {
		resp := env.do(t, otherToken, http.MethodDelete, "/books/"+bookID, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing token is 401", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/books")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
