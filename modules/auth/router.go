package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/dmitrymomot/bookcircle/modules/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Router mounts the authentication endpoints.
func Router(svc *Service) http.Handler {
	r := chi.NewRouter()

	r.Post("/register", handleRegister(svc))
	r.Post("/login", handleLogin(svc))

	r.Group(func(r chi.Router) {
		r.Use(Middleware(svc))
		r.Post("/logout", handleLogout(svc))
		r.Get("/me", handleMe())
	})

	return r
}

type credentialsPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u *library.User) userResponse {
	return userResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func handleRegister(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload credentialsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		user, err := svc.Register(r.Context(), payload.Email, payload.DisplayName, payload.Password)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toUserResponse(user))
	}
}

func handleLogin(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload credentialsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		user, token, err := svc.Login(r.Context(), payload.Email, payload.Password)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Token string       `json:"token"`
			User  userResponse `json:"user"`
		}{Token: token, User: toUserResponse(user)})
	}
}

func handleLogout(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Logout(r.Context(), BearerToken(r)); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to log out")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	var ve *library.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, ErrEmailDomainNotAllowed):
		writeError(w, http.StatusForbidden, "email_domain_not_allowed", err.Error())
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
