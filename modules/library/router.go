package library

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/dmitrymomot/bookcircle/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Router mounts the book catalog and borrow lifecycle endpoints. All
// routes require an authenticated principal; mount behind auth.Middleware.
func Router(svc *Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/books", handleListBooks(svc))
	r.Post("/books", handleAddBook(svc))
	r.Get("/books/mine", handleMyBooks(svc))
	r.Get("/books/borrowed", handleBorrowedBooks(svc))
	r.Delete("/books/{bookID}", handleDeleteBook(svc))
	r.Post("/books/{bookID}/request-borrow", handleRequestBorrow(svc))
	r.Post("/books/{bookID}/return", handleReturnBook(svc))

	r.Get("/borrow-requests", handlePendingRequests(svc))
	r.Post("/borrow-requests/{requestID}/respond", handleRespondToRequest(svc))

	r.Get("/notifications", handleListNotifications(svc))
	r.Get("/notifications/unread-count", handleUnreadCount(svc))
	r.Post("/notifications/{notificationID}/read", handleMarkNotificationRead(svc))

	return r
}

func handleListBooks(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := svc.AvailableBooks(r.Context(), session.UserID(r.Context()), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleAddBook(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p AddBookParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		book, err := svc.AddBook(r.Context(), session.UserID(r.Context()), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	}
}

func handleMyBooks(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := svc.MyBooks(r.Context(), session.UserID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleBorrowedBooks(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := svc.BorrowedBooks(r.Context(), session.UserID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleDeleteBook(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := uuid.Parse(chi.URLParam(r, "bookID"))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid book id")
			return
		}

		if err := svc.DeleteBook(r.Context(), session.UserID(r.Context()), bookID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRequestBorrow(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := uuid.Parse(chi.URLParam(r, "bookID"))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid book id")
			return
		}

		var payload struct {
			PeriodDays int    `json:"period_days"`
			Message    string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		req, err := svc.RequestBorrow(r.Context(), session.UserID(r.Context()), bookID, payload.PeriodDays, payload.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

func handleReturnBook(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := uuid.Parse(chi.URLParam(r, "bookID"))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid book id")
			return
		}

		book, err := svc.ReturnBook(r.Context(), session.UserID(r.Context()), bookID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	}
}

func handlePendingRequests(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, err := svc.PendingRequests(r.Context(), session.UserID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requests)
	}
}

func handleRespondToRequest(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request id")
			return
		}

		var payload struct {
			Decision string `json:"decision"`
			Response string `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		err = svc.RespondToRequest(r.Context(), session.UserID(r.Context()), requestID, RequestStatus(payload.Decision), payload.Response)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListNotifications(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid limit")
				return
			}
			limit = n
		}

		notifications, err := svc.Notifications(r.Context(), session.UserID(r.Context()), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, notifications)
	}
}

func handleUnreadCount(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.UnreadNotificationCount(r.Context(), session.UserID(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread": count})
	}
}

func handleMarkNotificationRead(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notifID, err := uuid.Parse(chi.URLParam(r, "notificationID"))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid notification id")
			return
		}

		if err := svc.MarkNotificationRead(r.Context(), session.UserID(r.Context()), notifID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeError maps the module error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		writeErrorCode(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, ErrConflict):
		writeErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ErrUnauthenticated):
		writeErrorCode(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, ErrUnavailable):
		writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable")
	default:
		writeErrorCode(w, http.StatusInternalServerError, "internal", "something went wrong")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
