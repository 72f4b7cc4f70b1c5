package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/xraph/bursar"
)

const (
	HeaderSchoolID  = "X-School-ID"
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

// requestID echoes X-Request-ID, generating one when the caller did not.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, rid)))
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("api: panic",
					"request_id", RequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// scope puts the school and user from the auth headers on the context.
func (h *Handler) scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		school := strings.TrimSpace(r.Header.Get(HeaderSchoolID))
		if school == "" {
			h.fail(w, r, bursar.ErrMissingScope)
			return
		}
		user := strings.TrimSpace(r.Header.Get(HeaderUserID))
		next.ServeHTTP(w, r.WithContext(bursar.WithScope(r.Context(), school, user)))
	})
}
