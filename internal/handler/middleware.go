package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/orders"
	"restaurant-sync/pkg/logger"

	"github.com/google/uuid"
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// logging assigns a request id (reusing X-Request-ID when the caller sent
// one), puts it on the context and logs one line per request.
func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		h.logger.Debug(requestID, "http_request", fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			"status", rec.status, "bytes", rec.bytes, "duration_ms", time.Since(start).Milliseconds())
	})
}

type subjectKey struct{}

// authenticate attributes requests carrying a valid bearer token to the
// token subject. Requests without a token fall back to X-User-ID.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || h.auth == nil || strings.HasPrefix(r.URL.Path, "/webhooks/") {
			if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
				r = r.WithContext(orders.WithActor(r.Context(), user))
			}
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, fmt.Errorf("authorization must be a bearer token: %w", apperr.ErrUnauthorized))
			return
		}
		claims, err := h.auth.Verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		ctx = orders.WithActor(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor is the authenticated subject, or the X-User-ID header for
// unauthenticated staff tools.
func actor(r *http.Request) string {
	if s, ok := r.Context().Value(subjectKey{}).(string); ok && s != "" {
		return s
	}
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}
