package httptransport

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/wafula-dev/dukapesa/app/internal/pkg/logging"
	"go.uber.org/zap"
)

type operatorKey struct{}

// OperatorFromContext returns the authenticated operator name, or
// "operator" when the route is not gated.
func OperatorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorKey{}).(string); ok && v != "" {
		return v
	}
	return "operator"
}

// OperatorAuth gates mutating reconciliation routes behind a bearer
// token. The X-Operator header attributes the action to a person.
func OperatorAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusServiceUnavailable,
					errHTTP("operator access is not configured"))
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, errHTTP("invalid operator token"))
				return
			}

			operator := r.Header.Get("X-Operator")
			if operator == "" {
				operator = "operator"
			}
			ctx := context.WithValue(r.Context(), operatorKey{}, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs each request with its status and duration.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			reqLog := log.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			r = r.WithContext(logging.ContextWithLogger(r.Context(), reqLog))

			next.ServeHTTP(wrapped, r)

			log.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// Recovery turns handler panics into 500 responses.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.FromContext(r.Context()).Error("http_panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("stack", string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, errHTTP("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type errHTTP string

func (e errHTTP) Error() string { return string(e) }
