package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/weekplate/internal/auth"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger returns middleware that logs each HTTP request with method,
// path, status code, duration, remote IP and, when signed in, the user.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			var userID int64
			next.ServeHTTP(rec, r.WithContext(withUserSlot(r.Context(), &userID)))

			duration := time.Since(start)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
				slog.String("remote", RealIP(r)),
			}
			if userID != 0 {
				attrs = append(attrs, slog.Int64("user_id", userID))
			}

			switch {
			case rec.status >= 500:
				logger.LogAttrs(r.Context(), slog.LevelError, "request", attrs...)
			case rec.status >= 400:
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request", attrs...)
			default:
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
			}
		})
	}
}

type userSlotKey struct{}

// withUserSlot lets RequireAuth, which runs inside the logger, report the
// authenticated user back to the access log.
func withUserSlot(ctx context.Context, slot *int64) context.Context {
	return context.WithValue(ctx, userSlotKey{}, slot)
}

func recordUser(ctx context.Context, ac auth.AuthContext) {
	if slot, ok := ctx.Value(userSlotKey{}).(*int64); ok {
		*slot = ac.UserID
	}
}
