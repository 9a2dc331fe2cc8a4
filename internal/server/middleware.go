package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Tyrowin/openchatroom/internal/auth"
	"github.com/Tyrowin/openchatroom/internal/store"
)

type userContextKey struct{}

func withUser(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// userFrom returns the user attached by requireUser.
func userFrom(ctx context.Context) store.User {
	u, _ := ctx.Value(userContextKey{}).(store.User)
	return u
}

// requestLogger logs one line per request and records request metrics
// under the matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequest(route, status, elapsed.Seconds())

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("remote", clientAddr(r)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireUser resolves the session cookie, answering 401 when it is
// missing or invalid.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		user, err := s.sessions.User(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidSession) {
				s.logger.Error("session lookup failed", slog.Any("error", err))
			}
			writeError(w, http.StatusUnauthorized, "Invalid session")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
