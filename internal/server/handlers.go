package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/openchatroom/internal/auth"
	"github.com/Tyrowin/openchatroom/internal/chat"
)

// handleHealth reports liveness and whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "OpenChatRoom server is running!"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"active_users": s.hub.ActiveUserCountGlobal(r.Context())})
}

type startSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.sessions.Start(r.Context(), req.Name)
	switch {
	case errors.Is(err, auth.ErrInvalidName):
		writeError(w, http.StatusUnprocessableEntity, "Name is required")
		return
	case err != nil:
		s.logger.Error("start session failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Could not start session")
		return
	}

	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.SecureCookies {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, sess.User)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "File uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	up, err := s.uploader.Upload(r.Context(), header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Error("file upload failed", slog.String("file", header.Filename), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "File upload failed.")
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// handleWebSocket upgrades the request and runs a room session until it
// ends. Missing or bad credentials are reported with a close frame after
// the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room, err := chat.ParseRoomID(chi.URLParam(r, "room_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid room id")
		return
	}

	var token string
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		token = cookie.Value
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	if err := s.hub.Serve(r.Context(), ws, room, token); err != nil {
		s.logger.Debug("room session ended", slog.Int64("room", int64(room)), slog.Any("reason", err))
	}
}
