package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIPrefix prefixes every API route.
const APIPrefix = "/api/v1"

// Routes returns the router with every application route. Each throttled
// route keeps its own per-address budget.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.origins.CORS)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.With(Throttle(5, time.Minute)).Post("/session/start", s.handleStartSession)
		r.Get("/stats", s.handleStats)
		r.Get("/ws/{room_id}", s.handleWebSocket)
		r.Get("/invite/{token}", s.handleInvite)

		r.Get("/rooms/community", s.handleCommunityRooms)
		r.Get("/rooms/userspaces", s.handleUserspaceRooms)
		r.Get("/rooms/{id}", s.handleRoomDetails)
		r.Get("/rooms/{id}/members", s.handleRoomMembers)
		r.Get("/rooms/{id}/messages", s.handleRoomMessages)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/session/me", s.handleMe)
			r.Get("/rooms/my", s.handleMyRooms)
			r.With(Throttle(10, time.Minute)).Post("/rooms", s.handleCreateRoom)
			r.With(Throttle(10, time.Minute)).Delete("/rooms/{id}", s.handleDeleteRoom)
			r.With(Throttle(10, time.Minute)).Post("/rooms/{id}/join", s.handleJoinRoom)
			r.With(Throttle(10, time.Minute)).Post("/rooms/{id}/leave", s.handleLeaveRoom)
			r.With(Throttle(5, time.Minute)).Post("/rooms/{id}/invite", s.handleCreateInvite)
			r.With(Throttle(5, time.Minute)).Post("/upload-file", s.handleUpload)
		})
	})

	return r
}
