package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/store"
)

// RoomFeedItem is a listed room with its live presence count.
type RoomFeedItem struct {
	store.Room
	ActiveUsers int64 `json:"active_users"`
}

// MyRoomFeedItem is a member's room with presence and unread counts.
type MyRoomFeedItem struct {
	store.Room
	ActiveUsers int64 `json:"active_users"`
	UnreadCount int   `json:"unread_count"`
}

type createRoomRequest struct {
	Name     string `json:"name"`
	IsPublic *bool  `json:"is_public"`
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// roomParam parses {id}. It writes the 400 itself.
func roomParam(w http.ResponseWriter, r *http.Request) (chat.RoomID, bool) {
	id, err := chat.ParseRoomID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid room id")
		return 0, false
	}
	return id, true
}

// loadRoom fetches {id}, answering 404 when it does not exist.
func (s *Server) loadRoom(w http.ResponseWriter, r *http.Request) (store.Room, bool) {
	id, ok := roomParam(w, r)
	if !ok {
		return store.Room{}, false
	}
	room, err := s.store.GetRoom(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return store.Room{}, false
	}
	if err != nil {
		s.internalError(w, "load room failed", err)
		return store.Room{}, false
	}
	return room, true
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "Room name is required")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	room, err := s.store.CreateRoom(r.Context(), name, isPublic, userFrom(r.Context()))
	if err != nil {
		s.internalError(w, "create room failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleCommunityRooms(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r, 20)
	rooms, err := s.store.ListCommunityRooms(r.Context(), offset, limit)
	if err != nil {
		s.internalError(w, "list community rooms failed", err)
		return
	}
	writeJSON(w, http.StatusOK, s.feed(r, rooms))
}

func (s *Server) handleUserspaceRooms(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r, 100)
	rooms, err := s.store.ListUserspaceRooms(r.Context(), offset, limit)
	if err != nil {
		s.internalError(w, "list userspace rooms failed", err)
		return
	}
	writeJSON(w, http.StatusOK, s.feed(r, rooms))
}

func (s *Server) feed(r *http.Request, rooms []store.Room) []RoomFeedItem {
	items := make([]RoomFeedItem, 0, len(rooms))
	for _, room := range rooms {
		items = append(items, RoomFeedItem{Room: room, ActiveUsers: s.hub.ActiveUserCount(r.Context(), room.ID)})
	}
	return items
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListUserRooms(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.internalError(w, "list user rooms failed", err)
		return
	}
	items := make([]MyRoomFeedItem, 0, len(rooms))
	for _, room := range rooms {
		items = append(items, MyRoomFeedItem{
			Room:        room.Room,
			ActiveUsers: s.hub.ActiveUserCount(r.Context(), room.ID),
			UnreadCount: room.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRoomDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := roomParam(w, r)
	if !ok {
		return
	}
	details, err := s.store.GetRoomDetails(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		s.internalError(w, "load room details failed", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}
	if room.OwnerID != userFrom(r.Context()).ID {
		writeError(w, http.StatusForbidden, "Not authorized to delete this room")
		return
	}
	if err := s.store.DeleteRoom(r.Context(), room.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, "delete room failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}
	err := s.store.AddMember(r.Context(), room.ID, userFrom(r.Context()).ID)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusBadRequest, "User is already a member of this room")
		return
	}
	if err != nil {
		s.internalError(w, "join room failed", err)
		return
	}
	writeStatus(w, http.StatusCreated, "joined room successfully")
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomParam(w, r)
	if !ok {
		return
	}
	err := s.store.RemoveMember(r.Context(), id, userFrom(r.Context()).ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User is not a member of this room")
		return
	}
	if err != nil {
		s.internalError(w, "leave room failed", err)
		return
	}
	writeStatus(w, http.StatusOK, "left room successfully")
}

func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}
	members, err := s.store.ListMembers(r.Context(), room.ID)
	if err != nil {
		s.internalError(w, "list members failed", err)
		return
	}
	users := make([]store.User, 0, len(members))
	for _, m := range members {
		users = append(users, m.User)
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := roomParam(w, r)
	if !ok {
		return
	}
	offset, limit := pageParams(r, 50)
	messages, err := s.store.ListMessages(r.Context(), id, offset, limit)
	if err != nil {
		s.internalError(w, "list messages failed", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}
	if room.OwnerID != userFrom(r.Context()).ID {
		writeError(w, http.StatusForbidden, "Only room owners can create invite links")
		return
	}
	invite, err := s.store.CreateInvite(r.Context(), room.ID)
	if err != nil {
		s.internalError(w, "create invite failed", err)
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoomByInvite(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Invalid invite token")
		return
	}
	if err != nil {
		s.internalError(w, "resolve invite failed", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
