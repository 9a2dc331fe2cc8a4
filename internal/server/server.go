package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/openchatroom/internal/auth"
	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/metrics"
	"github.com/Tyrowin/openchatroom/internal/objectstore"
	"github.com/Tyrowin/openchatroom/internal/store"
)

// SessionCookie carries the session token.
const SessionCookie = "session_id"

// DefaultMaxUploadSize bounds multipart uploads.
const DefaultMaxUploadSize = 10 << 20

// Store is the persistence the HTTP surface needs.
type Store interface {
	Ping(ctx context.Context) error
	GetRoom(ctx context.Context, id chat.RoomID) (store.Room, error)
	GetRoomDetails(ctx context.Context, id chat.RoomID) (store.RoomDetails, error)
	ListMembers(ctx context.Context, room chat.RoomID) ([]store.RoomMember, error)
	ListCommunityRooms(ctx context.Context, offset, limit int) ([]store.Room, error)
	ListUserspaceRooms(ctx context.Context, offset, limit int) ([]store.Room, error)
	ListUserRooms(ctx context.Context, user chat.UserID) ([]store.MemberRoom, error)
	CreateRoom(ctx context.Context, name string, isPublic bool, owner store.User) (store.Room, error)
	DeleteRoom(ctx context.Context, id chat.RoomID) error
	AddMember(ctx context.Context, room chat.RoomID, user chat.UserID) error
	RemoveMember(ctx context.Context, room chat.RoomID, user chat.UserID) error
	ListMessages(ctx context.Context, room chat.RoomID, offset, limit int) ([]chat.Message, error)
	CreateInvite(ctx context.Context, room chat.RoomID) (store.Invite, error)
	GetRoomByInvite(ctx context.Context, token string) (store.Room, error)
}

// Sessions starts and resolves user sessions.
type Sessions interface {
	Start(ctx context.Context, name string) (auth.Session, error)
	User(ctx context.Context, token string) (store.User, error)
}

// Uploader stores attachments.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (objectstore.Upload, error)
}

// Hub runs room sessions and reads presence.
type Hub interface {
	Serve(ctx context.Context, ws *websocket.Conn, room chat.RoomID, token string) error
	ActiveUserCount(ctx context.Context, room chat.RoomID) int64
	ActiveUserCountGlobal(ctx context.Context) int64
}

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
	// SecureCookies marks the session cookie Secure with SameSite=None for
	// cross-site frontends. Otherwise the cookie is SameSite=Lax.
	SecureCookies bool
	MaxUploadSize int64
}

// Deps are the collaborators of the HTTP surface. Uploader and Gatherer
// are optional.
type Deps struct {
	Store    Store
	Sessions Sessions
	Hub      Hub
	Uploader Uploader
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the handlers' shared state.
type Server struct {
	cfg      Config
	store    Store
	sessions Sessions
	hub      Hub
	uploader Uploader
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// New validates deps and builds the server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("server: sessions are required")
	}
	if deps.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))

	origins := NewOriginPolicy(cfg.AllowedOrigins, logger)
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		hub:      deps.Hub,
		uploader: deps.Uploader,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		origins:  origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}
