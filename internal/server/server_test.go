package server_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/openchatroom/internal/auth"
	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/logging"
	"github.com/Tyrowin/openchatroom/internal/metrics"
	"github.com/Tyrowin/openchatroom/internal/objectstore"
	"github.com/Tyrowin/openchatroom/internal/server"
	"github.com/Tyrowin/openchatroom/internal/store"
	"github.com/Tyrowin/openchatroom/internal/testhelpers"
)

type memberKey struct {
	room chat.RoomID
	user chat.UserID
}

type memSession struct {
	user    chat.UserID
	expires time.Time
}

// memStore is an in-memory stand-in for the SQL store covering the user,
// room and message operations used by auth, the HTTP surface and the hub.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[chat.UserID]store.User
	sessions map[string]memSession
	rooms    map[chat.RoomID]store.Room
	members  map[chat.RoomID][]chat.UserID
	unread   map[memberKey]int
	resets   map[memberKey]int
	messages map[chat.RoomID][]chat.Message
	invites  map[string]chat.RoomID
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[chat.UserID]store.User{},
		sessions: map[string]memSession{},
		rooms:    map[chat.RoomID]store.Room{},
		members:  map[chat.RoomID][]chat.UserID{},
		unread:   map[memberKey]int{},
		resets:   map[memberKey]int{},
		messages: map[chat.RoomID][]chat.Message{},
		invites:  map[string]chat.RoomID{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) GetUserByName(_ context.Context, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) CreateUser(_ context.Context, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := store.User{ID: chat.UserID(m.id()), Name: name, Role: store.RoleUser}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) CreateSession(_ context.Context, id string, user chat.UserID, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = memSession{user: user, expires: expiresAt}
	return nil
}

func (m *memStore) GetUserBySession(_ context.Context, id string, now time.Time) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.expires.After(now) {
		return store.User{}, store.ErrNotFound
	}
	return m.users[s.user], nil
}

func (m *memStore) promote(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Name == name {
			u.Role = store.RoleAdmin
			m.users[id] = u
		}
	}
}

func (m *memStore) GetRoom(_ context.Context, id chat.RoomID) (store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return store.Room{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) memberList(room chat.RoomID) []store.RoomMember {
	out := []store.RoomMember{}
	for _, uid := range m.members[room] {
		out = append(out, store.RoomMember{User: m.users[uid], UnreadCount: m.unread[memberKey{room, uid}]})
	}
	return out
}

func (m *memStore) GetRoomDetails(_ context.Context, id chat.RoomID) (store.RoomDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return store.RoomDetails{}, store.ErrNotFound
	}
	return store.RoomDetails{Room: r, Members: m.memberList(id)}, nil
}

func (m *memStore) ListMembers(_ context.Context, room chat.RoomID) ([]store.RoomMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memberList(room), nil
}

func (m *memStore) listRooms(offset, limit int, keep func(store.Room) bool) []store.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Room{}
	for _, r := range m.rooms {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []store.Room{}
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ListCommunityRooms(_ context.Context, offset, limit int) ([]store.Room, error) {
	return m.listRooms(offset, limit, func(r store.Room) bool { return r.IsCommunity }), nil
}

func (m *memStore) ListUserspaceRooms(_ context.Context, offset, limit int) ([]store.Room, error) {
	return m.listRooms(offset, limit, func(r store.Room) bool { return r.IsPublic && !r.IsCommunity }), nil
}

func (m *memStore) ListUserRooms(_ context.Context, user chat.UserID) ([]store.MemberRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.MemberRoom{}
	for id, r := range m.rooms {
		for _, uid := range m.members[id] {
			if uid == user {
				out = append(out, store.MemberRoom{Room: r, UnreadCount: m.unread[memberKey{id, uid}]})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateRoom(_ context.Context, name string, isPublic bool, owner store.User) (store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := store.Room{
		ID:          chat.RoomID(m.id()),
		Name:        name,
		IsPublic:    isPublic,
		IsCommunity: owner.IsAdmin(),
		OwnerID:     owner.ID,
		Owner:       owner,
	}
	m.rooms[r.ID] = r
	m.members[r.ID] = []chat.UserID{owner.ID}
	return r, nil
}

func (m *memStore) DeleteRoom(_ context.Context, id chat.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.members, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) AddMember(_ context.Context, room chat.RoomID, user chat.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range m.members[room] {
		if uid == user {
			return fmt.Errorf("add member: %w", store.ErrConflict)
		}
	}
	m.members[room] = append(m.members[room], user)
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, room chat.RoomID, user chat.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.members[room]
	for i, uid := range list {
		if uid == user {
			m.members[room] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) IsMember(_ context.Context, room chat.RoomID, user chat.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range m.members[room] {
		if uid == user {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateMessage(_ context.Context, room chat.RoomID, user chat.UserID, req chat.CreateRequest) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := chat.Message{
		ID:        m.id(),
		RoomID:    room,
		Author:    m.users[user].Author(),
		Content:   req.Content,
		Type:      req.Type,
		FileURL:   req.FileURL,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[room] = append(m.messages[room], msg)
	for _, uid := range m.members[room] {
		if uid != user {
			m.unread[memberKey{room, uid}]++
		}
	}
	return msg, nil
}

func (m *memStore) ResetUnread(_ context.Context, room chat.RoomID, user chat.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[memberKey{room, user}] = 0
	m.resets[memberKey{room, user}]++
	return nil
}

func (m *memStore) resetCount(room chat.RoomID, user chat.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[memberKey{room, user}]
}

func (m *memStore) ListMessages(_ context.Context, room chat.RoomID, offset, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[room]
	out := []chat.Message{}
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	if offset >= len(out) {
		return []chat.Message{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateInvite(_ context.Context, room chat.RoomID) (store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.invites[token] = room
	return store.Invite{Token: token, RoomID: room}, nil
}

func (m *memStore) GetRoomByInvite(_ context.Context, token string) (store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.invites[token]
	if !ok {
		return store.Room{}, store.ErrNotFound
	}
	r, ok := m.rooms[id]
	if !ok {
		return store.Room{}, store.ErrNotFound
	}
	return r, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, name string, data []byte, _ string) (objectstore.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return objectstore.Upload{}, f.err
	}
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	key := "id-" + name
	f.files[key] = data
	return objectstore.Upload{FileName: key, FileURL: "http://files.test/" + key}, nil
}

// testEnv is a running HTTP server backed by an in-process hub.
type testEnv struct {
	server   *httptest.Server
	store    *memStore
	hub      *chat.Hub
	registry *prometheus.Registry
	uploader *fakeUploader
}

func (e *testEnv) url(path string) string {
	return e.server.URL + server.APIPrefix + path
}

func (e *testEnv) wsURL(room chat.RoomID) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + server.APIPrefix + fmt.Sprintf("/ws/%d", room)
}

type envOption func(*server.Config, *server.Deps)

func withoutUploads() envOption {
	return func(_ *server.Config, d *server.Deps) { d.Uploader = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := logging.Discard()
	mem := newMemStore()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	sessions, err := auth.NewManager(mem, "test-secret", time.Hour, logger)
	if err != nil {
		t.Fatalf("auth.NewManager failed: %v", err)
	}
	hub, err := chat.NewHub(chat.HubConfig{
		Bus:      chat.NewLocalBus(),
		Presence: chat.NewMemoryPresence(),
		Store:    mem,
		Auth:     sessions,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("chat.NewHub failed: %v", err)
	}

	uploader := &fakeUploader{}
	cfg := server.Config{AllowedOrigins: []string{testhelpers.TestOrigin}}
	deps := server.Deps{
		Store:    mem,
		Sessions: sessions,
		Hub:      hub,
		Uploader: uploader,
		Metrics:  m,
		Gatherer: registry,
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	env := &testEnv{server: ts, store: mem, hub: hub, registry: registry, uploader: uploader}
	t.Cleanup(func() {
		ctx, cancel := env.shutdownContext()
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
	})
	return env
}

func (e *testEnv) shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// startSession starts a session for name and returns its cookie.
func (e *testEnv) startSession(t *testing.T, name string) *http.Cookie {
	t.Helper()
	resp := testhelpers.MakeRequest(t, http.MethodPost, e.url("/session/start"), fmt.Sprintf(`{"name":%q}`, name))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	for _, c := range resp.Cookies() {
		if c.Name == server.SessionCookie {
			return &http.Cookie{Name: c.Name, Value: c.Value}
		}
	}
	t.Fatalf("Expected %s cookie for %s", server.SessionCookie, name)
	return nil
}

// createRoom creates a public room owned by the cookie's user.
func (e *testEnv) createRoom(t *testing.T, owner *http.Cookie, name string) store.Room {
	t.Helper()
	resp := testhelpers.MakeRequest(t, http.MethodPost, e.url("/rooms"), fmt.Sprintf(`{"name":%q}`, name), owner)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	var room store.Room
	testhelpers.DecodeJSON(t, resp, &room)
	return room
}

func (e *testEnv) join(t *testing.T, who *http.Cookie, room chat.RoomID) {
	t.Helper()
	resp := testhelpers.MakeRequest(t, http.MethodPost, e.url(fmt.Sprintf("/rooms/%d/join", room)), "", who)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
}

func (e *testEnv) userID(t *testing.T, name string) chat.UserID {
	t.Helper()
	u, err := e.store.GetUserByName(context.Background(), name)
	if err != nil {
		t.Fatalf("unknown user %s: %v", name, err)
	}
	return u.ID
}

var errUpload = errors.New("bucket unavailable")
