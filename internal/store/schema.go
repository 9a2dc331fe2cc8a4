package store

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	role VARCHAR(32) NOT NULL DEFAULT 'user'
)`,
	`CREATE TABLE IF NOT EXISTS sessions (
	id VARCHAR(64) PRIMARY KEY,
	user_id BIGINT NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	INDEX idx_sessions_user (user_id),
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS rooms (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	is_public BOOLEAN NOT NULL DEFAULT TRUE,
	is_community BOOLEAN NOT NULL DEFAULT FALSE,
	owner_id BIGINT NOT NULL,
	INDEX idx_rooms_name (name),
	FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS room_members (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	room_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	unread_count INT NOT NULL DEFAULT 0,
	UNIQUE KEY uq_room_members (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	room_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	content TEXT NOT NULL,
	type VARCHAR(16) NOT NULL DEFAULT 'text',
	file_url TEXT NULL,
	created_at DATETIME(6) NOT NULL,
	INDEX idx_messages_room_created (room_id, created_at),
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS room_invites (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	room_id BIGINT NOT NULL,
	token CHAR(36) NOT NULL UNIQUE,
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user'
)`,
	`CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE TABLE IF NOT EXISTS rooms (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	is_public BOOLEAN NOT NULL DEFAULT TRUE,
	is_community BOOLEAN NOT NULL DEFAULT FALSE,
	owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_name ON rooms(name)`,
	`CREATE TABLE IF NOT EXISTS room_members (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	unread_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE (room_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'text',
	file_url TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS room_invites (
	id BIGSERIAL PRIMARY KEY,
	room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	token UUID NOT NULL UNIQUE
)`,
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := mysqlSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
