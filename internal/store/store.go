// Package store persists users, sessions, rooms, memberships, messages and
// invites in MySQL or PostgreSQL through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("already exists")
)

// Dialect selects placeholder and DDL syntax.
type Dialect int

const (
	// DialectMySQL uses ? placeholders.
	DialectMySQL Dialect = iota
	// DialectPostgres uses $1, $2 placeholders.
	DialectPostgres
)

// ParseDialect maps a driver name to its Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "mysql"
}

// Config selects and locates the database.
type Config struct {
	Driver string
	DSN    string
}

// Store is the relational persistence layer.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dialect == DialectMySQL {
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		mc.Loc = time.UTC
		dsn = mc.FormatDSN()
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.driverName(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.driverName(), err)
	}
	return New(db, dialect), nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders for the dialect.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// insert runs an INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, q execQuerier, query string, args ...any) (int64, error) {
	if s.dialect == DialectPostgres {
		var id int64
		if err := q.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, mapError(err)
		}
		return id, nil
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// mapError translates driver errors into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
