// Package db owns the SQLite connection, schema migrations and password
// hashing.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"
)

// DB is the shared connection pool. Init must be called before use.
var DB *sql.DB

//go:embed migrations/*.sql
var migrationsFS embed.FS

const bcryptCost = 14

// Init opens (or creates) the SQLite database at path and applies all
// pending migrations.
func Init(ctx context.Context, path string) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		conn.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	DB = conn
	slog.Info("database ready", "path", path)
	return nil
}

// Close releases the connection pool.
func Close() error {
	if DB == nil {
		return nil
	}
	return DB.Close()
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password against its bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// DummyCheck burns the same bcrypt work as a real password check so that
// a login attempt with an unknown username takes as long as one with a
// wrong password.
func DummyCheck(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("fermlog-timing-pad"), bcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
