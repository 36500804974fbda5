// ABOUTME: SQLite implementation of the CredentialStore interface using modernc.org/sqlite
// ABOUTME: Stores sealed credentials in a key-value table with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
// When sealer is non-nil, credential values are encrypted at rest.
func NewSQLiteStore(path string, sealer *Sealer) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if sealer == nil {
		logger.Warn("credential sealing disabled, tokens stored in plaintext")
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// getValue reads a raw value by key. Returns ErrNotFound when the key is absent.
func (s *SQLiteStore) getValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key: %w", err)
	}
	return value, nil
}

// setValue writes a raw value, replacing any existing entry.
func (s *SQLiteStore) setValue(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}

// deleteValue removes a key. Returns ErrNotFound when the key is absent.
func (s *SQLiteStore) deleteValue(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCredential returns the bearer token stored for a user.
// Returns ErrNotFound when the user has never authenticated.
// The token value is never logged.
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string) (string, error) {
	value, err := s.getValue(ctx, credentialKey(userID))
	if err != nil {
		return "", err
	}

	if s.sealer != nil {
		plaintext, err := s.sealer.Open(value)
		if err != nil {
			return "", fmt.Errorf("unsealing credential: %w", err)
		}
		return string(plaintext), nil
	}

	return string(value), nil
}

// PutCredential stores or replaces the bearer token for a user.
func (s *SQLiteStore) PutCredential(ctx context.Context, userID, token string) error {
	value := []byte(token)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("sealing credential: %w", err)
		}
		value = sealed
	}

	if err := s.setValue(ctx, credentialKey(userID), value); err != nil {
		return err
	}

	s.logger.Debug("stored credential", "user_id", userID)
	return nil
}

// DeleteCredential removes the stored token for a user.
// Returns ErrNotFound when no token is stored.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string) error {
	if err := s.deleteValue(ctx, credentialKey(userID)); err != nil {
		return err
	}

	s.logger.Debug("deleted credential", "user_id", userID)
	return nil
}

// HasCredential reports whether a token is stored for a user.
func (s *SQLiteStore) HasCredential(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE key = ?`, credentialKey(userID)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying key: %w", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements CredentialStore.
var _ CredentialStore = (*SQLiteStore)(nil)
