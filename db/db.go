// Package db provides database connection helpers, schema migration, and
// data access for runtime settings, the highlight audit log, and stored
// OAuth tokens.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/highlight-relay/crypto"
)

var (
	// encryptor protects secrets at rest (OBS password, OAuth tokens).
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the encryptor from ENCRYPTION_KEY. If the key is
// not set, secrets are stored in plaintext. Called lazily on first use.
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, secrets will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("secret encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection. The DSN comes from config, which owns
// the DB_DSN default.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			encrypted BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS highlights (
			id SERIAL PRIMARY KEY,
			username TEXT,
			message TEXT,
			color TEXT,
			message_timestamp TIMESTAMPTZ,
			duration_seconds INTEGER,
			flagged_by TEXT,
			success BOOLEAN,
			error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			encrypted BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_highlights_created ON highlights(created_at DESC)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// HighlightRecord is one row of the highlight audit log.
type HighlightRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int       `json:"duration_seconds"`
	FlaggedBy string    `json:"flagged_by,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertHighlight appends one outcome row to the audit log.
func InsertHighlight(ctx context.Context, dbx *sql.DB, rec HighlightRecord) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO highlights (username, message, color, message_timestamp, duration_seconds, flagged_by, success, error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.Username, rec.Message, rec.Color, rec.Timestamp, rec.Duration, rec.FlaggedBy, rec.Success, rec.Error)
	return err
}

// RecentHighlights returns the newest audit rows, newest first.
func RecentHighlights(ctx context.Context, dbx *sql.DB, limit int) ([]HighlightRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, username, message, color, message_timestamp, duration_seconds, flagged_by, success, error, created_at
		 FROM highlights ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]HighlightRecord, 0, limit)
	for rows.Next() {
		var rec HighlightRecord
		var flaggedBy, errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Message, &rec.Color, &rec.Timestamp, &rec.Duration, &flaggedBy, &rec.Success, &errMsg, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.FlaggedBy = flaggedBy.String
		rec.Error = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertOAuthToken stores or updates an OAuth token row. Tokens are
// encrypted at rest when ENCRYPTION_KEY is configured.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encrypted := false
	accessToStore, refreshToStore := access, refresh
	if enc != nil {
		encrypted = true
		if accessToStore, err = crypto.EncryptString(enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refreshToStore, err = crypto.EncryptString(enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encrypted, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encrypted=EXCLUDED.encrypted,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, provider, accessToStore, refreshToStore, expiry, scope, encrypted)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not
// found. Encrypted rows are decrypted transparently.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var encrypted bool
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encrypted, FALSE)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &scope, &encrypted)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if encrypted {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", time.Time{}, "", fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access, err = crypto.DecryptString(enc, access); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = crypto.DecryptString(enc, refresh); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return access, refresh, expiry, scope, nil
}
