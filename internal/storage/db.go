package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"dailypa/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			refresh_token TEXT UNIQUE NOT NULL,
			user_id TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			last_activity DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS auth_codes (
			code TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			amount REAL NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			date DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses(user_id, date)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Account is a user row including its password hash.
type Account struct {
	models.User
	PasswordHash string
}

// CreateUser creates a new user with the given id, email and password hash.
func (db *DB) CreateUser(ctx context.Context, id, email, passwordHash string, metadata map[string]any) (*Account, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	fullName, _ := metadata["full_name"].(string)
	avatarURL, _ := metadata["avatar_url"].(string)

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, full_name, avatar_url, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, strings.ToLower(email), passwordHash, fullName, avatarURL, string(meta), time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

const userColumns = "id, email, password_hash, full_name, avatar_url, metadata, created_at"

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var meta string
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FullName, &a.AvatarURL, &meta, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &a.Metadata)
	}
	return &a, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*Account, error) {
	return scanAccount(db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email)))
}

// UpdatePasswordHash replaces a user's password hash.
func (db *DB) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CreateSession stores a refresh session for a user.
func (db *DB) CreateSession(ctx context.Context, id, refreshToken, userID string, expiresAt time.Time) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, refresh_token, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?, ?)",
		id, refreshToken, userID, expiresAt.UTC(), now,
	)
	return err
}

// SessionInfo holds session validation data.
type SessionInfo struct {
	ID           string
	User         *Account
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateRefreshToken returns the live session owning refreshToken.
func (db *DB) ValidateRefreshToken(ctx context.Context, refreshToken string) (*SessionInfo, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT s.id, s.last_activity, s.expires_at,
			u.id, u.email, u.password_hash, u.full_name, u.avatar_url, u.metadata, u.created_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.refresh_token = ? AND s.expires_at > ?
	`, refreshToken, time.Now().UTC())

	var info SessionInfo
	var a Account
	var meta string
	if err := row.Scan(&info.ID, &info.LastActivity, &info.ExpiresAt,
		&a.ID, &a.Email, &a.PasswordHash, &a.FullName, &a.AvatarURL, &meta, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(meta), &a.Metadata)
	info.User = &a
	return &info, nil
}

// SessionExists reports whether a session id is still live.
func (db *DB) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE id = ? AND expires_at > ?", id, time.Now().UTC()).Scan(&n)
	return n > 0, err
}

// RotateRefreshToken swaps the refresh token of a session and extends it.
func (db *DB) RotateRefreshToken(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) error {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET refresh_token = ?, last_activity = ?, expires_at = ? WHERE refresh_token = ?",
		newToken, now, newExpiresAt.UTC(), oldToken,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session by id.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	return err
}

// DeleteUserSessions removes every session of a user.
func (db *DB) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	return err
}

// CleanExpiredSessions removes expired sessions and authorization codes.
func (db *DB) CleanExpiredSessions(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM auth_codes WHERE expires_at <= ?", now); err != nil {
		return n, err
	}
	return n, nil
}

// CreateAuthCode stores a single-use authorization code.
func (db *DB) CreateAuthCode(ctx context.Context, code, userID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO auth_codes (code, user_id, expires_at) VALUES (?, ?, ?)", code, userID, expiresAt.UTC())
	return err
}

// ConsumeAuthCode deletes a live code and returns its user id.
func (db *DB) ConsumeAuthCode(ctx context.Context, code string) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM auth_codes WHERE code = ? AND expires_at > ?", code, time.Now().UTC()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM auth_codes WHERE code = ?", code); err != nil {
		return "", err
	}
	return userID, tx.Commit()
}
