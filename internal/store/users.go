package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/mattn/go-sqlite3"
)

const userColumns = `id, username, first_name, last_name, bio, photo_url, online, last_seen, created_at`

func scanUser(row interface{ Scan(...any) error }) (*chat.User, error) {
	var (
		u                   chat.User
		lastSeen, createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Bio, &u.PhotoURL,
		&u.Online, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	if lastSeen > 0 {
		u.LastSeen = time.UnixMilli(lastSeen)
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser inserts a new profile. A taken username wraps chat.ErrBadRequest.
func (db *DB) CreateUser(ctx context.Context, username, firstName, lastName string) (*chat.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("create user: empty username: %w", chat.ErrBadRequest)
	}
	now := time.Now()
	u := &chat.User{
		ID:        uuid.NewString(),
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, u.LastName, now.UnixMilli(), now.UnixMilli())
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("username %q is taken: %w", username, chat.ErrBadRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByID returns a profile by id, or nil if absent.
func (db *DB) GetUserByID(ctx context.Context, id string) (*chat.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByUsername returns a profile by username, or nil if absent.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*chat.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns every profile sorted by username.
func (db *DB) ListUsers(ctx context.Context) ([]chat.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []chat.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile applies patch and returns the updated profile, or nil if the
// user does not exist.
func (db *DB) UpdateProfile(ctx context.Context, id string, patch chat.ProfilePatch) (*chat.User, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	patch.Apply(u)
	if strings.TrimSpace(u.Username) == "" {
		return nil, fmt.Errorf("update profile: empty username: %w", chat.ErrBadRequest)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET username = ?, first_name = ?, last_name = ?, bio = ?, photo_url = ?, updated_at = ?
		WHERE id = ?`,
		u.Username, u.FirstName, u.LastName, u.Bio, u.PhotoURL, time.Now().UnixMilli(), id)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("username %q is taken: %w", u.Username, chat.ErrBadRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// SetOnlineStatus records presence. Going offline stamps last_seen; going
// online keeps the previous value.
func (db *DB) SetOnlineStatus(ctx context.Context, id string, online bool) (*chat.User, error) {
	now := time.Now().UnixMilli()
	var err error
	if online {
		_, err = db.ExecContext(ctx, `UPDATE users SET online = 1, updated_at = ? WHERE id = ?`, now, id)
	} else {
		_, err = db.ExecContext(ctx, `UPDATE users SET online = 0, last_seen = ?, updated_at = ? WHERE id = ?`, now, now, id)
	}
	if err != nil {
		return nil, fmt.Errorf("set online status: %w", err)
	}
	return db.GetUserByID(ctx, id)
}

// ResetPresence marks every user offline. Run at boot: no connection
// survives a restart.
func (db *DB) ResetPresence(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET online = 0, last_seen = ? WHERE online = 1`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UserCount returns the number of profiles.
func (db *DB) UserCount(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
