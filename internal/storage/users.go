package storage

import (
	"context"
	"fmt"

	"catalog_bot/internal/model"
)

// UpsertUser registers a user on first contact. Existing rows are left as is.
func (s *SQLite) UpsertUser(ctx context.Context, id int64, displayName, handle string) error {
	now := s.unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, handle, joined_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, displayName, handle, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLite) TouchUserActivity(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at = ? WHERE id = ?`, s.unix(), id)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *SQLite) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	return s.setUserFlag(ctx, "is_blocked", id, blocked)
}

func (s *SQLite) SetAdmin(ctx context.Context, id int64, admin bool) error {
	return s.setUserFlag(ctx, "is_admin", id, admin)
}

// setUserFlag writes a boolean column. column is always a literal from this file.
func (s *SQLite) setUserFlag(ctx context.Context, column string, id int64, v bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+column+` = ? WHERE id = ?`, boolToInt(v), id)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) IncrementUserDownloads(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_downloads = total_downloads + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment user downloads: %w", err)
	}
	return nil
}

// SearchUsers matches query against the handle and display name, ignoring
// case. A leading "@" is ignored.
func (s *SQLite) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	if len(query) > 0 && query[0] == '@' {
		query = query[1:]
	}
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE casefold(handle) LIKE ? ESCAPE '\' OR casefold(display_name) LIKE ? ESCAPE '\'
		 ORDER BY last_active_at DESC, id
		 LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanUsers(rows)
}

// ListUsers returns the most recently joined users first.
func (s *SQLite) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY joined_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanUsers(rows)
}

func (s *SQLite) ListAdmins(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_admin = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanUsers(rows)
}

// ListRecipients returns the ids of every user who is not blocked.
func (s *SQLite) ListRecipients(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE is_blocked = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
