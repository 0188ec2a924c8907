package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog_bot/internal/model"
)

// Well-known setting keys.
const (
	SettingWelcomeMessage = "welcome_message"
)

// Statistics returns a snapshot of the catalog. "Today" starts at local
// midnight of now.
func (s *SQLite) Statistics(ctx context.Context, now time.Time) (model.Statistics, error) {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Unix()

	var st model.Statistics
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_blocked = 0),
			(SELECT COUNT(*) FROM users WHERE is_blocked = 1),
			(SELECT COUNT(*) FROM users WHERE is_premium = 1),
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM items WHERE is_active = 1),
			(SELECT COALESCE(SUM(downloads), 0) FROM items),
			(SELECT COALESCE(SUM(views), 0) FROM items),
			(SELECT COUNT(*) FROM channels WHERE is_mandatory = 1 AND is_active = 1),
			(SELECT COUNT(*) FROM users WHERE joined_at >= ?),
			(SELECT COUNT(*) FROM users WHERE last_active_at >= ?)`,
		midnight, midnight,
	).Scan(
		&st.TotalUsers, &st.ActiveUsers, &st.BlockedUsers, &st.PremiumUsers,
		&st.TotalItems, &st.ActiveItems, &st.TotalDownloads, &st.TotalViews,
		&st.MandatoryChannels, &st.TodayNewUsers, &st.TodayActiveUsers,
	)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	return st, nil
}

// GetSetting returns the value stored under key, or def when unset.
func (s *SQLite) GetSetting(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

func (s *SQLite) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

const insertCategory = `INSERT OR IGNORE INTO categories (name, position)
	VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM categories))`

// ListCategories returns the taxonomy in display order.
func (s *SQLite) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AddCategory appends name to the taxonomy. It reports false when a category
// with the same name, ignoring case, already exists.
func (s *SQLite) AddCategory(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("%w: empty category", ErrInvalidArgument)
	}
	res, err := s.db.ExecContext(ctx, insertCategory, name)
	if err != nil {
		return false, fmt.Errorf("add category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add category: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) RemoveCategory(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("remove category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove category: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
