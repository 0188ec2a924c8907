package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"catalog_bot/internal/model"
)

// CreateItem normalizes and validates item, then inserts it. A code that is
// already taken, including by a soft-deleted item, yields ErrDuplicateKey.
// An unknown category is added to the taxonomy in the same transaction.
func (s *SQLite) CreateItem(ctx context.Context, item model.NewItem) (*model.Item, error) {
	item.Normalize()
	if err := validate.Struct(item); err != nil {
		return nil, invalid(err)
	}

	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (code, title, description, year, duration, category,
				payload_ref, thumbnail_ref, payload_kind, added_by, added_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.Code, item.Title, item.Description, item.Year, item.Duration, item.Category,
			item.PayloadRef, item.ThumbnailRef, string(item.PayloadKind), item.AddedBy, now.Unix(),
		)
		if isConstraint(err) {
			return fmt.Errorf("item %s: %w", item.Code, ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		if item.Category != "" {
			if _, err := tx.ExecContext(ctx, insertCategory, item.Category); err != nil {
				return fmt.Errorf("register category: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.Item{
		Code:         item.Code,
		Title:        item.Title,
		Description:  item.Description,
		Year:         item.Year,
		Duration:     item.Duration,
		Category:     item.Category,
		PayloadRef:   item.PayloadRef,
		ThumbnailRef: item.ThumbnailRef,
		PayloadKind:  item.PayloadKind,
		AddedBy:      item.AddedBy,
		AddedAt:      fromUnix(now.Unix()),
		IsActive:     true,
	}, nil
}

// GetItem returns an active item by code.
func (s *SQLite) GetItem(ctx context.Context, code string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE code = ? AND is_active = 1`,
		model.NormalizeCode(code))
	return scanItem(row)
}

// ItemExists reports whether code is taken, whether or not the item is active.
func (s *SQLite) ItemExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM items WHERE code = ?`, model.NormalizeCode(code)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("item exists: %w", err)
	}
	return true, nil
}

// ListItems pages through every item, newest first, including soft-deleted ones.
func (s *SQLite) ListItems(ctx context.Context, limit, offset int) ([]model.Item, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY added_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SearchItems matches query as a substring of the title or code of active
// items, ignoring case in any script. Results are ranked by views, then by insertion order, and total
// counts every match regardless of the page.
func (s *SQLite) SearchItems(ctx context.Context, query string, limit, offset int) ([]model.Item, int, error) {
	pattern := likePattern(query)
	const where = `is_active = 1 AND (casefold(title) LIKE ? ESCAPE '\' OR casefold(code) LIKE ? ESCAPE '\')`

	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE `+where, pattern, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count search: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+where+`
		 ORDER BY views DESC, rowid ASC LIMIT ? OFFSET ?`,
		pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SQLite) ListByCategory(ctx context.Context, category string, limit int) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE is_active = 1 AND casefold(category) LIKE ? ESCAPE '\'
		 ORDER BY views DESC, rowid ASC LIMIT ?`,
		likePattern(category), limit)
	if err != nil {
		return nil, fmt.Errorf("list by category: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

func (s *SQLite) TopItems(ctx context.Context, limit int) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE is_active = 1
		 ORDER BY views DESC, downloads DESC, rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// DeleteItem hides an item from every lookup. Its relations are kept until PurgeItem.
func (s *SQLite) DeleteItem(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_active = 0 WHERE code = ? AND is_active = 1`, model.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeItem removes an item and its parts, favorites and ratings.
func (s *SQLite) PurgeItem(ctx context.Context, code string) error {
	code = model.NormalizeCode(code)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM item_parts WHERE item_code = ?`,
			`DELETE FROM favorites WHERE item_code = ?`,
			`DELETE FROM ratings WHERE item_code = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, code); err != nil {
				return fmt.Errorf("purge relations: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE code = ?`, code)
		if err != nil {
			return fmt.Errorf("purge item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge item: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLite) IncrementViews(ctx context.Context, code string) error {
	return s.incrementItemCounter(ctx, "views", code)
}

func (s *SQLite) IncrementDownloads(ctx context.Context, code string) error {
	return s.incrementItemCounter(ctx, "downloads", code)
}

func (s *SQLite) IncrementLikes(ctx context.Context, code string) error {
	return s.incrementItemCounter(ctx, "likes", code)
}

// incrementItemCounter bumps a counter column in place. A missing code is not an error.
func (s *SQLite) incrementItemCounter(ctx context.Context, column, code string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET `+column+` = `+column+` + 1 WHERE code = ?`, model.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// UpsertRating records value as the user's rating for code, replacing any
// earlier one, and recomputes the item's aggregate in the same transaction.
func (s *SQLite) UpsertRating(ctx context.Context, userID int64, code string, value int) error {
	if value < 1 || value > 5 {
		return fmt.Errorf("%w: rating %d out of range 1..5", ErrInvalidArgument, value)
	}
	code = model.NormalizeCode(code)
	now := s.unix()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, code); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO ratings (user_id, item_code, value, added_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (user_id, item_code) DO UPDATE SET value = excluded.value, added_at = excluded.added_at`,
			userID, code, value, now)
		if err != nil {
			return fmt.Errorf("upsert rating: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE items SET
				rating = (SELECT COALESCE(AVG(value), 0) FROM ratings WHERE item_code = ?),
				rating_count = (SELECT COUNT(*) FROM ratings WHERE item_code = ?)
			 WHERE code = ?`,
			code, code, code)
		if err != nil {
			return fmt.Errorf("recompute rating: %w", err)
		}
		return nil
	})
}

// RatingOf returns the user's current rating for code.
func (s *SQLite) RatingOf(ctx context.Context, userID int64, code string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ratings WHERE user_id = ? AND item_code = ?`,
		userID, model.NormalizeCode(code)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get rating: %w", err)
	}
	return v, nil
}

// AddFavorite marks code as a favorite of the user. Adding twice is a no-op.
func (s *SQLite) AddFavorite(ctx context.Context, userID int64, code string) error {
	code = model.NormalizeCode(code)
	now := s.unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, code); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO favorites (user_id, item_code, added_at) VALUES (?, ?, ?)`,
			userID, code, now)
		if err != nil {
			return fmt.Errorf("add favorite: %w", err)
		}
		return nil
	})
}

func (s *SQLite) RemoveFavorite(ctx context.Context, userID int64, code string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND item_code = ?`, userID, model.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ListFavorites returns the user's active favorites, most recently added first.
func (s *SQLite) ListFavorites(ctx context.Context, userID int64) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("i.", itemColumns)+` FROM favorites f
		 JOIN items i ON i.code = f.item_code
		 WHERE f.user_id = ? AND i.is_active = 1
		 ORDER BY f.added_at DESC, f.rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

func (s *SQLite) IsFavorite(ctx context.Context, userID int64, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM favorites WHERE user_id = ? AND item_code = ?`,
		userID, model.NormalizeCode(code)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is favorite: %w", err)
	}
	return true, nil
}

// AddItemPart attaches a numbered part to an existing item.
// An empty kind means video.
func (s *SQLite) AddItemPart(ctx context.Context, code string, partNumber int, title, payloadRef string, kind model.PayloadKind) (*model.ItemPart, error) {
	if kind == "" {
		kind = model.PayloadVideo
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown payload kind %q", ErrInvalidArgument, kind)
	}
	if partNumber < 1 {
		return nil, fmt.Errorf("%w: part number must be positive", ErrInvalidArgument)
	}
	if payloadRef == "" {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidArgument)
	}
	code = model.NormalizeCode(code)
	now := s.now()

	part := &model.ItemPart{
		ItemCode:    code,
		PartNumber:  partNumber,
		Title:       title,
		PayloadRef:  payloadRef,
		PayloadKind: kind,
		AddedAt:     fromUnix(now.Unix()),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireItem(ctx, tx, code); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO item_parts (item_code, part_number, title, payload_ref, payload_kind, added_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			code, partNumber, title, payloadRef, string(kind), now.Unix())
		if isConstraint(err) {
			return fmt.Errorf("part %d of %s: %w", partNumber, code, ErrDuplicateKey)
		}
		if err != nil {
			return fmt.Errorf("insert part: %w", err)
		}
		part.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get part id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}

// ListParts returns the parts of code ordered by part number.
func (s *SQLite) ListParts(ctx context.Context, code string) ([]model.ItemPart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_code, part_number, title, payload_ref, payload_kind, added_at
		 FROM item_parts WHERE item_code = ? ORDER BY part_number`, model.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var parts []model.ItemPart
	for rows.Next() {
		var p model.ItemPart
		var kind string
		var added int64
		if err := rows.Scan(&p.ID, &p.ItemCode, &p.PartNumber, &p.Title, &p.PayloadRef, &kind, &added); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		p.PayloadKind = model.PayloadKind(kind)
		p.AddedAt = fromUnix(added)
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// requireItem fails with ErrNotFound unless code names an active item.
func requireItem(ctx context.Context, tx *sql.Tx, code string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE code = ? AND is_active = 1`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("item %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	return nil
}
