package storage

import (
	"context"
	"fmt"

	"catalog_bot/internal/model"
)

// AddChannel validates and inserts ch, filling in its ID and AddedAt.
func (s *SQLite) AddChannel(ctx context.Context, ch *model.Channel) error {
	if err := validate.Struct(ch); err != nil {
		return invalid(err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (name, url, kind, is_mandatory, is_active, added_at, added_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.Name, ch.URL, string(ch.Kind), boolToInt(ch.IsMandatory), boolToInt(ch.IsActive),
		now.Unix(), ch.AddedBy,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	ch.ID = id
	ch.AddedAt = fromUnix(now.Unix())
	return nil
}

func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChannels returns active channels in insertion order. With mandatoryOnly
// set, only channels that gate access are returned.
func (s *SQLite) ListChannels(ctx context.Context, mandatoryOnly bool) ([]model.Channel, error) {
	q := `SELECT ` + channelColumns + ` FROM channels WHERE is_active = 1`
	if mandatoryOnly {
		q += ` AND is_mandatory = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}
