package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"catalog_bot/internal/model"
	"catalog_bot/migrations"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SQLite's LIKE only ignores ASCII case, so searches compare casefold()ed
// text against a folded pattern.
func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("casefold", 1, casefold); err != nil {
		panic(fmt.Sprintf("register casefold: %v", err))
	}
}

func casefold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return model.Fold(v), nil
	case []byte:
		return model.Fold(string(v)), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("casefold: unsupported argument %T", v)
	}
}

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at path and runs pending migrations.
// File databases get WAL, a busy timeout and immediate write transactions on
// every pooled connection; ":memory:" is pinned to a single connection so all
// callers share the same database.
func NewSQLite(path string) (*SQLite, error) {
	memory := isMemory(path)

	db, err := sql.Open("sqlite", dsnFor(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if memory {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func dsnFor(path string) string {
	if isMemory(path) {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func (s *SQLite) unix() int64 {
	return s.now().Unix()
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}

// likePattern builds a case-folded substring pattern for use against
// casefold(column).
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(model.Fold(strings.TrimSpace(q))) + "%"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// prefixed qualifies every column in a comma-separated list with p.
func prefixed(p, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

const userColumns = `id, display_name, handle, language, joined_at, last_active_at,
	total_downloads, is_blocked, is_admin, is_premium`

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var joined, active int64
	var blocked, admin, premium int
	err := row.Scan(&u.ID, &u.DisplayName, &u.Handle, &u.Language, &joined, &active,
		&u.TotalDownloads, &blocked, &admin, &premium)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.JoinedAt = fromUnix(joined)
	u.LastActiveAt = fromUnix(active)
	u.IsBlocked = blocked == 1
	u.IsAdmin = admin == 1
	u.IsPremium = premium == 1
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]model.User, error) {
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const itemColumns = `code, title, description, year, duration, category, payload_ref, thumbnail_ref,
	payload_kind, added_by, added_at, views, downloads, likes, rating, rating_count, is_active`

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var kind string
	var added int64
	var active int
	err := row.Scan(&it.Code, &it.Title, &it.Description, &it.Year, &it.Duration, &it.Category,
		&it.PayloadRef, &it.ThumbnailRef, &kind, &it.AddedBy, &added,
		&it.Views, &it.Downloads, &it.Likes, &it.Rating, &it.RatingCount, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.PayloadKind = model.PayloadKind(kind)
	it.AddedAt = fromUnix(added)
	it.IsActive = active == 1
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

const channelColumns = `id, name, url, kind, is_mandatory, is_active, added_at, added_by`

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var kind string
	var mandatory, active int
	var added int64
	err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &kind, &mandatory, &active, &added, &ch.AddedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Kind = model.ChannelKind(kind)
	ch.IsMandatory = mandatory == 1
	ch.IsActive = active == 1
	ch.AddedAt = fromUnix(added)
	return &ch, nil
}
