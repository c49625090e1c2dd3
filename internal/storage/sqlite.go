package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"stockwatch/internal/model"
	"stockwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const itemColumns = `item_id, source, title, url, stock, price, buyout_price, image_url,
	end_time, message_ref, muted, found_at, updated_at, alert_id`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pollers write concurrently; a single connection keeps SQLite from
	// returning SQLITE_BUSY and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateAlert inserts a new alert and populates its ID and CreatedAt.
// It returns ErrDuplicate when the search query is already registered.
func (s *SQLite) CreateAlert(ctx context.Context, a *model.Alert) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (chat_id, search_query, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (search_query) DO NOTHING`,
		a.ChatID, a.SearchQuery, now,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %q: %w", a.SearchQuery, ErrDuplicate)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetAlert returns a single alert by its ID.
func (s *SQLite) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, search_query, created_at FROM alerts WHERE id = ?`, id,
	)
	return scanAlert(row)
}

// GetAlertByQuery returns the alert registered for the given search query.
func (s *SQLite) GetAlertByQuery(ctx context.Context, query string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, search_query, created_at FROM alerts WHERE search_query = ?`, query,
	)
	return scanAlert(row)
}

// ListAlerts returns every registered alert ordered by search query.
func (s *SQLite) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, search_query, created_at FROM alerts ORDER BY search_query`,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// DeleteAlert removes an alert together with its filters.
// Items found by the alert are kept.
func (s *SQLite) DeleteAlert(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM filters WHERE alert_id = ?`, id); err != nil {
		return fmt.Errorf("delete filters: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// CreateFilter inserts a new filter and populates its ID and CreatedAt.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.Filter) error {
	if f.Target == "" {
		f.Target = model.TargetTitle
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filters (alert_id, kind, target, value, inverse, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.AlertID, string(f.Kind), string(f.Target), f.Value, boolToInt(f.Inverse), now,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.MatchCount = 0
	f.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFilter returns a single filter by its ID.
func (s *SQLite) GetFilter(ctx context.Context, id int64) (*model.Filter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, alert_id, kind, target, value, inverse, match_count, created_at
		 FROM filters WHERE id = ?`, id,
	)
	f, err := scanFilter(row)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFilters returns all filters for the given alert.
func (s *SQLite) ListFilters(ctx context.Context, alertID int64) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, kind, target, value, inverse, match_count, created_at
		 FROM filters WHERE alert_id = ? ORDER BY id`, alertID,
	)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// DeleteFilter removes a filter by its ID.
func (s *SQLite) DeleteFilter(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("filter %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementFilterMatches adds one to the match counter of every listed filter.
func (s *SQLite) IncrementFilterMatches(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`UPDATE filters SET match_count = match_count + 1 WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("increment filter matches: %w", err)
	}
	return nil
}

// LookupItem returns the stored state of an item.
func (s *SQLite) LookupItem(ctx context.Context, itemID string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE item_id = ?`, itemID,
	)
	return scanItem(row)
}

// ItemByMessageRef returns the item whose latest notification has the given ref.
func (s *SQLite) ItemByMessageRef(ctx context.Context, ref string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE message_ref = ?`, ref,
	)
	return scanItem(row)
}

// InsertItem stores a newly discovered item and sets FoundAt and UpdatedAt.
// The first writer claims the row; later writers get ErrConflict.
func (s *SQLite) InsertItem(ctx context.Context, item *model.Item) error {
	now := time.Now().UTC()
	ts := now.Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (item_id) DO NOTHING`,
		item.ItemID, item.Source, item.Title, item.URL, item.Stock, item.Price, item.BuyoutPrice,
		item.ImageURL, formatTime(item.EndTime), nullString(item.MessageRef), boolToInt(item.Muted),
		ts, ts, nullInt(item.AlertID),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", item.ItemID, ErrConflict)
	}
	item.FoundAt, _ = time.Parse(timeLayout, ts)
	item.UpdatedAt = item.FoundAt
	return nil
}

// UpdateItem overwrites the observed fields of an item. The write only
// happens while the row still holds prev's stock, prices and mute flag.
// Ownership, FoundAt and MessageRef are never changed here.
func (s *SQLite) UpdateItem(ctx context.Context, item *model.Item, prev *model.Item) error {
	ts := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET title = ?, url = ?, stock = ?, price = ?, buyout_price = ?, image_url = ?,
		        end_time = ?, muted = ?, updated_at = ?
		 WHERE item_id = ? AND stock = ? AND price = ? AND buyout_price = ? AND muted = ?`,
		item.Title, item.URL, item.Stock, item.Price, item.BuyoutPrice, item.ImageURL,
		formatTime(item.EndTime), boolToInt(item.Muted), ts,
		item.ItemID, prev.Stock, prev.Price, prev.BuyoutPrice, boolToInt(prev.Muted),
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", item.ItemID, ErrConflict)
	}
	item.UpdatedAt, _ = time.Parse(timeLayout, ts)
	return nil
}

// TouchItem refreshes the updated_at timestamp of an item.
func (s *SQLite) TouchItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET updated_at = ? WHERE item_id = ?`,
		time.Now().UTC().Format(timeLayout), itemID,
	)
	if err != nil {
		return fmt.Errorf("touch item: %w", err)
	}
	return nil
}

// PostedItems returns the items whose message ref starts with refPrefix.
func (s *SQLite) PostedItems(ctx context.Context, refPrefix string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE message_ref IS NOT NULL AND substr(message_ref, 1, length(?)) = ?
		 ORDER BY updated_at DESC`,
		refPrefix, refPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("query posted items: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// SetMessageRef records the handle of the latest notification for an item.
func (s *SQLite) SetMessageRef(ctx context.Context, itemID, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET message_ref = ? WHERE item_id = ?`, nullString(ref), itemID,
	)
	if err != nil {
		return fmt.Errorf("set message ref: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether an item is suppressed for a chat.
func (s *SQLite) IsBlacklisted(ctx context.Context, itemID string, chatID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blacklist WHERE item_id = ? AND chat_id = ?`, itemID, chatID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return count > 0, nil
}

// AddBlacklist suppresses an item in a chat. Adding an existing entry is a no-op.
func (s *SQLite) AddBlacklist(ctx context.Context, e model.BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blacklist (item_id, chat_id) VALUES (?, ?)`, e.ItemID, e.ChatID,
	)
	if err != nil {
		return fmt.Errorf("add blacklist: %w", err)
	}
	return nil
}

// RemoveBlacklist lifts a suppression.
func (s *SQLite) RemoveBlacklist(ctx context.Context, e model.BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blacklist WHERE item_id = ? AND chat_id = ?`, e.ItemID, e.ChatID,
	)
	if err != nil {
		return fmt.Errorf("remove blacklist: %w", err)
	}
	return nil
}

// Subscribe registers a user for update messages about an item.
func (s *SQLite) Subscribe(ctx context.Context, sub model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (item_id, user_id) VALUES (?, ?)`, sub.ItemID, sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (s *SQLite) Unsubscribe(ctx context.Context, sub model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE item_id = ? AND user_id = ?`, sub.ItemID, sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// IsSubscribed reports whether the subscription exists.
func (s *SQLite) IsSubscribed(ctx context.Context, sub model.Subscription) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE item_id = ? AND user_id = ?`, sub.ItemID, sub.UserID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}

// ListSubscribers returns the users subscribed to an item.
func (s *SQLite) ListSubscribers(ctx context.Context, itemID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM subscriptions WHERE item_id = ? ORDER BY user_id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		users = append(users, uid)
	}
	return users, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var created string
	err := row.Scan(&a.ID, &a.ChatID, &a.SearchQuery, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	return &a, nil
}

func scanFilter(row scannable) (model.Filter, error) {
	var f model.Filter
	var kindStr, targetStr, createdStr string
	var inverse int
	err := row.Scan(&f.ID, &f.AlertID, &kindStr, &targetStr, &f.Value, &inverse, &f.MatchCount, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return f, ErrNotFound
	}
	if err != nil {
		return f, fmt.Errorf("scan filter: %w", err)
	}
	f.Kind = model.FilterKind(kindStr)
	f.Target = model.FilterTarget(targetStr)
	f.Inverse = inverse == 1
	f.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return f, nil
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var muted int
	var endTime, messageRef sql.NullString
	var alertID sql.NullInt64
	var found, updated string
	err := row.Scan(&it.ItemID, &it.Source, &it.Title, &it.URL, &it.Stock, &it.Price, &it.BuyoutPrice,
		&it.ImageURL, &endTime, &messageRef, &muted, &found, &updated, &alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Muted = muted == 1
	it.MessageRef = messageRef.String
	it.AlertID = alertID.Int64
	if endTime.Valid {
		t, _ := time.Parse(timeLayout, endTime.String)
		it.EndTime = &t
	}
	it.FoundAt, _ = time.Parse(timeLayout, found)
	it.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &it, nil
}
