package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	_ "modernc.org/sqlite"
)

const (
	// timestamps are stored as fixed-width UTC text so that string order is
	// chronological order
	timestampLayout = "2006-01-02T15:04:05.000000000Z"

	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

var (
	ErrMissingEventFields = errors.New("missing required fields: eventType and shop are required")

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)
)

// Database manages analytics event persistence using SQLite.
type Database struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDatabase initializes a SQLite database at the given path and creates the schema.
func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	d := &Database{db: db}

	// Create schema if needed
	if err := d.createSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close sqlite database after createSchema error")
		}
		return nil, err
	}

	logger.Info().Str("path", dbPath).Msg("analytics events database initialized")
	return d, nil
}

// createSchema creates the analytics_events table if it doesn't exist.
func (d *Database) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		product_id TEXT,
		product_title TEXT,
		product_handle TEXT,
		timestamp TEXT NOT NULL,
		shop TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_shop_ts ON analytics_events (shop, timestamp);
	CREATE INDEX IF NOT EXISTS idx_analytics_events_type_ts ON analytics_events (event_type, timestamp);
	`
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create analytics_events table: %w", err)
	}
	return nil
}

// InsertEvent stores ev and returns its ID. A zero timestamp is replaced by
// the current time.
func (d *Database) InsertEvent(ev models.AnalyticsEvent) (int64, error) {
	if ev.EventType == "" || ev.Shop == "" {
		return 0, ErrMissingEventFields
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sqlStr, args, err := psql.Insert("analytics_events").
		Columns("event_type", "product_id", "product_title", "product_handle", "timestamp", "shop", "created_at").
		Values(ev.EventType, nullable(ev.ProductID), nullable(ev.ProductTitle), nullable(ev.ProductHandle),
			formatTimestamp(ev.Timestamp), ev.Shop, formatTimestamp(time.Now())).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for InsertEvent: %w", err)
	}

	res, err := d.db.Exec(sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analytics event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read analytics event id: %w", err)
	}

	logger.Debug().Int64("id", id).Str("event_type", ev.EventType).Str("shop", ev.Shop).Msg("analytics event stored")
	return id, nil
}

// ListEvents returns events matching filter, newest first.
func (d *Database) ListEvents(filter models.EventFilter) ([]models.AnalyticsEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := psql.Select("id", "event_type", "product_id", "product_title", "product_handle", "timestamp", "shop").
		From("analytics_events").
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if filter.EventType != "" {
		q = q.Where(sq.Eq{"event_type": filter.EventType})
	}
	if filter.Shop != "" {
		q = q.Where(sq.Eq{"shop": filter.Shop})
	}
	if filter.Start != nil {
		q = q.Where(sq.GtOrEq{"timestamp": formatTimestamp(*filter.Start)})
	}
	if filter.End != nil {
		q = q.Where(sq.LtOrEq{"timestamp": formatTimestamp(*filter.End)})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListEvents: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	events := []models.AnalyticsEvent{}
	for rows.Next() {
		var (
			ev                    models.AnalyticsEvent
			productID, title, hdl sql.NullString
			ts                    string
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &productID, &title, &hdl, &ts, &ev.Shop); err != nil {
			return nil, fmt.Errorf("failed to scan analytics event: %w", err)
		}
		ev.ProductID = fromNullable(productID)
		ev.ProductTitle = fromNullable(title)
		ev.ProductHandle = fromNullable(hdl)
		if ev.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analytics events: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
