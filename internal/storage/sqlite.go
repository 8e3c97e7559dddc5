package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS healthchecks (
    id        INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    status    INTEGER NOT NULL CHECK(status IN (0, 1)),
    PRIMARY KEY (id, timestamp)
);

CREATE TABLE IF NOT EXISTS history (
    id        INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    uptime    INTEGER NOT NULL,
    PRIMARY KEY (id, timestamp)
);
`

var (
	// ErrDuplicateKey is returned when a record for the same service and timestamp already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when a query matches no record.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps failures of the underlying storage engine.
	ErrUnavailable = errors.New("storage unavailable")
)

// Reader is the read side of the store, used while the store lock is held.
type Reader interface {
	LatestStatus(ctx context.Context, id uint64) (bool, error)
	FetchHistory(ctx context.Context, id uint64, days int, ref int64) ([]HistoryRecord, error)
}

// DB wraps a SQLite database. Every operation is serialized by a single
// mutex shared by the scheduler and snapshot refreshes.
type DB struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and matches the
	// single-owner model of the store.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// View runs fn with the store lock held for its whole duration.
func (d *DB) View(fn func(Reader) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(reader{d})
}

// InsertHealthcheck appends one check result. ts must be aligned to a minute.
func (d *DB) InsertHealthcheck(ctx context.Context, id uint64, ts int64, ok bool) error {
	if ts%MinuteSeconds != 0 {
		return fmt.Errorf("inserting healthcheck for service %d: timestamp %d is not minute aligned", id, ts)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO healthchecks (id, timestamp, status) VALUES (?, ?, ?)`,
		int64(id), ts, boolToInt(ok),
	)
	if err != nil {
		return classify(fmt.Sprintf("inserting healthcheck for service %d at %d", id, ts), err)
	}
	return nil
}

// AggregateDay sums the successes of service id over the day containing ref
// and stores the result as that day's history record.
func (d *DB) AggregateDay(ctx context.Context, id uint64, ref int64) (int64, error) {
	start := DayStart(ref)
	end := start + DaySeconds

	d.mu.Lock()
	defer d.mu.Unlock()

	var uptime int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(status), 0) FROM healthchecks WHERE id = ? AND timestamp >= ? AND timestamp < ?`,
		int64(id), start, end,
	).Scan(&uptime)
	if err != nil {
		return 0, classify(fmt.Sprintf("summing day %d for service %d", start, id), err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO history (id, timestamp, uptime) VALUES (?, ?, ?)`,
		int64(id), start, uptime,
	)
	if err != nil {
		return 0, classify(fmt.Sprintf("inserting history for service %d day %d", id, start), err)
	}
	return uptime, nil
}

// LatestStatus returns the result of the most recent check of service id.
func (d *DB) LatestStatus(ctx context.Context, id uint64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latestStatus(ctx, id)
}

// FetchHistory returns up to days history records of service id from the
// days before the one containing ref, oldest first.
func (d *DB) FetchHistory(ctx context.Context, id uint64, days int, ref int64) ([]HistoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchHistory(ctx, id, days, ref)
}

func (d *DB) latestStatus(ctx context.Context, id uint64) (bool, error) {
	var status int64
	err := d.db.QueryRowContext(ctx,
		`SELECT status FROM healthchecks WHERE id = ? ORDER BY timestamp DESC LIMIT 1`,
		int64(id),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("latest healthcheck for service %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, classify(fmt.Sprintf("querying latest healthcheck for service %d", id), err)
	}
	return status != 0, nil
}

func (d *DB) fetchHistory(ctx context.Context, id uint64, days int, ref int64) ([]HistoryRecord, error) {
	if days <= 0 {
		return []HistoryRecord{}, nil
	}
	today := DayStart(ref)

	rows, err := d.db.QueryContext(ctx,
		`SELECT timestamp, uptime FROM history WHERE id = ? AND timestamp >= ? AND timestamp < ? ORDER BY timestamp DESC LIMIT ?`,
		int64(id), today-int64(days)*DaySeconds, today, days,
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("querying history for service %d", id), err)
	}
	defer rows.Close()

	var newestFirst []HistoryRecord
	for rows.Next() {
		r := HistoryRecord{ServiceID: id}
		if err := rows.Scan(&r.Day, &r.Uptime); err != nil {
			return nil, classify("scanning history row", err)
		}
		newestFirst = append(newestFirst, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating history rows", err)
	}

	records := make([]HistoryRecord, len(newestFirst))
	for i, r := range newestFirst {
		records[len(newestFirst)-1-i] = r
	}
	return records, nil
}

// reader exposes the unlocked queries to View callbacks.
type reader struct {
	d *DB
}

func (r reader) LatestStatus(ctx context.Context, id uint64) (bool, error) {
	return r.d.latestStatus(ctx, id)
}

func (r reader) FetchHistory(ctx context.Context, id uint64, days int, ref int64) ([]HistoryRecord, error) {
	return r.d.fetchHistory(ctx, id, days, ref)
}

// classify maps a driver error onto the package's error taxonomy.
func classify(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
