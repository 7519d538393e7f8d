// Package store persists samples to the SQLite samples table.
//
// One WriteBatch is one transaction: every sample of a poll cycle becomes
// visible together or not at all. Lock contention is reported as
// ErrContention so the caller can retry; the store itself never retries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/database"
	"github.com/nerrad567/lakeshore-logger/migrations"
)

// TimestampLayout is ISO-8601 with microseconds and an explicit offset.
// Fixed width keeps lexical order equal to time order for UTC timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// sortableTimestamp widens the shorter ISO forms of earlier loggers to
// TimestampLayout width so range bounds compare by instant. Whole-second
// rows, with or without a UTC offset, and offset-less microsecond rows are
// covered; rows with other offsets compare as stored.
const sortableTimestamp = `CASE length(timestamp)
	WHEN 19 THEN timestamp || '.000000+00:00'
	WHEN 25 THEN substr(timestamp, 1, 19) || '.000000' || substr(timestamp, 20)
	WHEN 26 THEN timestamp || '+00:00'
	ELSE timestamp END`

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout and the offset-less ISO form
// written by earlier loggers (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("store: unrecognised timestamp %q", s)
}

// Sample is one persisted row. Value and Extra are nullable.
type Sample struct {
	ID        int64
	Timestamp string
	Source    string
	Channel   string
	Value     *float64
	Extra     *string
}

// Range filters Query. Zero times and empty Source mean unbounded; Limit 0 means all.
type Range struct {
	Start  time.Time
	End    time.Time
	Source string
	Limit  int
}

const insertSQL = "INSERT INTO samples (timestamp, source, channel, value, extra) VALUES (?, ?, ?, ?, ?)"

// SQLiteStore writes and reads samples.
type SQLiteStore struct {
	db *database.DB

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// embedded schema. Parent directories are created.
func Open(ctx context.Context, cfg database.Config) (*SQLiteStore, error) {
	cfg.ReadOnly = false
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return New(db), nil
}

// OpenReader opens an existing database for queries only.
func OpenReader(cfg database.Config) (*SQLiteStore, error) {
	cfg.ReadOnly = true
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already open database. The schema is assumed present.
func New(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db, closed: make(chan struct{})}
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.db.Path()
}

// HealthCheck verifies the database answers.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// WriteBatch inserts all samples in one transaction.
//
// On any error the transaction is rolled back and no sample is visible.
// Lock failures, at BEGIN or COMMIT, are wrapped with ErrContention.
func (s *SQLiteStore) WriteBatch(ctx context.Context, samples []Sample) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.db.ReadOnly() {
		return ErrReadOnly
	}
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("beginning batch", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return classify("preparing insert", err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx,
			smp.Timestamp,
			smp.Source,
			smp.Channel,
			nullFloat(smp.Value),
			nullString(smp.Extra),
		); err != nil {
			return classify(fmt.Sprintf("inserting %s/%s", smp.Source, smp.Channel), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("committing batch", err)
	}
	return nil
}

// Query returns samples in r ordered by timestamp, then insertion order.
func (s *SQLiteStore) Query(ctx context.Context, r Range) ([]Sample, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	query := "SELECT id, timestamp, source, channel, value, extra FROM samples"
	var clauses []string
	var args []any

	// The raw comparisons keep the timestamp index usable; every stored
	// form of an instant sorts at or after its whole-second prefix.
	if !r.Start.IsZero() {
		start := FormatTimestamp(r.Start)
		clauses = append(clauses, "timestamp >= ?", sortableTimestamp+" >= ?")
		args = append(args, start[:len("2006-01-02T15:04:05")], start)
	}
	if !r.End.IsZero() {
		clauses = append(clauses, sortableTimestamp+" <= ?")
		args = append(args, FormatTimestamp(r.End))
	}
	if r.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, r.Source)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp, id"
	if r.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, r.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("querying samples", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		var value sql.NullFloat64
		var extra sql.NullString
		if err := rows.Scan(&smp.ID, &smp.Timestamp, &smp.Source, &smp.Channel, &value, &extra); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		if value.Valid {
			v := value.Float64
			smp.Value = &v
		}
		if extra.Valid {
			e := extra.String
			smp.Extra = &e
		}
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating samples", err)
	}
	return out, nil
}

// Stats returns connection pool statistics.
func (s *SQLiteStore) Stats() sql.DBStats {
	return s.db.Stats()
}

// Count returns the number of stored samples.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&n); err != nil {
		return 0, classify("counting samples", err)
	}
	return n, nil
}

// Close closes the database once. Later calls return the first result.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *SQLiteStore) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
