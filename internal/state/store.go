// Package state persists per-source change-tracking state and per-interval
// delivery records in a local sqlite database.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStateCorrupted marks persisted state that fails shape validation on
// read. Callers must abort the run rather than risk re-sending already-seen
// content or silently dropping new content.
var ErrStateCorrupted = errors.New("state corrupted")

// IntervalStatus is the delivery status of one digest interval.
type IntervalStatus string

const (
	StatusPending   IntervalStatus = "pending"
	StatusDelivered IntervalStatus = "delivered"
)

// SourceState is the tracked state for one source: the last version marker
// and a bounded window of recently seen content fingerprints, oldest first.
type SourceState struct {
	SourceID      string
	VersionMarker string
	Fingerprints  []string
	UpdatedAt     time.Time
}

// Seen reports whether fp is in the recent fingerprint window.
func (s *SourceState) Seen(fp string) bool {
	if s == nil {
		return false
	}
	for _, f := range s.Fingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// Append adds fingerprints to the window, evicting the oldest entries so the
// window never exceeds limit. Already-present fingerprints are skipped.
func (s *SourceState) Append(fps []string, limit int) {
	for _, fp := range fps {
		if s.Seen(fp) {
			continue
		}
		s.Fingerprints = append(s.Fingerprints, fp)
	}
	if limit > 0 && len(s.Fingerprints) > limit {
		s.Fingerprints = s.Fingerprints[len(s.Fingerprints)-limit:]
	}
}

// IntervalRecord is one digest interval's delivery record.
type IntervalRecord struct {
	IntervalID  string
	Status      IntervalStatus
	DeliveredAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and applies
// schema migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetSourceState returns the tracked state for one source, or nil if the
// source has never completed a successful run.
func (s *Store) GetSourceState(ctx context.Context, sourceID string) (*SourceState, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if strings.TrimSpace(sourceID) == "" {
		return nil, errors.New("source id is required")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, version_marker, fingerprints, updated_at
		FROM source_state
		WHERE source_id = ?
	`, sourceID)

	var (
		st              SourceState
		fpJSON, updated string
	)
	err := row.Scan(&st.SourceID, &st.VersionMarker, &fpJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read source state: %w", err)
	}

	if err := json.Unmarshal([]byte(fpJSON), &st.Fingerprints); err != nil {
		return nil, fmt.Errorf("%w: source %s: fingerprints: %v", ErrStateCorrupted, sourceID, err)
	}
	for _, fp := range st.Fingerprints {
		if strings.TrimSpace(fp) == "" {
			return nil, fmt.Errorf("%w: source %s: empty fingerprint", ErrStateCorrupted, sourceID)
		}
	}

	st.UpdatedAt, err = parseTime(updated)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: updated_at: %v", ErrStateCorrupted, sourceID, err)
	}

	return &st, nil
}

// AllSourceStates returns every tracked source state, ordered by source id.
func (s *Store) AllSourceStates(ctx context.Context) ([]SourceState, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, version_marker, fingerprints, updated_at
		FROM source_state
		ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("read source states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []SourceState
	for rows.Next() {
		var (
			st              SourceState
			fpJSON, updated string
		)
		if err := rows.Scan(&st.SourceID, &st.VersionMarker, &fpJSON, &updated); err != nil {
			return nil, fmt.Errorf("scan source state: %w", err)
		}
		if err := json.Unmarshal([]byte(fpJSON), &st.Fingerprints); err != nil {
			return nil, fmt.Errorf("%w: source %s: fingerprints: %v", ErrStateCorrupted, st.SourceID, err)
		}
		st.UpdatedAt, err = parseTime(updated)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: updated_at: %v", ErrStateCorrupted, st.SourceID, err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source states: %w", err)
	}

	return states, nil
}

// IntervalStatusFor returns the delivery status of an interval. An interval
// with no record has never been attempted and counts as pending.
func (s *Store) IntervalStatusFor(ctx context.Context, intervalID string) (IntervalStatus, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store is not initialized")
	}
	if strings.TrimSpace(intervalID) == "" {
		return "", errors.New("interval id is required")
	}

	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM intervals WHERE interval_id = ?", intervalID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("read interval: %w", err)
	}

	switch IntervalStatus(status) {
	case StatusPending, StatusDelivered:
		return IntervalStatus(status), nil
	default:
		return "", fmt.Errorf("%w: interval %s: unknown status %q", ErrStateCorrupted, intervalID, status)
	}
}

// EnsureInterval records an interval as pending if no record exists yet.
// An already-delivered interval is left untouched.
func (s *Store) EnsureInterval(ctx context.Context, intervalID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(intervalID) == "" {
		return errors.New("interval id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervals (interval_id, status) VALUES (?, 'pending')
		ON CONFLICT(interval_id) DO NOTHING
	`, intervalID)
	if err != nil {
		return fmt.Errorf("record interval: %w", err)
	}
	return nil
}

// RecentIntervals returns up to limit interval records, newest first.
func (s *Store) RecentIntervals(ctx context.Context, limit int) ([]IntervalRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT interval_id, status, delivered_at
		FROM intervals
		ORDER BY interval_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []IntervalRecord
	for rows.Next() {
		var (
			rec       IntervalRecord
			status    string
			delivered sql.NullString
		)
		if err := rows.Scan(&rec.IntervalID, &status, &delivered); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		rec.Status = IntervalStatus(status)
		if delivered.Valid {
			rec.DeliveredAt, err = parseTime(delivered.String)
			if err != nil {
				return nil, fmt.Errorf("%w: interval %s: delivered_at: %v", ErrStateCorrupted, rec.IntervalID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intervals: %w", err)
	}

	return records, nil
}

// CommitRun atomically persists the updated state for every source that
// succeeded this run and marks the interval delivered. Either everything
// commits or nothing does; a failure leaves the database exactly as before.
func (s *Store) CommitRun(ctx context.Context, intervalID string, deliveredAt time.Time, states []SourceState) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(intervalID) == "" {
		return errors.New("interval id is required")
	}
	if deliveredAt.IsZero() {
		return errors.New("delivered_at is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}

	for _, st := range states {
		if strings.TrimSpace(st.SourceID) == "" {
			_ = tx.Rollback()
			return errors.New("source id is required")
		}
		fps := st.Fingerprints
		if fps == nil {
			fps = []string{}
		}
		fpJSON, err := json.Marshal(fps)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode fingerprints: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_state (source_id, version_marker, fingerprints, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(source_id) DO UPDATE SET
				version_marker = excluded.version_marker,
				fingerprints = excluded.fingerprints,
				updated_at = excluded.updated_at
		`, st.SourceID, st.VersionMarker, string(fpJSON), formatTime(deliveredAt))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write source state: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intervals (interval_id, status, delivered_at)
		VALUES (?, 'delivered', ?)
		ON CONFLICT(interval_id) DO UPDATE SET
			status = 'delivered',
			delivered_at = excluded.delivered_at
	`, intervalID, formatTime(deliveredAt))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mark interval delivered: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
