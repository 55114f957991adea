package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

// Well-known sync_state keys.
const (
	keyLastSyncedAt = "last_synced_at"
)

// SetLastSyncedAt records the completion time of the last successful
// sync cycle under a well-known key.
func (s *Store) SetLastSyncedAt(ctx context.Context, t time.Time) error {
	return s.setState(ctx, keyLastSyncedAt, t.Format(time.RFC3339Nano))
}

// LastSyncedAt returns the completion time of the last successful sync
// cycle, or the zero time if no cycle has completed yet.
func (s *Store) LastSyncedAt(ctx context.Context) (time.Time, error) {
	v, err := s.getState(ctx, keyLastSyncedAt)
	if err == ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(v), nil
}

func (s *Store) setState(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query, key, value,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set sync state %s: %w", key, err)
	}
	return nil
}

func (s *Store) getState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync state %s: %w", key, err)
	}
	return value, nil
}

// MarkTimelineRecorded durably records that the one-time profile-created
// timeline event exists for this profile. Idempotent.
func (s *Store) MarkTimelineRecorded(ctx context.Context, profileID string) error {
	query := `
	INSERT INTO timeline_markers (profile_id, recorded_at) VALUES (?, ?)
	ON CONFLICT(profile_id) DO NOTHING
	`
	_, err := s.conn.ExecContext(ctx, query, profileID,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to mark timeline recorded for %s: %w", profileID, err)
	}
	return nil
}

// TimelineRecorded reports whether the profile-created timeline event has
// already been recorded for this profile. The marker survives restarts, so
// replayed historical inbound messages cannot create duplicates.
func (s *Store) TimelineRecorded(ctx context.Context, profileID string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM timeline_markers WHERE profile_id = ?`, profileID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check timeline marker for %s: %w", profileID, err)
	}
	return true, nil
}

// ConsentTransition is one durably recorded consent state change.
type ConsentTransition struct {
	Seq        int64
	ProfileID  string
	FromState  entity.ConsentState
	ToState    entity.ConsentState
	Method     string // keyword, dispatch, manual, rollback
	Keyword    string
	OccurredAt time.Time
}

// RecordConsentTransition appends a consent transition to the audit log.
// Every state-changing consent transition is recorded here before it is
// treated as complete.
func (s *Store) RecordConsentTransition(ctx context.Context, tr ConsentTransition) error {
	query := `
	INSERT INTO consent_log (profile_id, from_state, to_state, method, keyword, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		tr.ProfileID, string(tr.FromState), string(tr.ToState),
		tr.Method, nullString(tr.Keyword),
		tr.OccurredAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record consent transition for %s: %w", tr.ProfileID, err)
	}
	return nil
}

// ConsentHistory returns all recorded transitions for a profile in order.
func (s *Store) ConsentHistory(ctx context.Context, profileID string) ([]ConsentTransition, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, profile_id, from_state, to_state, method, keyword, occurred_at
		FROM consent_log WHERE profile_id = ? ORDER BY seq`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consent log: %w", err)
	}
	defer rows.Close()

	var history []ConsentTransition
	for rows.Next() {
		var tr ConsentTransition
		var from, to string
		var keyword sql.NullString
		var occurredAt string
		if err := rows.Scan(&tr.Seq, &tr.ProfileID, &from, &to, &tr.Method,
			&keyword, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan consent transition: %w", err)
		}
		tr.FromState = entity.ConsentState(from)
		tr.ToState = entity.ConsentState(to)
		tr.Keyword = keyword.String
		tr.OccurredAt = parseTime(occurredAt)
		history = append(history, tr)
	}
	return history, rows.Err()
}

// Stats is a snapshot of store contents for status surfaces.
type Stats struct {
	Accounts       int
	Profiles       int
	Tasks          int
	Messages       int
	TimelineEvents int
	ByConsentState map[entity.ConsentState]int
	LastSyncedAt   time.Time
}

// GetStats computes a stats snapshot for the status CLI and dashboard.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByConsentState: make(map[entity.ConsentState]int)}

	counts := map[string]*int{
		"accounts":        &stats.Accounts,
		"profiles":        &stats.Profiles,
		"tasks":           &stats.Tasks,
		"messages":        &stats.Messages,
		"timeline_events": &stats.TimelineEvents,
	}
	for table, dst := range counts {
		if err := s.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT consent_state, COUNT(*) FROM profiles GROUP BY consent_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count consent states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan consent count: %w", err)
		}
		stats.ByConsentState[entity.ConsentState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	last, err := s.LastSyncedAt(ctx)
	if err != nil {
		return nil, err
	}
	stats.LastSyncedAt = last

	return stats, nil
}
