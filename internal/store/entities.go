package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

// UpsertEntity inserts or updates an entity of any kind.
// This is the single write path used by the sync engine.
func (s *Store) UpsertEntity(ctx context.Context, ent entity.Entity) error {
	switch v := ent.(type) {
	case *entity.Account:
		return s.UpsertAccountContext(ctx, v)
	case *entity.Profile:
		return s.UpsertProfileContext(ctx, v)
	case *entity.Task:
		return s.UpsertTaskContext(ctx, v)
	case *entity.InboundMessage:
		return s.UpsertMessageContext(ctx, v)
	case *entity.TimelineEvent:
		return s.UpsertTimelineEventContext(ctx, v)
	default:
		return fmt.Errorf("unsupported entity type %T", ent)
	}
}

// GetEntity fetches the stored copy of an entity by kind and ID.
// Returns ErrNotFound if no copy has been persisted yet.
func (s *Store) GetEntity(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	switch kind {
	case entity.KindAccount:
		return s.GetAccount(ctx, id)
	case entity.KindProfile:
		return s.GetProfile(ctx, id)
	case entity.KindTask:
		return s.GetTask(ctx, id)
	case entity.KindMessage:
		return s.GetMessage(ctx, id)
	case entity.KindTimelineEvent:
		return s.GetTimelineEvent(ctx, id)
	default:
		return nil, fmt.Errorf("unsupported entity kind %v", kind)
	}
}

// UpsertAccount inserts or updates an account.
func (s *Store) UpsertAccount(a *entity.Account) error {
	return s.UpsertAccountContext(context.Background(), a)
}

// UpsertAccountContext inserts or updates an account with context support.
func (s *Store) UpsertAccountContext(ctx context.Context, a *entity.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}

	query := `
	INSERT INTO accounts (
		id, family_name, owner_email, timezone,
		subscription_tier, subscription_expires_at, consent_authority,
		profile_limit, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		family_name = excluded.family_name,
		owner_email = excluded.owner_email,
		timezone = excluded.timezone,
		subscription_tier = excluded.subscription_tier,
		subscription_expires_at = excluded.subscription_expires_at,
		consent_authority = excluded.consent_authority,
		profile_limit = excluded.profile_limit,
		status = excluded.status,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.FamilyName, a.OwnerEmail, a.Timezone,
		a.SubscriptionTier, timeToNull(a.SubscriptionExpiresAt), boolToInt(a.ConsentAuthority),
		a.ProfileLimit, a.Status,
		a.CreatedAt.Format(time.RFC3339Nano),
		a.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*entity.Account, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, family_name, owner_email, timezone,
		       subscription_tier, subscription_expires_at, consent_authority,
		       profile_limit, status, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// FetchAccounts returns all accounts, ordered by creation time.
func (s *Store) FetchAccounts(ctx context.Context) ([]*entity.Account, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, family_name, owner_email, timezone,
		       subscription_tier, subscription_expires_at, consent_authority,
		       profile_limit, status, created_at, updated_at
		FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*entity.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (*entity.Account, error) {
	var a entity.Account
	var timezone sql.NullString
	var expires sql.NullString
	var authority int
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.FamilyName, &a.OwnerEmail, &timezone,
		&a.SubscriptionTier, &expires, &authority,
		&a.ProfileLimit, &a.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.Timezone = timezone.String
	a.ConsentAuthority = authority != 0
	a.SubscriptionExpiresAt = parseNullTime(expires)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// UpsertProfile inserts or updates a profile.
func (s *Store) UpsertProfile(p *entity.Profile) error {
	return s.UpsertProfileContext(context.Background(), p)
}

// UpsertProfileContext inserts or updates a profile with context support.
func (s *Store) UpsertProfileContext(ctx context.Context, p *entity.Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	query := `
	INSERT INTO profiles (
		id, account_id, name, phone_number, relation, status,
		consent_state, consent_changed_at, can_receive_messages,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account_id = excluded.account_id,
		name = excluded.name,
		phone_number = excluded.phone_number,
		relation = excluded.relation,
		status = excluded.status,
		consent_state = excluded.consent_state,
		consent_changed_at = excluded.consent_changed_at,
		can_receive_messages = excluded.can_receive_messages,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID, p.AccountID, p.Name, p.PhoneNumber, p.Relation, p.Status,
		string(p.ConsentState), p.ConsentChangedAt.Format(time.RFC3339Nano),
		boolToInt(p.CanReceiveMessages),
		p.CreatedAt.Format(time.RFC3339Nano),
		p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile fetches a profile by ID.
func (s *Store) GetProfile(ctx context.Context, id string) (*entity.Profile, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, account_id, name, phone_number, relation, status,
		       consent_state, consent_changed_at, can_receive_messages,
		       created_at, updated_at
		FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// GetProfileByPhone fetches the profile matching a phone number, used to
// attribute inbound messages to a care recipient.
func (s *Store) GetProfileByPhone(ctx context.Context, phone string) (*entity.Profile, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, account_id, name, phone_number, relation, status,
		       consent_state, consent_changed_at, can_receive_messages,
		       created_at, updated_at
		FROM profiles WHERE phone_number = ? ORDER BY created_at LIMIT 1`, phone)
	return scanProfile(row)
}

// FetchProfiles returns all profiles owned by an account.
func (s *Store) FetchProfiles(ctx context.Context, accountID string) ([]*entity.Profile, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, account_id, name, phone_number, relation, status,
		       consent_state, consent_changed_at, can_receive_messages,
		       created_at, updated_at
		FROM profiles WHERE account_id = ? ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*entity.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func scanProfile(row rowScanner) (*entity.Profile, error) {
	var p entity.Profile
	var relation sql.NullString
	var consentState string
	var canReceive int
	var consentChangedAt, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.PhoneNumber, &relation, &p.Status,
		&consentState, &consentChangedAt, &canReceive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p.Relation = relation.String
	p.ConsentState = entity.ConsentState(consentState)
	p.CanReceiveMessages = canReceive != 0
	p.ConsentChangedAt = parseTime(consentChangedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// UpsertTask inserts or updates a task.
func (s *Store) UpsertTask(t *entity.Task) error {
	return s.UpsertTaskContext(context.Background(), t)
}

// UpsertTaskContext inserts or updates a task with context support.
func (s *Store) UpsertTaskContext(ctx context.Context, t *entity.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO tasks (
		id, account_id, profile_id, title, notes, status,
		scheduled_at, completed_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account_id = excluded.account_id,
		profile_id = excluded.profile_id,
		title = excluded.title,
		notes = excluded.notes,
		status = excluded.status,
		scheduled_at = excluded.scheduled_at,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at
	`

	var scheduled interface{}
	if !t.ScheduledAt.IsZero() {
		scheduled = t.ScheduledAt.Format(time.RFC3339Nano)
	}

	_, err := s.conn.ExecContext(ctx, query,
		t.ID, t.AccountID, t.ProfileID, t.Title, t.Notes, t.Status,
		scheduled, timeToNull(t.CompletedAt),
		t.CreatedAt.Format(time.RFC3339Nano),
		t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*entity.Task, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, account_id, profile_id, title, notes, status,
		       scheduled_at, completed_at, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// FetchTasks returns all tasks owned by an account.
func (s *Store) FetchTasks(ctx context.Context, accountID string) ([]*entity.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, account_id, profile_id, title, notes, status,
		       scheduled_at, completed_at, created_at, updated_at
		FROM tasks WHERE account_id = ? ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*entity.Task, error) {
	var t entity.Task
	var notes sql.NullString
	var scheduled, completed sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.AccountID, &t.ProfileID, &t.Title, &notes, &t.Status,
		&scheduled, &completed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Notes = notes.String
	if scheduled.Valid {
		t.ScheduledAt = parseTime(scheduled.String)
	}
	t.CompletedAt = parseNullTime(completed)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// UpsertMessage inserts or updates an inbound message.
func (s *Store) UpsertMessage(m *entity.InboundMessage) error {
	return s.UpsertMessageContext(context.Background(), m)
}

// UpsertMessageContext inserts or updates an inbound message with context support.
func (s *Store) UpsertMessageContext(ctx context.Context, m *entity.InboundMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	query := `
	INSERT INTO messages (
		id, account_id, profile_id, task_id, from_number, body,
		received_at, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account_id = excluded.account_id,
		profile_id = excluded.profile_id,
		task_id = excluded.task_id,
		from_number = excluded.from_number,
		body = excluded.body,
		received_at = excluded.received_at,
		status = excluded.status,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		m.ID, m.AccountID, nullString(m.ProfileID), nullString(m.TaskID),
		m.FromNumber, m.Body,
		m.ReceivedAt.Format(time.RFC3339Nano), m.Status,
		m.CreatedAt.Format(time.RFC3339Nano),
		m.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessage fetches an inbound message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*entity.InboundMessage, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, account_id, profile_id, task_id, from_number, body,
		       received_at, status, created_at, updated_at
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// FetchMessages returns all inbound messages owned by an account,
// oldest first.
func (s *Store) FetchMessages(ctx context.Context, accountID string) ([]*entity.InboundMessage, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, account_id, profile_id, task_id, from_number, body,
		       received_at, status, created_at, updated_at
		FROM messages WHERE account_id = ? ORDER BY received_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*entity.InboundMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*entity.InboundMessage, error) {
	var m entity.InboundMessage
	var profileID, taskID sql.NullString
	var receivedAt, createdAt, updatedAt string

	err := row.Scan(&m.ID, &m.AccountID, &profileID, &taskID, &m.FromNumber, &m.Body,
		&receivedAt, &m.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	m.ProfileID = profileID.String
	m.TaskID = taskID.String
	m.ReceivedAt = parseTime(receivedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// UpsertTimelineEvent inserts or updates a timeline event.
func (s *Store) UpsertTimelineEvent(e *entity.TimelineEvent) error {
	return s.UpsertTimelineEventContext(context.Background(), e)
}

// UpsertTimelineEventContext inserts or updates a timeline event with
// context support. The tagged payload is stored as a JSON column.
func (s *Store) UpsertTimelineEventContext(ctx context.Context, e *entity.TimelineEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid timeline event: %w", err)
	}

	payload, err := marshalTimelinePayload(e)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO timeline_events (
		id, account_id, profile_id, event_kind, occurred_at, payload,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_kind = excluded.event_kind,
		occurred_at = excluded.occurred_at,
		payload = excluded.payload,
		updated_at = excluded.updated_at
	`

	_, err = s.conn.ExecContext(ctx, query,
		e.ID, e.AccountID, e.ProfileID, string(e.EventKind),
		e.OccurredAt.Format(time.RFC3339Nano), payload,
		e.CreatedAt.Format(time.RFC3339Nano),
		e.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert timeline event: %w", err)
	}
	return nil
}

// GetTimelineEvent fetches a timeline event by ID.
func (s *Store) GetTimelineEvent(ctx context.Context, id string) (*entity.TimelineEvent, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, account_id, profile_id, event_kind, occurred_at, payload,
		       created_at, updated_at
		FROM timeline_events WHERE id = ?`, id)
	return scanTimelineEvent(row)
}

// FetchTimeline returns all timeline events for a profile, oldest first.
func (s *Store) FetchTimeline(ctx context.Context, profileID string) ([]*entity.TimelineEvent, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, account_id, profile_id, event_kind, occurred_at, payload,
		       created_at, updated_at
		FROM timeline_events WHERE profile_id = ? ORDER BY occurred_at`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline events: %w", err)
	}
	defer rows.Close()

	var events []*entity.TimelineEvent
	for rows.Next() {
		e, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanTimelineEvent(row rowScanner) (*entity.TimelineEvent, error) {
	var e entity.TimelineEvent
	var eventKind, payload string
	var occurredAt, createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.AccountID, &e.ProfileID, &eventKind, &occurredAt,
		&payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timeline event: %w", err)
	}

	e.EventKind = entity.TimelineEventKind(eventKind)
	e.OccurredAt = parseTime(occurredAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)

	if err := unmarshalTimelinePayload(&e, payload); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalTimelinePayload(e *entity.TimelineEvent) (string, error) {
	var v interface{}
	switch e.EventKind {
	case entity.TimelineTaskCompleted:
		v = e.Task
	case entity.TimelineProfileCreated:
		v = e.Profile
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal timeline payload: %w", err)
	}
	return string(data), nil
}

func unmarshalTimelinePayload(e *entity.TimelineEvent, payload string) error {
	switch e.EventKind {
	case entity.TimelineTaskCompleted:
		var snap entity.TaskSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return fmt.Errorf("failed to parse task snapshot: %w", err)
		}
		e.Task = &snap
	case entity.TimelineProfileCreated:
		var snap entity.ProfileSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return fmt.Errorf("failed to parse profile snapshot: %w", err)
		}
		e.Profile = &snap
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeToNull(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
