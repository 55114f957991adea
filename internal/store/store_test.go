package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

// setupStore creates a store on a temp database with the schema applied.
func setupStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "kindred.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	// Seed the parent accounts referenced by the fixtures so the
	// foreign-key constraints on profiles/tasks/messages/timeline hold.
	for _, id := range []string{"acct-1", "acct-2"} {
		a := &entity.Account{
			ID:         id,
			FamilyName: "Rivera",
			OwnerEmail: "ana@example.com",
		}
		a.SetDefaults()
		if err := s.UpsertAccount(a); err != nil {
			t.Fatalf("UpsertAccount(%s) failed: %v", id, err)
		}
	}
	return s
}

func storeProfile(id string) *entity.Profile {
	p := &entity.Profile{
		ID:          id,
		AccountID:   "acct-1",
		Name:        "Grandma Rose",
		PhoneNumber: "+1555123" + id[len(id)-4:],
		Relation:    "grandparent",
	}
	p.SetDefaults()
	return p
}

// TestProfileRoundTrip verifies upsert, lookup by ID and by phone, and
// update-in-place.
func TestProfileRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p := storeProfile("prof-0001")
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("UpsertProfile() failed: %v", err)
	}

	got, err := s.GetProfile(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("GetProfile() failed: %v", err)
	}
	if got.Name != p.Name || got.PhoneNumber != p.PhoneNumber {
		t.Errorf("GetProfile() = %+v, want %+v", got, p)
	}
	if got.ConsentState != entity.ConsentPending {
		t.Errorf("ConsentState = %s, want pending", got.ConsentState)
	}

	byPhone, err := s.GetProfileByPhone(ctx, p.PhoneNumber)
	if err != nil {
		t.Fatalf("GetProfileByPhone() failed: %v", err)
	}
	if byPhone.ID != p.ID {
		t.Errorf("GetProfileByPhone() = %s, want %s", byPhone.ID, p.ID)
	}

	// Update in place
	p.Name = "Rose Rivera"
	p.ConsentState = entity.ConsentConfirmed
	p.CanReceiveMessages = true
	p.Touch(time.Now())
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("second UpsertProfile() failed: %v", err)
	}

	got, err = s.GetProfile(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("GetProfile() after update failed: %v", err)
	}
	if got.Name != "Rose Rivera" || !got.CanReceiveMessages {
		t.Errorf("updated profile = %+v", got)
	}

	if _, err := s.GetProfile(ctx, "prof-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProfile(missing) error = %v, want ErrNotFound", err)
	}
}

// TestTaskRoundTrip verifies task persistence including the nullable
// completion timestamp.
func TestTaskRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &entity.Task{
		ID:          "task-0001",
		AccountID:   "acct-1",
		ProfileID:   "prof-0001",
		Title:       "Take medication",
		Notes:       "with breakfast",
		ScheduledAt: now,
	}
	task.SetDefaults()

	if err := s.UpsertTask(task); err != nil {
		t.Fatalf("UpsertTask() failed: %v", err)
	}

	got, err := s.GetTask(ctx, "task-0001")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil for an open task")
	}
	if got.Completed() {
		t.Error("Completed() should be false")
	}

	done := now.Add(time.Hour)
	task.CompletedAt = &done
	task.Touch(done)
	if err := s.UpsertTask(task); err != nil {
		t.Fatalf("UpsertTask() with completion failed: %v", err)
	}

	got, err = s.GetTask(ctx, "task-0001")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}

// TestMessageRoundTrip verifies inbound message persistence.
func TestMessageRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	received := time.Now().UTC().Truncate(time.Millisecond)
	msg := &entity.InboundMessage{
		ID:         "msg-0001",
		AccountID:  "acct-1",
		ProfileID:  "prof-0001",
		TaskID:     "task-0001",
		FromNumber: "+15551230001",
		Body:       "yes",
		ReceivedAt: received,
	}
	msg.SetDefaults()

	if err := s.UpsertMessage(msg); err != nil {
		t.Fatalf("UpsertMessage() failed: %v", err)
	}

	got, err := s.GetMessage(ctx, "msg-0001")
	if err != nil {
		t.Fatalf("GetMessage() failed: %v", err)
	}
	if got.Body != "yes" || !got.ReceivedAt.Equal(received) {
		t.Errorf("GetMessage() = %+v", got)
	}
	if got.TaskID != "task-0001" {
		t.Errorf("TaskID = %q, want task-0001", got.TaskID)
	}
}

// TestAccountRoundTrip verifies account persistence including the
// nullable subscription expiry.
func TestAccountRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Millisecond)
	a := &entity.Account{
		ID:                    "acct-1",
		FamilyName:            "Rivera",
		OwnerEmail:            "ana@example.com",
		Timezone:              "America/Chicago",
		SubscriptionTier:      "premium",
		SubscriptionExpiresAt: &expires,
		ConsentAuthority:      true,
		ProfileLimit:          20,
	}
	a.SetDefaults()

	if err := s.UpsertAccount(a); err != nil {
		t.Fatalf("UpsertAccount() failed: %v", err)
	}

	got, err := s.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount() failed: %v", err)
	}
	if got.SubscriptionTier != "premium" || !got.ConsentAuthority || got.ProfileLimit != 20 {
		t.Errorf("GetAccount() = %+v", got)
	}
	if got.SubscriptionExpiresAt == nil || !got.SubscriptionExpiresAt.Equal(expires) {
		t.Errorf("SubscriptionExpiresAt = %v, want %v", got.SubscriptionExpiresAt, expires)
	}
}

// TestTimelineRoundTrip verifies the tagged-union payload survives the
// database.
func TestTimelineRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	ev := &entity.TimelineEvent{
		ID:         "tl-0001",
		AccountID:  "acct-1",
		ProfileID:  "prof-0001",
		EventKind:  entity.TimelineTaskCompleted,
		OccurredAt: now,
		Task: &entity.TaskSnapshot{
			TaskID:      "task-0001",
			Title:       "Take medication",
			CompletedAt: now,
			CompletedBy: "prof-0001",
		},
	}
	ev.SetDefaults()

	if err := s.UpsertTimelineEvent(ev); err != nil {
		t.Fatalf("UpsertTimelineEvent() failed: %v", err)
	}

	got, err := s.GetTimelineEvent(ctx, "tl-0001")
	if err != nil {
		t.Fatalf("GetTimelineEvent() failed: %v", err)
	}
	if got.EventKind != entity.TimelineTaskCompleted {
		t.Errorf("EventKind = %s, want task_completed", got.EventKind)
	}
	if got.Task == nil || got.Task.Title != "Take medication" {
		t.Errorf("Task payload = %+v", got.Task)
	}
	if got.Profile != nil {
		t.Error("Profile payload should be nil for a task event")
	}

	timeline, err := s.FetchTimeline(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("FetchTimeline() failed: %v", err)
	}
	if len(timeline) != 1 {
		t.Errorf("FetchTimeline() returned %d events, want 1", len(timeline))
	}
}

// TestUpsertEntityDispatch verifies the generic entity surface used by
// the sync engine.
func TestUpsertEntityDispatch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p := storeProfile("prof-0001")
	if err := s.UpsertEntity(ctx, p); err != nil {
		t.Fatalf("UpsertEntity(profile) failed: %v", err)
	}

	ent, err := s.GetEntity(ctx, entity.KindProfile, "prof-0001")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	got, ok := ent.(*entity.Profile)
	if !ok {
		t.Fatalf("GetEntity() returned %T, want *entity.Profile", ent)
	}
	if got.ID != "prof-0001" {
		t.Errorf("GetEntity() = %s, want prof-0001", got.ID)
	}

	if _, err := s.GetEntity(ctx, entity.KindTask, "task-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntity(missing) error = %v, want ErrNotFound", err)
	}
}

// TestFetchByAccount verifies account-scoped listing.
func TestFetchByAccount(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"prof-0001", "prof-0002"} {
		if err := s.UpsertProfile(storeProfile(id)); err != nil {
			t.Fatalf("UpsertProfile(%s) failed: %v", id, err)
		}
	}
	other := storeProfile("prof-0003")
	other.AccountID = "acct-2"
	other.PhoneNumber = "+15559990003"
	if err := s.UpsertProfile(other); err != nil {
		t.Fatalf("UpsertProfile(other account) failed: %v", err)
	}

	profiles, err := s.FetchProfiles(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FetchProfiles() failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("FetchProfiles(acct-1) returned %d, want 2", len(profiles))
	}
}

// TestLastSyncedAt verifies the sync timestamp state key.
func TestLastSyncedAt(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	got, err := s.LastSyncedAt(ctx)
	if err != nil {
		t.Fatalf("LastSyncedAt() failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("LastSyncedAt() = %v before any sync, want zero", got)
	}

	want := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	if err := s.SetLastSyncedAt(ctx, want); err != nil {
		t.Fatalf("SetLastSyncedAt() failed: %v", err)
	}

	got, err = s.LastSyncedAt(ctx)
	if err != nil {
		t.Fatalf("LastSyncedAt() failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("LastSyncedAt() = %v, want %v", got, want)
	}
}

// TestTimelineMarkers verifies the idempotent one-time marker.
func TestTimelineMarkers(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	recorded, err := s.TimelineRecorded(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("TimelineRecorded() failed: %v", err)
	}
	if recorded {
		t.Error("TimelineRecorded() = true before marking")
	}

	if err := s.MarkTimelineRecorded(ctx, "prof-0001"); err != nil {
		t.Fatalf("MarkTimelineRecorded() failed: %v", err)
	}
	// Idempotent
	if err := s.MarkTimelineRecorded(ctx, "prof-0001"); err != nil {
		t.Fatalf("second MarkTimelineRecorded() failed: %v", err)
	}

	recorded, err = s.TimelineRecorded(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("TimelineRecorded() failed: %v", err)
	}
	if !recorded {
		t.Error("TimelineRecorded() = false after marking")
	}
}

// TestConsentLog verifies the append-only consent audit log keeps order.
func TestConsentLog(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	transitions := []ConsentTransition{
		{ProfileID: "prof-0001", FromState: entity.ConsentPending, ToState: entity.ConsentSent, Method: "dispatch", OccurredAt: base},
		{ProfileID: "prof-0001", FromState: entity.ConsentSent, ToState: entity.ConsentConfirmed, Method: "keyword", Keyword: "yes", OccurredAt: base.Add(time.Minute)},
		{ProfileID: "prof-0002", FromState: entity.ConsentPending, ToState: entity.ConsentOptedOut, Method: "keyword", Keyword: "stop", OccurredAt: base.Add(2 * time.Minute)},
	}
	for _, tr := range transitions {
		if err := s.RecordConsentTransition(ctx, tr); err != nil {
			t.Fatalf("RecordConsentTransition() failed: %v", err)
		}
	}

	history, err := s.ConsentHistory(ctx, "prof-0001")
	if err != nil {
		t.Fatalf("ConsentHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("ConsentHistory() returned %d transitions, want 2", len(history))
	}
	if history[0].ToState != entity.ConsentSent || history[1].ToState != entity.ConsentConfirmed {
		t.Errorf("history order wrong: %+v", history)
	}
	if history[1].Keyword != "yes" {
		t.Errorf("Keyword = %q, want yes", history[1].Keyword)
	}
	if history[0].Keyword != "" {
		t.Errorf("Keyword = %q for dispatch transition, want empty", history[0].Keyword)
	}
	if history[0].Seq >= history[1].Seq {
		t.Errorf("Seq should increase: %d then %d", history[0].Seq, history[1].Seq)
	}
}

// TestGetStats verifies the snapshot counts.
func TestGetStats(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	confirmed := storeProfile("prof-0001")
	confirmed.ConsentState = entity.ConsentConfirmed
	if err := s.UpsertProfile(confirmed); err != nil {
		t.Fatalf("UpsertProfile() failed: %v", err)
	}
	pending := storeProfile("prof-0002")
	if err := s.UpsertProfile(pending); err != nil {
		t.Fatalf("UpsertProfile() failed: %v", err)
	}

	task := &entity.Task{ID: "task-0001", AccountID: "acct-1", ProfileID: "prof-0001",
		Title: "Walk", ScheduledAt: time.Now()}
	task.SetDefaults()
	if err := s.UpsertTask(task); err != nil {
		t.Fatalf("UpsertTask() failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Profiles != 2 || stats.Tasks != 1 {
		t.Errorf("GetStats() = %+v, want 2 profiles and 1 task", stats)
	}
	if stats.ByConsentState[entity.ConsentConfirmed] != 1 || stats.ByConsentState[entity.ConsentPending] != 1 {
		t.Errorf("ByConsentState = %v", stats.ByConsentState)
	}
}
