// Package consent implements the per-profile SMS opt-in lifecycle.
//
// A profile starts Pending, moves to Sent when a consent request is
// dispatched, and settles into Confirmed, Declined, or OptedOut based on
// the recipient's reply. OptedOut is terminal: automatic outbound
// messaging stops permanently and only an explicit human resubscription
// request begins a new Pending -> Sent -> Confirmed cycle.
//
// The machine consumes inbound-message events from the broadcast hub.
// Every state-changing transition is durably recorded before it is
// treated as complete, with one exception: opt-out applies optimistically
// in memory first, recording a rollback if persistence then fails, so a
// recipient's "stop" takes effect immediately.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/kindred-care/kindred/internal/broadcast"
	"github.com/kindred-care/kindred/internal/clock"
	"github.com/kindred-care/kindred/internal/entity"
	"github.com/kindred-care/kindred/internal/store"
)

// Store is the persistence surface the consent machine requires.
// *store.Store implements it.
type Store interface {
	GetProfile(ctx context.Context, id string) (*entity.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (*entity.Profile, error)
	UpsertProfileContext(ctx context.Context, p *entity.Profile) error
	UpsertTimelineEventContext(ctx context.Context, e *entity.TimelineEvent) error
	TimelineRecorded(ctx context.Context, profileID string) (bool, error)
	MarkTimelineRecorded(ctx context.Context, profileID string) error
	RecordConsentTransition(ctx context.Context, tr store.ConsentTransition) error
}

// ErrInvalidTransition is returned when an operation is not allowed
// from the profile's current consent state.
var ErrInvalidTransition = errors.New("invalid consent transition")

// DefaultRequestBody is the outbound consent request sent to a new
// profile.
const DefaultRequestBody = "Your family set up care reminders for you. Reply YES to receive them, NO to decline. Reply STOP at any time to opt out."

// Config holds consent machine configuration.
type Config struct {
	// RequestBody is the outbound consent request text
	// (default: DefaultRequestBody).
	RequestBody string

	// Clock provides transition timestamps (default: system clock).
	Clock clock.Clock

	// Logger for machine activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestBody: DefaultRequestBody,
		Clock:       clock.New(),
		Logger:      log.New(os.Stderr, "[consent] ", log.LstdFlags),
	}
}

// Machine drives the consent lifecycle for every profile in the store.
type Machine struct {
	store   Store
	gateway MessageGateway
	hub     *broadcast.Hub
	clock   clock.Clock
	logger  *log.Logger

	requestBody string

	// cache holds the last known state per profile so CurrentState and
	// the opt-out fast path work without a read per lookup.
	mu    sync.Mutex
	cache map[string]entity.ConsentState
}

// New creates a consent machine. Store, gateway, and hub are required;
// config may be nil for defaults.
func New(st Store, gateway MessageGateway, hub *broadcast.Hub, config *Config) *Machine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestBody == "" {
		config.RequestBody = DefaultRequestBody
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[consent] ", log.LstdFlags)
	}

	return &Machine{
		store:       st,
		gateway:     gateway,
		hub:         hub,
		clock:       config.Clock,
		logger:      config.Logger,
		requestBody: config.RequestBody,
		cache:       make(map[string]entity.ConsentState),
	}
}

// Run subscribes to confirmed inbound-message events and processes them
// until ctx is cancelled. Profile events are also consumed so the state
// cache tracks changes synced from other devices.
func (m *Machine) Run(ctx context.Context) {
	messages := m.hub.Subscribe(broadcast.TopicMessages)
	defer messages.Cancel()
	profiles := m.hub.Subscribe(broadcast.TopicProfiles)
	defer profiles.Cancel()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-messages.Events():
			msg, ok := ev.Entity.(*entity.InboundMessage)
			if !ok {
				continue
			}
			if err := m.HandleInbound(ctx, msg); err != nil {
				m.logger.Printf("Error handling inbound message %s: %v", msg.ID, err)
			}

		case ev := <-profiles.Events():
			if p, ok := ev.Entity.(*entity.Profile); ok {
				m.applyCache(p.ID, p.ConsentState)
			}
		}
	}
}

// HandleInbound applies an inbound message to the owning profile's
// consent state. Messages that match no keyword, or arrive in a state
// with no matching transition, are ignored.
func (m *Machine) HandleInbound(ctx context.Context, msg *entity.InboundMessage) error {
	reply, keyword := Classify(msg.Body)
	if reply == ReplyNone {
		return nil
	}

	profile, err := m.profileForMessage(ctx, msg)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Printf("Inbound %s from unknown number %s; ignoring", reply, msg.FromNumber)
		return nil
	}
	if err != nil {
		return err
	}

	switch reply {
	case ReplyOptOut:
		if profile.ConsentState == entity.ConsentOptedOut {
			return nil
		}
		return m.optOut(ctx, profile, keyword)

	case ReplyAffirmative:
		if profile.ConsentState != entity.ConsentSent {
			return nil
		}
		return m.confirm(ctx, profile, keyword)

	case ReplyNegative:
		if profile.ConsentState != entity.ConsentSent {
			return nil
		}
		return m.transition(ctx, profile, entity.ConsentDeclined, "keyword", keyword)
	}

	return nil
}

// CurrentState returns the profile's consent state.
func (m *Machine) CurrentState(ctx context.Context, profileID string) (entity.ConsentState, error) {
	m.mu.Lock()
	if state, ok := m.cache[profileID]; ok {
		m.mu.Unlock()
		return state, nil
	}
	m.mu.Unlock()

	profile, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache[profileID] = profile.ConsentState
	m.mu.Unlock()

	return profile.ConsentState, nil
}

// CanReceiveMessages reports whether automatic outbound messaging is
// allowed for the profile.
func (m *Machine) CanReceiveMessages(ctx context.Context, profileID string) (bool, error) {
	profile, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return false, err
	}
	return profile.CanReceiveMessages, nil
}

// RequestConsent dispatches the consent request to a Pending profile.
// On successful dispatch the profile moves to Sent; on dispatch failure
// it moves to Failed and a DispatchError is returned.
func (m *Machine) RequestConsent(ctx context.Context, profileID string) error {
	profile, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if profile.ConsentState != entity.ConsentPending {
		return fmt.Errorf("%w: cannot request consent from %s", ErrInvalidTransition, profile.ConsentState)
	}

	if _, err := m.gateway.Send(ctx, profile.PhoneNumber, m.requestBody); err != nil {
		derr := &DispatchError{Address: profile.PhoneNumber, Err: err}
		if terr := m.transition(ctx, profile, entity.ConsentFailed, "dispatch", ""); terr != nil {
			m.logger.Printf("Error recording dispatch failure for %s: %v", profileID, terr)
		}
		return derr
	}

	return m.transition(ctx, profile, entity.ConsentSent, "dispatch", "")
}

// Resend retries a failed consent request: Failed -> Pending -> Sent.
func (m *Machine) Resend(ctx context.Context, profileID string) error {
	profile, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if profile.ConsentState != entity.ConsentFailed {
		return fmt.Errorf("%w: cannot resend from %s", ErrInvalidTransition, profile.ConsentState)
	}

	if err := m.transition(ctx, profile, entity.ConsentPending, "manual", ""); err != nil {
		return err
	}
	return m.RequestConsent(ctx, profileID)
}

// RequestResubscription begins a new consent cycle for an opted-out
// profile. This is the only path out of OptedOut and must be triggered
// by an explicit human action; messaging stays off until the recipient
// confirms again.
func (m *Machine) RequestResubscription(ctx context.Context, profileID string) error {
	profile, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if profile.ConsentState != entity.ConsentOptedOut {
		return fmt.Errorf("%w: cannot resubscribe from %s", ErrInvalidTransition, profile.ConsentState)
	}

	if err := m.transition(ctx, profile, entity.ConsentPending, "manual", ""); err != nil {
		return err
	}
	return m.RequestConsent(ctx, profileID)
}

// profileForMessage resolves the profile an inbound message belongs to.
func (m *Machine) profileForMessage(ctx context.Context, msg *entity.InboundMessage) (*entity.Profile, error) {
	if msg.ProfileID != "" {
		return m.store.GetProfile(ctx, msg.ProfileID)
	}
	return m.store.GetProfileByPhone(ctx, msg.FromNumber)
}

// transition durably records and applies one consent state change:
// audit log first, then the profile row, then the in-memory cache and a
// hub event. If persistence fails the state does not change.
func (m *Machine) transition(ctx context.Context, profile *entity.Profile, to entity.ConsentState, method, keyword string) error {
	now := m.clock.Now()
	from := profile.ConsentState

	err := m.store.RecordConsentTransition(ctx, store.ConsentTransition{
		ProfileID:  profile.ID,
		FromState:  from,
		ToState:    to,
		Method:     method,
		Keyword:    keyword,
		OccurredAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to record transition %s->%s for %s: %w", from, to, profile.ID, err)
	}

	profile.ConsentState = to
	profile.ConsentChangedAt = now
	profile.CanReceiveMessages = to == entity.ConsentConfirmed
	profile.Touch(now)

	if err := m.store.UpsertProfileContext(ctx, profile); err != nil {
		return fmt.Errorf("failed to persist consent state for %s: %w", profile.ID, err)
	}

	m.applyCache(profile.ID, to)
	m.publish(profile, keyword)

	m.logger.Printf("Consent %s: %s -> %s (%s)", profile.ID, from, to, method)
	return nil
}

// optOut applies the terminal opt-out transition. Unlike every other
// transition, the in-memory state flips before persistence so outbound
// messaging stops immediately; if persistence then fails, a rollback is
// recorded and the cached state reverts.
func (m *Machine) optOut(ctx context.Context, profile *entity.Profile, keyword string) error {
	from := profile.ConsentState
	now := m.clock.Now()

	m.applyCache(profile.ID, entity.ConsentOptedOut)
	m.publish(profile, keyword)

	err := m.store.RecordConsentTransition(ctx, store.ConsentTransition{
		ProfileID:  profile.ID,
		FromState:  from,
		ToState:    entity.ConsentOptedOut,
		Method:     "keyword",
		Keyword:    keyword,
		OccurredAt: now,
	})
	if err == nil {
		profile.ConsentState = entity.ConsentOptedOut
		profile.ConsentChangedAt = now
		profile.CanReceiveMessages = false
		profile.Touch(now)
		err = m.store.UpsertProfileContext(ctx, profile)
	}

	if err != nil {
		m.applyCache(profile.ID, from)
		rollback := store.ConsentTransition{
			ProfileID:  profile.ID,
			FromState:  entity.ConsentOptedOut,
			ToState:    from,
			Method:     "rollback",
			OccurredAt: m.clock.Now(),
		}
		if rerr := m.store.RecordConsentTransition(ctx, rollback); rerr != nil {
			m.logger.Printf("Error recording opt-out rollback for %s: %v", profile.ID, rerr)
		}
		return fmt.Errorf("failed to persist opt-out for %s: %w", profile.ID, err)
	}

	m.logger.Printf("Consent %s: %s -> %s (opt-out keyword %q)", profile.ID, from, entity.ConsentOptedOut, keyword)
	return nil
}

// confirm records the one-time profile-created timeline event and then
// applies Sent -> Confirmed. The event settles first: if recording it
// fails the profile stays in sent, so the next affirmative reply
// retries the whole confirmation instead of stranding a confirmed
// profile with no event.
func (m *Machine) confirm(ctx context.Context, profile *entity.Profile, keyword string) error {
	if err := m.recordProfileCreated(ctx, profile); err != nil {
		return err
	}
	return m.transition(ctx, profile, entity.ConsentConfirmed, "keyword", keyword)
}

// recordProfileCreated emits the profile-created timeline event exactly
// once, guarded by the durable marker so a replayed historical message
// cannot create a duplicate.
func (m *Machine) recordProfileCreated(ctx context.Context, profile *entity.Profile) error {
	recorded, err := m.store.TimelineRecorded(ctx, profile.ID)
	if err != nil {
		return err
	}
	if recorded {
		return nil
	}

	event := &entity.TimelineEvent{
		ID:         uuid.NewString(),
		AccountID:  profile.AccountID,
		ProfileID:  profile.ID,
		EventKind:  entity.TimelineProfileCreated,
		OccurredAt: m.clock.Now(),
		Profile: &entity.ProfileSnapshot{
			ProfileID:   profile.ID,
			Name:        profile.Name,
			PhoneNumber: profile.PhoneNumber,
		},
	}
	event.SetDefaults()

	if err := m.store.UpsertTimelineEventContext(ctx, event); err != nil {
		return fmt.Errorf("failed to record timeline event for %s: %w", profile.ID, err)
	}
	if err := m.store.MarkTimelineRecorded(ctx, profile.ID); err != nil {
		return fmt.Errorf("failed to mark timeline recorded for %s: %w", profile.ID, err)
	}

	m.hub.Publish(broadcast.Event{
		Topic:  broadcast.TopicTimeline,
		Entity: event,
	})
	return nil
}

func (m *Machine) applyCache(profileID string, state entity.ConsentState) {
	m.mu.Lock()
	m.cache[profileID] = state
	m.mu.Unlock()
}

func (m *Machine) publish(profile *entity.Profile, keyword string) {
	m.mu.Lock()
	state := m.cache[profile.ID]
	m.mu.Unlock()

	m.hub.Publish(broadcast.Event{
		Topic: broadcast.TopicConsent,
		Consent: &broadcast.ConsentUpdate{
			ProfileID:          profile.ID,
			State:              state,
			CanReceiveMessages: state == entity.ConsentConfirmed,
			Keyword:            keyword,
		},
	})
}
