// Package broadcast provides in-process pub/sub fan-out of confirmed
// entity changes and sync status updates to independent subscribers.
//
// The hub replaces a shared mutable observable with explicit, disposable
// subscription handles: feature code subscribes to a topic, consumes the
// event channel, and cancels the handle when done. Delivery is best-effort
// within the current process lifetime - there is no historical replay for
// late subscribers and no durability across restarts; on restart the sync
// engine performs a full resync to repopulate derived state.
package broadcast

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

// Topic selects which event stream a subscriber receives.
type Topic int

const (
	// TopicAccounts delivers confirmed account changes.
	TopicAccounts Topic = iota
	// TopicProfiles delivers confirmed profile changes.
	TopicProfiles
	// TopicTasks delivers confirmed task changes.
	TopicTasks
	// TopicMessages delivers confirmed inbound-message changes.
	TopicMessages
	// TopicTimeline delivers confirmed timeline events.
	TopicTimeline
	// TopicSync delivers sync engine status updates.
	TopicSync
	// TopicConsent delivers consent state changes.
	TopicConsent
)

// String returns a human-readable representation of the topic.
func (t Topic) String() string {
	switch t {
	case TopicAccounts:
		return "accounts"
	case TopicProfiles:
		return "profiles"
	case TopicTasks:
		return "tasks"
	case TopicMessages:
		return "messages"
	case TopicTimeline:
		return "timeline"
	case TopicSync:
		return "sync"
	case TopicConsent:
		return "consent"
	default:
		return "unknown"
	}
}

// TopicForKind maps an entity kind to its change topic.
func TopicForKind(k entity.Kind) Topic {
	switch k {
	case entity.KindAccount:
		return TopicAccounts
	case entity.KindProfile:
		return TopicProfiles
	case entity.KindTask:
		return TopicTasks
	case entity.KindMessage:
		return TopicMessages
	case entity.KindTimelineEvent:
		return TopicTimeline
	default:
		return TopicSync
	}
}

// SyncUpdate is the payload for TopicSync events.
type SyncUpdate struct {
	Status  string `json:"status"` // idle, syncing, completed, failed
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// ConsentUpdate is the payload for TopicConsent events.
type ConsentUpdate struct {
	ProfileID          string              `json:"profile_id"`
	State              entity.ConsentState `json:"state"`
	CanReceiveMessages bool                `json:"can_receive_messages"`
	Keyword            string              `json:"keyword,omitempty"`
}

// Event is one published hub event. Exactly one of Entity, Sync, or
// Consent is set, according to Topic.
type Event struct {
	Topic   Topic
	Time    time.Time
	Entity  entity.Entity
	Sync    *SyncUpdate
	Consent *ConsentUpdate
}

// Hub fans published events out to all active subscribers of a topic.
//
// Events within one topic are delivered to each subscriber in publish
// order. There is no cross-topic ordering guarantee. The registry
// tolerates concurrent subscribe/unsubscribe during an active publish:
// cancelled subscriptions receive no further events, and subscriptions
// added mid-publish receive subsequent events.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]*Subscription
	logger *log.Logger
}

// New creates a hub. If logger is nil, a default stderr logger is used.
func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	return &Hub{
		subs:   make(map[Topic]map[int]*Subscription),
		logger: logger,
	}
}

// DefaultBufferSize is the per-subscription event buffer.
const DefaultBufferSize = 256

// Subscribe registers a new subscriber for a topic and returns its
// disposable handle. The caller must consume Events() promptly or call
// Cancel() when done; a full buffer blocks publishers on that topic.
func (h *Hub) Subscribe(topic Topic) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:   h,
		topic: topic,
		id:    h.nextID,
		ch:    make(chan Event, DefaultBufferSize),
		done:  make(chan struct{}),
	}

	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]*Subscription)
	}
	h.subs[topic][sub.id] = sub

	return sub
}

// Publish delivers an event to every currently active subscriber of its
// topic. Delivery blocks on a subscriber whose buffer is full until the
// subscriber consumes an event or cancels.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[ev.Topic]))
	for _, sub := range h.subs[ev.Topic] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	// Deliver outside the registry lock so subscribers can cancel
	// (and new ones subscribe) while a publish is in flight.
	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// remove drops a subscription from the registry.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m := h.subs[sub.topic]; m != nil {
		delete(m, sub.id)
	}
}

// SubscriberCount returns the number of active subscribers for a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Subscription is a disposable handle to one topic's event stream.
type Subscription struct {
	hub   *Hub
	topic Topic
	id    int
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// Events returns the channel delivering this subscription's events.
// The channel is never closed; select on Done() to detect cancellation.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Topic returns the topic this subscription receives.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// deliver sends one event to the subscription. Disposal is checked
// before the send so a subscription already cancelled when the
// publisher snapshotted it never receives the event, even with buffer
// room to spare.
func (s *Subscription) deliver(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// Cancel removes the subscription from the hub. After Cancel returns,
// no new events are delivered; events already buffered may remain
// unread in the channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}
