package broadcast

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

func testHub() *Hub {
	return New(log.New(io.Discard, "", 0))
}

func hubTask(id string) *entity.Task {
	now := time.Now()
	return &entity.Task{
		ID: id, AccountID: "acct-1", ProfileID: "prof-1",
		Title: "Take medication", Status: entity.StatusActive,
		ScheduledAt: now, CreatedAt: now, UpdatedAt: now,
	}
}

// TestPublishReachesSubscribers verifies fan-out to every subscriber of
// the topic and no one else.
func TestPublishReachesSubscribers(t *testing.T) {
	hub := testHub()

	a := hub.Subscribe(TopicTasks)
	defer a.Cancel()
	b := hub.Subscribe(TopicTasks)
	defer b.Cancel()
	other := hub.Subscribe(TopicProfiles)
	defer other.Cancel()

	hub.Publish(Event{Topic: TopicTasks, Entity: hubTask("task-1")})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.Events():
			if ev.Entity.EntityID() != "task-1" {
				t.Errorf("received entity %s, want task-1", ev.Entity.EntityID())
			}
			if ev.Time.IsZero() {
				t.Error("event time should be stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}

	select {
	case <-other.Events():
		t.Error("profile subscriber received a task event")
	default:
	}
}

// TestPublishOrder verifies per-topic publish order is preserved for a
// subscriber.
func TestPublishOrder(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe(TopicTasks)
	defer sub.Cancel()

	const n = 50
	for i := 0; i < n; i++ {
		hub.Publish(Event{Topic: TopicTasks, Entity: hubTask(fmt.Sprintf("task-%03d", i))})
	}

	for i := 0; i < n; i++ {
		ev := <-sub.Events()
		want := fmt.Sprintf("task-%03d", i)
		if ev.Entity.EntityID() != want {
			t.Fatalf("event %d = %s, want %s", i, ev.Entity.EntityID(), want)
		}
	}
}

// TestCancelStopsDelivery verifies a cancelled subscription receives no
// further events and leaves the registry.
func TestCancelStopsDelivery(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe(TopicTasks)

	if got := hub.SubscriberCount(TopicTasks); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	sub.Cancel()

	if got := hub.SubscriberCount(TopicTasks); got != 0 {
		t.Errorf("SubscriberCount() = %d after Cancel, want 0", got)
	}

	hub.Publish(Event{Topic: TopicTasks, Entity: hubTask("task-1")})
	select {
	case <-sub.Events():
		t.Error("cancelled subscription received an event")
	default:
	}

	select {
	case <-sub.Done():
	default:
		t.Error("Done() should be closed after Cancel")
	}

	// Cancel is idempotent
	sub.Cancel()
}

// TestDeliverSkipsCancelled verifies disposal wins over buffer room: a
// subscription cancelled after a publisher snapshotted it still gets
// nothing when the send happens.
func TestDeliverSkipsCancelled(t *testing.T) {
	hub := testHub()
	sub := hub.Subscribe(TopicTasks)
	sub.Cancel()

	// Direct delivery bypasses the registry, the way an in-flight
	// publish holding a stale snapshot would reach this subscription.
	sub.deliver(Event{Topic: TopicTasks, Entity: hubTask("task-1")})

	select {
	case <-sub.Events():
		t.Error("cancelled subscription received an event despite buffer room")
	default:
	}
}

// TestCancelUnblocksPublish verifies a publisher blocked on a full
// subscriber buffer is released when that subscriber cancels.
func TestCancelUnblocksPublish(t *testing.T) {
	hub := testHub()
	slow := hub.Subscribe(TopicTasks)

	// Fill the buffer without consuming
	for i := 0; i < DefaultBufferSize; i++ {
		hub.Publish(Event{Topic: TopicTasks, Entity: hubTask("task-fill")})
	}

	published := make(chan struct{})
	go func() {
		hub.Publish(Event{Topic: TopicTasks, Entity: hubTask("task-blocked")})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish should block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	slow.Cancel()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Cancel() did not unblock the publisher")
	}
}

// TestConcurrentSubscribeAndPublish verifies the registry tolerates
// subscribe/cancel racing with an active publish.
func TestConcurrentSubscribeAndPublish(t *testing.T) {
	hub := testHub()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish(Event{Topic: TopicTasks, Entity: hubTask("task-1")})
			}
		}
	}()

	for i := 0; i < 100; i++ {
		sub := hub.Subscribe(TopicTasks)
		// Drain a little, then cancel mid-stream
		select {
		case <-sub.Events():
		default:
		}
		sub.Cancel()
	}

	close(stop)
	wg.Wait()
}

// TestTopicForKind verifies the kind-to-topic mapping.
func TestTopicForKind(t *testing.T) {
	tests := []struct {
		kind entity.Kind
		want Topic
	}{
		{entity.KindAccount, TopicAccounts},
		{entity.KindProfile, TopicProfiles},
		{entity.KindTask, TopicTasks},
		{entity.KindMessage, TopicMessages},
		{entity.KindTimelineEvent, TopicTimeline},
	}
	for _, tt := range tests {
		if got := TopicForKind(tt.kind); got != tt.want {
			t.Errorf("TopicForKind(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}
