package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/kindred-care/kindred/internal/broadcast"
)

// Handler bridges hub events to dashboard WebSocket messages.
type Handler struct {
	server *Server
	hub    *broadcast.Hub
	logger *log.Logger
}

// NewHandler creates a handler forwarding hub events to the server.
func NewHandler(server *Server, hub *broadcast.Hub, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		hub:    hub,
		logger: logger,
	}
}

// Run subscribes to the hub and forwards events until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	topics := []broadcast.Topic{
		broadcast.TopicAccounts,
		broadcast.TopicProfiles,
		broadcast.TopicTasks,
		broadcast.TopicMessages,
		broadcast.TopicTimeline,
		broadcast.TopicSync,
		broadcast.TopicConsent,
	}

	subs := make([]*broadcast.Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, h.hub.Subscribe(topic))
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	// Fan the subscriptions into one channel so a single loop forwards
	// everything in arrival order.
	merged := make(chan broadcast.Event)
	for _, sub := range subs {
		go func(sub *broadcast.Subscription) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-sub.Events():
					select {
					case merged <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			h.forward(ev)
		}
	}
}

// forward converts one hub event into a dashboard message.
func (h *Handler) forward(ev broadcast.Event) {
	switch {
	case ev.Sync != nil:
		h.send(MessageTypeSyncStatus, ev.Time, SyncStatusData{
			Status:  ev.Sync.Status,
			Pending: ev.Sync.Pending,
			Error:   ev.Sync.Error,
		})

	case ev.Consent != nil:
		h.send(MessageTypeConsentUpdate, ev.Time, ConsentUpdateData{
			ProfileID:          ev.Consent.ProfileID,
			State:              string(ev.Consent.State),
			CanReceiveMessages: ev.Consent.CanReceiveMessages,
		})

	case ev.Entity != nil:
		h.send(MessageTypeEntityUpdate, ev.Time, EntityUpdateData{
			Kind:      ev.Entity.EntityKind().String(),
			ID:        ev.Entity.EntityID(),
			AccountID: ev.Entity.OwnerID(),
		})
	}
}

func (h *Handler) send(typ MessageType, ts time.Time, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: ts,
		Data:      payload,
	})
}
