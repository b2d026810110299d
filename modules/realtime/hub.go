package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bookcircle/modules/library"
	"github.com/dmitrymomot/bookcircle/pkg/broadcast"
)

// Hub fans events out to connected sessions. Catalog events flow through
// a single shared broadcaster; notifications flow through a lazily
// created per-user broadcaster so only the recipient's sessions see them.
//
// Hub is the realtime adapter for the library module: it implements both
// library.EventSink and library.Deliverer.
type Hub struct {
	global *broadcast.MemoryBroadcaster[Event]

	mu    sync.Mutex
	users map[uuid.UUID]*broadcast.MemoryBroadcaster[Event]

	bufferSize int
	log        *slog.Logger
	closed     bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(log *slog.Logger) HubOption {
	return func(h *Hub) { h.log = log }
}

// WithHubBufferSize sets the per-subscriber channel buffer.
func WithHubBufferSize(n int) HubOption {
	return func(h *Hub) { h.bufferSize = n }
}

// NewHub creates a Hub ready for subscriptions.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		bufferSize: 32,
		users:      make(map[uuid.UUID]*broadcast.MemoryBroadcaster[Event]),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.global = broadcast.NewMemoryBroadcaster[Event](h.bufferSize)
	return h
}

// Publish sends an event to every connected session.
func (h *Hub) Publish(ctx context.Context, event Event) {
	if err := h.global.Broadcast(ctx, broadcast.Message[Event]{Data: event}); err != nil {
		h.log.WarnContext(ctx, "failed to broadcast event",
			slog.String("event_type", event.Type), slog.Any("error", err))
	}
}

// PublishTo sends an event to the sessions of a single user. Events for
// users without active sessions are dropped.
func (h *Hub) PublishTo(ctx context.Context, userID uuid.UUID, event Event) {
	h.mu.Lock()
	b, ok := h.users[userID]
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := b.Broadcast(ctx, broadcast.Message[Event]{Data: event}); err != nil {
		h.log.WarnContext(ctx, "failed to broadcast user event",
			slog.String("event_type", event.Type),
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}

// Subscribe attaches a session to the global catalog stream. The
// subscription ends when the context is cancelled.
func (h *Hub) Subscribe(ctx context.Context) broadcast.Subscriber[Event] {
	return h.global.Subscribe(ctx)
}

// SubscribeUser attaches a session to the user's notification stream.
func (h *Hub) SubscribeUser(ctx context.Context, userID uuid.UUID) broadcast.Subscriber[Event] {
	h.mu.Lock()
	b, ok := h.users[userID]
	if !ok {
		b = broadcast.NewMemoryBroadcaster[Event](h.bufferSize)
		h.users[userID] = b
	}
	h.mu.Unlock()
	return b.Subscribe(ctx)
}

// Close shuts down all broadcasters and disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	users := h.users
	h.users = make(map[uuid.UUID]*broadcast.MemoryBroadcaster[Event])
	h.mu.Unlock()

	for _, b := range users {
		_ = b.Close()
	}
	return h.global.Close()
}

// BookAdded implements library.EventSink.
func (h *Hub) BookAdded(ctx context.Context, b library.Book) {
	h.Publish(ctx, Event{Type: EventNewBook, Payload: b})
}

// BookUpdated implements library.EventSink.
func (h *Hub) BookUpdated(ctx context.Context, b library.Book) {
	h.Publish(ctx, Event{Type: EventBookUpdated, Payload: b})
}

// BookDeleted implements library.EventSink.
func (h *Hub) BookDeleted(ctx context.Context, id uuid.UUID) {
	h.Publish(ctx, Event{Type: EventBookDeleted, Payload: map[string]string{"id": id.String()}})
}

// Deliver implements library.Deliverer by pushing the notification to
// the recipient's active sessions.
func (h *Hub) Deliver(ctx context.Context, n library.Notification) error {
	h.PublishTo(ctx, n.RecipientID, Event{Type: EventNotification, Payload: n})
	return nil
}

var (
	_ library.EventSink = (*Hub)(nil)
	_ library.Deliverer = (*Hub)(nil)
)
