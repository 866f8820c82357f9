package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"jobchat/internal/metrics"
)

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Bounds for re-subscribing to the relay after it drops.
const (
	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

// Relay carries published events between server instances. Every instance
// (the publisher included) fans out what the relay delivers.
type Relay interface {
	Publish(ctx context.Context, key RoomKey, payload []byte) error
	Listen(ctx context.Context, deliver func(key RoomKey, payload []byte)) error
}

type subscription struct {
	key    RoomKey
	client *Client
}

type roomEvent struct {
	key     RoomKey
	payload []byte
}

// Hub fans room events out to the connections subscribed to that room.
// Run owns the rooms map; everything else talks to it over channels, so
// events for one room reach each subscriber in publish order.
type Hub struct {
	rooms      map[RoomKey]map[*Client]bool
	broadcast  chan roomEvent
	register   chan subscription
	unregister chan subscription
	relay      Relay
	logger     zerolog.Logger
	done       chan struct{}

	retryMin time.Duration
	retryMax time.Duration
}

// NewHub builds a hub. With a nil relay events are fanned out in-process only.
func NewHub(relay Relay, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[RoomKey]map[*Client]bool),
		broadcast:  make(chan roomEvent),
		register:   make(chan subscription),
		unregister: make(chan subscription),
		relay:      relay,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
		retryMin:   relayRetryMin,
		retryMax:   relayRetryMax,
	}
}

// Run processes subscriptions and events until ctx is cancelled, then closes
// every remaining connection's send buffer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.relay != nil {
		go h.listen(ctx)
	}

	for {
		select {
		case sub := <-h.register:
			clients, ok := h.rooms[sub.key]
			if !ok {
				clients = make(map[*Client]bool)
				h.rooms[sub.key] = clients
			}
			clients[sub.client] = true
			metrics.ActiveConnections.Inc()

		case sub := <-h.unregister:
			h.remove(sub.key, sub.client)

		case ev := <-h.broadcast:
			for client := range h.rooms[ev.key] {
				select {
				case client.send <- ev.payload:
				default:
					h.logger.Warn().Str("client", client.ID).Str("room", ev.key.String()).Msg("send buffer full, dropping connection")
					metrics.SlowConsumersDropped.Inc()
					h.remove(ev.key, client)
				}
			}

		case <-ctx.Done():
			for key, clients := range h.rooms {
				for client := range clients {
					h.remove(key, client)
				}
			}
			return
		}
	}
}

// listen keeps the relay subscription alive until ctx is cancelled. While it
// is down, events published through the relay do not reach this instance.
func (h *Hub) listen(ctx context.Context) {
	backoff := h.retryMin
	for {
		err := h.relay.Listen(ctx, h.deliver)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = h.retryMin
		}
		h.logger.Error().Err(err).Dur("retry_in", backoff).Msg("relay listener stopped, resubscribing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, h.retryMax)
	}
}

// remove is only called from Run. It is a no-op for unknown clients, which
// makes unsubscribing idempotent.
func (h *Hub) remove(key RoomKey, client *Client) {
	clients, ok := h.rooms[key]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	metrics.ActiveConnections.Dec()
	if len(clients) == 0 {
		delete(h.rooms, key)
	}
}

// Subscribe adds client to the room. Events published before Subscribe
// returns are never delivered to it.
func (h *Hub) Subscribe(key RoomKey, client *Client) error {
	select {
	case h.register <- subscription{key: key, client: client}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unsubscribe removes client from the room and closes its send buffer.
// Safe to call more than once.
func (h *Hub) Unsubscribe(key RoomKey, client *Client) {
	select {
	case h.unregister <- subscription{key: key, client: client}:
	case <-h.done:
	}
}

// Publish delivers payload to every connection subscribed to key, the
// publisher's own connection included.
func (h *Hub) Publish(ctx context.Context, key RoomKey, payload []byte) error {
	if h.relay != nil {
		return h.relay.Publish(ctx, key, payload)
	}
	return h.enqueue(ctx, key, payload)
}

func (h *Hub) deliver(key RoomKey, payload []byte) {
	if err := h.enqueue(context.Background(), key, payload); err != nil {
		h.logger.Debug().Err(err).Str("room", key.String()).Msg("relay event not delivered")
	}
}

func (h *Hub) enqueue(ctx context.Context, key RoomKey, payload []byte) error {
	select {
	case h.broadcast <- roomEvent{key: key, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
