package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jobchat/internal/metrics"
)

// EventsChannel carries a copy of every notification for push consumers.
const EventsChannel = "notifications"

// Store is the persistence the emitter needs.
type Store interface {
	Create(ctx context.Context, n *Notification) error
}

// EventPayload is published on EventsChannel after a notification is stored.
type EventPayload struct {
	ID        int    `json:"id"`
	UserID    int    `json:"user_id"`
	EventType Kind   `json:"event_type"`
	Message   string `json:"message"`
	JobID     *int   `json:"job_id,omitempty"`
	IssueID   *int   `json:"issue_id,omitempty"`
}

// Emitter persists notifications and announces them on Redis.
type Emitter struct {
	store  Store
	redis  *redis.Client
	logger zerolog.Logger
}

// NewEmitter builds an emitter. rdb may be nil, in which case notifications
// are only stored.
func NewEmitter(store Store, rdb *redis.Client, logger zerolog.Logger) *Emitter {
	return &Emitter{
		store:  store,
		redis:  rdb,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Notify stores n. The Redis announcement is best effort: the row is the
// source of truth and clients poll for it.
func (e *Emitter) Notify(ctx context.Context, n *Notification) error {
	if err := e.store.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues(string(n.Kind)).Inc()

	e.logger.Debug().
		Int("notification_id", n.ID).
		Int("recipient_id", n.RecipientID).
		Str("kind", string(n.Kind)).
		Msg("notification created")

	if e.redis == nil {
		return nil
	}
	payload, err := json.Marshal(EventPayload{
		ID:        n.ID,
		UserID:    n.RecipientID,
		EventType: n.Kind,
		Message:   n.Message,
		JobID:     n.JobID,
		IssueID:   n.IssueID,
	})
	if err != nil {
		e.logger.Warn().Err(err).Int("notification_id", n.ID).Msg("notification event not encoded")
		return nil
	}
	if err := e.redis.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		e.logger.Warn().Err(err).Int("notification_id", n.ID).Msg("notification event not published")
	}
	return nil
}
