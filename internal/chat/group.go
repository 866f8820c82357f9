package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"jobchat/internal/metrics"
)

var validate = validator.New()

// cleanText trims text and checks it against the same rules as the
// inbound frame and the HTTP send body.
func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if err := validate.Var(text, "max=4000"); err != nil {
		return "", fmt.Errorf("%w: message text exceeds 4000 characters", ErrValidation)
	}
	return text, nil
}

// GroupService runs the (issue, job) room: only the issue owner and the job
// owner take part.
type GroupService struct {
	store    Store
	dir      Directory
	registry *Registry
	hub      *Hub
	logger   zerolog.Logger
}

func NewGroupService(store Store, dir Directory, registry *Registry, hub *Hub, logger zerolog.Logger) *GroupService {
	return &GroupService{
		store:    store,
		dir:      dir,
		registry: registry,
		hub:      hub,
		logger:   logger.With().Str("component", "group_chat").Logger(),
	}
}

// Authorize checks that p owns the issue or the job and returns the room,
// creating it on first contact.
func (s *GroupService) Authorize(ctx context.Context, p Principal, issueID, jobID int) (*Room, error) {
	if p.ID == 0 {
		return nil, ErrUnauthenticated
	}

	issue, err := s.dir.Context(ctx, ContextRef{Kind: ContextIssue, ID: issueID})
	if err != nil {
		return nil, err
	}
	job, err := s.dir.Context(ctx, ContextRef{Kind: ContextJob, ID: jobID})
	if err != nil {
		return nil, err
	}
	if p.ID != issue.OwnerID && p.ID != job.OwnerID {
		return nil, ErrUnauthorized
	}

	return s.registry.ResolveGroup(ctx, issueID, jobID)
}

// Post stores text from p in room and broadcasts it to the room. Once the
// message is stored a broadcast failure is logged, not returned.
func (s *GroupService) Post(ctx context.Context, room *Room, p Principal, text string) (*Message, error) {
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, room.ID, p, text)
	if err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(string(RoomGroup)).Inc()

	if err := publishMessage(ctx, s.hub, room.Key, msg); err != nil {
		s.logger.Warn().Err(err).Str("room", room.Key.String()).Msg("group message not broadcast")
	}
	return msg, nil
}

// History returns the room's messages oldest first.
func (s *GroupService) History(ctx context.Context, p Principal, issueID, jobID int) ([]Message, error) {
	room, err := s.Authorize(ctx, p, issueID, jobID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, room.ID)
}

func publishMessage(ctx context.Context, hub *Hub, key RoomKey, msg *Message) error {
	payload, err := json.Marshal(newOutboundFrame(msg))
	if err != nil {
		return err
	}
	if err := hub.Publish(ctx, key, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", key, err)
	}
	return nil
}
