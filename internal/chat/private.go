package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"jobchat/internal/metrics"
	"jobchat/internal/notification"
)

// Notifier receives one notification per private message.
type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

// PrivateService runs two-party chats about a job or an issue.
type PrivateService struct {
	store    Store
	dir      Directory
	registry *Registry
	hub      *Hub
	notifier Notifier
	logger   zerolog.Logger

	// strict requires one of the two participants to own the job or issue.
	strict bool
}

func NewPrivateService(store Store, dir Directory, registry *Registry, hub *Hub, notifier Notifier, strict bool, logger zerolog.Logger) *PrivateService {
	return &PrivateService{
		store:    store,
		dir:      dir,
		registry: registry,
		hub:      hub,
		notifier: notifier,
		strict:   strict,
		logger:   logger.With().Str("component", "private_chat").Logger(),
	}
}

// party is the resolved other side of a private chat.
type party struct {
	info  *ContextInfo
	other *Participant
}

// counterparty works out who p is talking to under ref. An explicit userID
// wins; otherwise a non-owner talks to the owner. The owner without a
// userID has no default counterparty and gets a nil party.
func (s *PrivateService) counterparty(ctx context.Context, p Principal, ref ContextRef, userID *int) (*party, error) {
	if p.ID == 0 {
		return nil, ErrUnauthenticated
	}

	info, err := s.dir.Context(ctx, ref)
	if err != nil {
		return nil, err
	}

	var otherID int
	switch {
	case userID != nil:
		otherID = *userID
	case p.ID == info.OwnerID:
		return nil, nil
	default:
		otherID = info.OwnerID
	}

	if otherID == p.ID {
		return nil, ErrSelfChat
	}
	other, err := s.dir.User(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if s.strict && p.ID != info.OwnerID && other.ID != info.OwnerID {
		return nil, ErrUnauthorized
	}
	return &party{info: info, other: other}, nil
}

// Messages returns the chat between p and the counterparty, oldest first.
// Reading never creates a room.
func (s *PrivateService) Messages(ctx context.Context, p Principal, ref ContextRef, userID *int) ([]MessageView, error) {
	pt, err := s.counterparty(ctx, p, ref, userID)
	if err != nil {
		return nil, err
	}
	if pt == nil {
		return []MessageView{}, nil
	}

	key, err := PrivateKey(ref, p.ID, pt.other.ID)
	if err != nil {
		return nil, err
	}
	room, err := s.store.FindRoom(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []MessageView{}, nil
		}
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, len(messages))
	for i := range messages {
		views[i] = newMessageView(&messages[i], p.ID)
	}
	return views, nil
}

// Send stores a message from p to the counterparty, broadcasts it to any
// live sessions on the room and notifies the counterparty.
func (s *PrivateService) Send(ctx context.Context, p Principal, ref ContextRef, req SendRequest) (*MessageView, error) {
	text, err := cleanText(req.Text)
	if err != nil {
		return nil, err
	}

	pt, err := s.counterparty(ctx, p, ref, req.UserID)
	if err != nil {
		return nil, err
	}
	if pt == nil {
		return nil, ErrCounterpartyRequired
	}

	room, err := s.registry.ResolvePrivate(ctx, ref, p.ID, pt.other.ID)
	if err != nil {
		return nil, err
	}

	msg, err := s.post(ctx, room, p, pt, text)
	if err != nil {
		return nil, err
	}
	view := newMessageView(msg, p.ID)
	return &view, nil
}

// Connect resolves the room a private websocket session joins.
func (s *PrivateService) Connect(ctx context.Context, p Principal, ref ContextRef, userID *int) (*Room, PostFunc, error) {
	pt, err := s.counterparty(ctx, p, ref, userID)
	if err != nil {
		return nil, nil, err
	}
	if pt == nil {
		return nil, nil, ErrCounterpartyRequired
	}

	room, err := s.registry.ResolvePrivate(ctx, ref, p.ID, pt.other.ID)
	if err != nil {
		return nil, nil, err
	}

	post := func(ctx context.Context, text string) error {
		text, err := cleanText(text)
		if err != nil {
			return err
		}
		_, err = s.post(ctx, room, p, pt, text)
		return err
	}
	return room, post, nil
}

func (s *PrivateService) post(ctx context.Context, room *Room, p Principal, pt *party, text string) (*Message, error) {
	msg, err := s.store.AppendMessage(ctx, room.ID, p, text)
	if err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(string(RoomPrivate)).Inc()

	// The message is durable from here on; fan-out and notification
	// failures are logged, not returned.
	if err := publishMessage(ctx, s.hub, room.Key, msg); err != nil {
		s.logger.Warn().Err(err).Str("room", room.Key.String()).Msg("private message not broadcast")
	}
	s.notify(ctx, p, pt, msg)
	return msg, nil
}

func (s *PrivateService) notify(ctx context.Context, p Principal, pt *party, msg *Message) {
	if s.notifier == nil {
		return
	}

	ref := pt.info.Ref
	n := &notification.Notification{
		RecipientID:    pt.other.ID,
		SenderID:       p.ID,
		SenderUsername: p.Username,
		Message:        notification.MessageText(p.Username, pt.info.Title, msg.Text),
	}
	if ref.Kind == ContextJob {
		n.Kind = notification.KindJobMessage
		n.JobID = &ref.ID
	} else {
		n.Kind = notification.KindIssueMessage
		n.IssueID = &ref.ID
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error().Err(err).Int("message_id", msg.ID).Int("recipient_id", pt.other.ID).Msg("notification failed")
	}
}

// Conversations lists every private chat p has under ref with the latest
// message of each.
func (s *PrivateService) Conversations(ctx context.Context, p Principal, ref ContextRef) ([]Conversation, error) {
	if p.ID == 0 {
		return nil, ErrUnauthenticated
	}
	if _, err := s.dir.Context(ctx, ref); err != nil {
		return nil, err
	}

	rooms, err := s.store.ListPrivateRooms(ctx, ref, p.ID)
	if err != nil {
		return nil, err
	}

	conversations := make([]Conversation, 0, len(rooms))
	for _, room := range rooms {
		other, err := s.dir.User(ctx, room.Key.Other(p.ID))
		if err != nil {
			return nil, err
		}
		conv := Conversation{UserID: other.ID, Username: other.Username}

		latest, err := s.store.LatestMessage(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			conv.LatestMessage = &LatestMessage{
				Text:      latest.Text,
				CreatedAt: latest.CreatedAt,
				Sender:    latest.SenderName,
			}
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}
