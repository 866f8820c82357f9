package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jobchat/internal/notification"
)

// memStore is an in-memory Store and Directory. Room keys are unique the way
// the Postgres indexes make them unique: a second CreateRoom for the same
// key reports ErrConflict.
type memStore struct {
	mu       sync.Mutex
	rooms    map[RoomKey]*Room
	messages map[int][]Message
	users    map[int]string
	contexts map[ContextRef]ContextInfo
	clock    time.Time
	nextRoom int
	nextMsg  int

	creates   int
	conflicts int
	// racers makes the next n CreateRoom calls lose to a simulated writer
	// on another instance.
	racers int
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[RoomKey]*Room),
		messages: make(map[int][]Message),
		users:    make(map[int]string),
		contexts: make(map[ContextRef]ContextInfo),
		clock:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (s *memStore) addUser(id int, username string) {
	s.users[id] = username
}

func (s *memStore) addContext(kind ContextKind, id, owner int, title string) ContextRef {
	ref := ContextRef{Kind: kind, ID: id}
	s.contexts[ref] = ContextInfo{Ref: ref, OwnerID: owner, Title: title}
	return ref
}

func (s *memStore) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

func (s *memStore) FindRoom(ctx context.Context, key RoomKey) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *memStore) insertLocked(key RoomKey) *Room {
	s.nextRoom++
	room := &Room{ID: s.nextRoom, Key: key, CreatedAt: s.clock}
	s.rooms[key] = room
	return room
}

func (s *memStore) CreateRoom(ctx context.Context, key RoomKey) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++

	if s.racers > 0 {
		s.racers--
		s.insertLocked(key)
		s.conflicts++
		return nil, ErrConflict
	}
	if _, ok := s.rooms[key]; ok {
		s.conflicts++
		return nil, ErrConflict
	}
	if key.Kind == RoomPrivate {
		if _, ok := s.users[key.Low]; !ok {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, key.Low)
		}
		if _, ok := s.users[key.High]; !ok {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, key.High)
		}
	}
	cp := *s.insertLocked(key)
	return &cp, nil
}

func (s *memStore) AppendMessage(ctx context.Context, roomID int, sender Principal, text string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	s.clock = s.clock.Add(time.Second)
	msg := Message{
		ID:         s.nextMsg,
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Text:       text,
		CreatedAt:  s.clock,
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return &msg, nil
}

func (s *memStore) ListMessages(ctx context.Context, roomID int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.messages[roomID]...), nil
}

func (s *memStore) LatestMessage(ctx context.Context, roomID int) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[len(msgs)-1]
	return &msg, nil
}

func (s *memStore) ListPrivateRooms(ctx context.Context, ref ContextRef, userID int) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []Room
	for key, room := range s.rooms {
		if key.Kind == RoomPrivate && key.Context == ref && key.Has(userID) {
			rooms = append(rooms, *room)
		}
	}
	// Creation order, like the SQL query.
	for i := 1; i < len(rooms); i++ {
		for j := i; j > 0 && rooms[j].ID < rooms[j-1].ID; j-- {
			rooms[j], rooms[j-1] = rooms[j-1], rooms[j]
		}
	}
	return rooms, nil
}

func (s *memStore) Context(ctx context.Context, ref ContextRef) (*ContextInfo, error) {
	info, ok := s.contexts[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return &info, nil
}

func (s *memStore) User(ctx context.Context, id int) (*Participant, error) {
	name, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return &Participant{ID: id, Username: name}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []*notification.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note *notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) sent() []*notification.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*notification.Notification{}, n.notes...)
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, relay Relay) *Hub {
	t.Helper()
	hub := NewHub(relay, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// Fixture ids used across the chat tests.
const (
	issueOwner = 1  // owns issue 7
	stranger   = 2  // owns nothing
	jobCreator = 3  // owns job 5
	jobOwner   = 4  // owns job 3
	applicant  = 10 // owns issue 8
)

func seededStore() *memStore {
	s := newMemStore()
	s.addUser(issueOwner, "u1")
	s.addUser(stranger, "u2")
	s.addUser(jobCreator, "u3")
	s.addUser(jobOwner, "u4")
	s.addUser(applicant, "u10")
	s.addContext(ContextIssue, 7, issueOwner, "Leaky roof")
	s.addContext(ContextIssue, 8, applicant, "Broken fence")
	s.addContext(ContextJob, 3, jobOwner, "Roof repair")
	s.addContext(ContextJob, 5, jobCreator, "Plumbing")
	return s
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send buffer closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func assertNothingPending(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected event %s", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
