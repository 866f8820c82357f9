package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func subscribed(t *testing.T, hub *Hub, key RoomKey, userID int) *Client {
	t.Helper()
	c := newClient(hub, Principal{ID: userID, Username: fmt.Sprintf("u%d", userID)}, time.Minute, zerolog.Nop())
	c.authorize(&Room{ID: 1, Key: key}, nil)
	if err := c.subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if c.State() != StateSubscribed {
		t.Fatalf("expected subscribed, got %s", c.State())
	}
	return c
}

func TestHubFansOutToEveryRoomMember(t *testing.T) {
	hub := startHub(t, nil)
	room := GroupKey(7, 3)
	sender := subscribed(t, hub, room, 1)
	peer := subscribed(t, hub, room, 4)
	outsider := subscribed(t, hub, GroupKey(7, 4), 2)

	if err := hub.Publish(context.Background(), room, []byte(`"hi"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range []*Client{sender, peer} {
		if got := string(receive(t, c)); got != `"hi"` {
			t.Fatalf("client %d got %s", c.Principal.ID, got)
		}
	}
	assertNothingPending(t, outsider)
}

func TestHubLateSubscriberSeesOnlyLaterEvents(t *testing.T) {
	hub := startHub(t, nil)
	room := GroupKey(1, 1)
	early := subscribed(t, hub, room, 1)

	if err := hub.Publish(context.Background(), room, []byte(`1`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	late := subscribed(t, hub, room, 2)
	if err := hub.Publish(context.Background(), room, []byte(`2`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := string(receive(t, early)); got != "1" {
		t.Fatalf("early got %s first", got)
	}
	if got := string(receive(t, early)); got != "2" {
		t.Fatalf("early got %s second", got)
	}
	if got := string(receive(t, late)); got != "2" {
		t.Fatalf("late got %s", got)
	}
	assertNothingPending(t, late)
}

func TestHubPreservesPublishOrder(t *testing.T) {
	hub := startHub(t, nil)
	room := GroupKey(2, 2)
	a := subscribed(t, hub, room, 1)
	b := subscribed(t, hub, room, 2)

	const n = 100
	for i := 0; i < n; i++ {
		if err := hub.Publish(context.Background(), room, []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	for _, c := range []*Client{a, b} {
		for i := 0; i < n; i++ {
			if got := string(receive(t, c)); got != fmt.Sprint(i) {
				t.Fatalf("client %d: event %d was %s", c.Principal.ID, i, got)
			}
		}
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := startHub(t, nil)
	room := GroupKey(3, 3)
	c := subscribed(t, hub, room, 1)
	other := subscribed(t, hub, room, 2)

	hub.Unsubscribe(room, c)
	hub.Unsubscribe(room, c)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed send buffer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send buffer not closed")
	}

	if err := hub.Publish(context.Background(), room, []byte(`"after"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := string(receive(t, other)); got != `"after"` {
		t.Fatalf("remaining member got %s", got)
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := startHub(t, nil)
	room := GroupKey(4, 4)
	slow := subscribed(t, hub, room, 1)

	for i := 0; i <= sendBuffer; i++ {
		if err := hub.Publish(context.Background(), room, []byte(`0`)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	// The run loop handles one request at a time, so once this subscription
	// is accepted the last fan-out has finished.
	subscribed(t, hub, GroupKey(5, 5), 2)

	// Drain: exactly sendBuffer events were queued, then the buffer was closed.
	got := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				if got != sendBuffer {
					t.Fatalf("expected %d buffered events, got %d", sendBuffer, got)
				}
				return
			}
			got++
		case <-timeout:
			t.Fatal("slow consumer was not dropped")
		}
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := newClient(hub, Principal{ID: 1, Username: "u1"}, time.Minute, zerolog.Nop())
	c.authorize(&Room{ID: 1, Key: GroupKey(1, 2)}, nil)
	if err := c.subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	<-done

	if _, ok := <-c.send; ok {
		t.Fatal("expected send buffer closed on stop")
	}
	late := newClient(hub, Principal{ID: 2, Username: "u2"}, time.Minute, zerolog.Nop())
	if err := hub.Subscribe(GroupKey(1, 2), late); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
	if err := hub.Publish(context.Background(), GroupKey(1, 2), []byte(`1`)); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
	// Closing after stop must not block.
	c.Close()
}

// loopbackRelay stands in for Redis: everything published comes straight
// back through Listen.
type loopbackRelay struct {
	events chan relayEnvelope
}

func (r *loopbackRelay) Publish(ctx context.Context, key RoomKey, payload []byte) error {
	r.events <- relayEnvelope{Room: key.String(), Payload: payload}
	return nil
}

func (r *loopbackRelay) Listen(ctx context.Context, deliver func(RoomKey, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.events:
			key, err := ParseRoomKey(env.Room)
			if err != nil {
				return err
			}
			deliver(key, env.Payload)
		}
	}
}

func TestHubPublishesThroughRelay(t *testing.T) {
	relay := &loopbackRelay{events: make(chan relayEnvelope, 8)}
	hub := startHub(t, relay)
	room, _ := PrivateKey(ContextRef{Kind: ContextIssue, ID: 8}, 10, 1)
	c := subscribed(t, hub, room, 1)

	if err := hub.Publish(context.Background(), room, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := string(receive(t, c)); got != `{"n":1}` {
		t.Fatalf("got %s", got)
	}
}

// flakyRelay fails its first Listen, like a Redis subscription attempted
// during an outage.
type flakyRelay struct {
	loopbackRelay
	attempts atomic.Int32
}

func (r *flakyRelay) Listen(ctx context.Context, deliver func(RoomKey, []byte)) error {
	if r.attempts.Add(1) == 1 {
		return errors.New("connection refused")
	}
	return r.loopbackRelay.Listen(ctx, deliver)
}

func TestHubResubscribesAfterRelayFailure(t *testing.T) {
	relay := &flakyRelay{loopbackRelay: loopbackRelay{events: make(chan relayEnvelope, 8)}}
	hub := NewHub(relay, zerolog.Nop())
	hub.retryMin = 10 * time.Millisecond
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

	room := GroupKey(9, 9)
	c := subscribed(t, hub, room, 1)
	if err := hub.Publish(context.Background(), room, []byte(`"echo"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := string(receive(t, c)); got != `"echo"` {
		t.Fatalf("got %s", got)
	}
	if n := relay.attempts.Load(); n < 2 {
		t.Fatalf("expected the relay to be resubscribed, got %d attempts", n)
	}
}

func TestDecodeRelayMessage(t *testing.T) {
	key, payload, err := decodeRelayMessage(`{"room":"group:7:3","payload":{"type":"chat_message"}}`)
	if err != nil {
		t.Fatalf("decodeRelayMessage: %v", err)
	}
	if key != GroupKey(7, 3) {
		t.Fatalf("unexpected key %v", key)
	}
	if string(payload) != `{"type":"chat_message"}` {
		t.Fatalf("unexpected payload %s", payload)
	}

	for _, raw := range []string{`not json`, `{"room":"nope","payload":{}}`} {
		if _, _, err := decodeRelayMessage(raw); err == nil {
			t.Errorf("decodeRelayMessage(%q): expected error", raw)
		}
	}
}
