package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGroupAuthorize(t *testing.T) {
	store := seededStore()
	svc := NewGroupService(store, store, NewRegistry(store), startHub(t, nil), zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		user    int
		issueID int
		jobID   int
		want    error
	}{
		{"issue owner", issueOwner, 7, 3, nil},
		{"job owner", jobOwner, 7, 3, nil},
		{"stranger", stranger, 7, 3, ErrUnauthorized},
		{"unknown issue", issueOwner, 404, 3, ErrNotFound},
		{"unknown job", issueOwner, 7, 404, ErrNotFound},
		{"anonymous", 0, 7, 3, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, err := svc.Authorize(ctx, principal(tt.user), tt.issueID, tt.jobID)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Authorize: %v", err)
				}
				if room.Key != GroupKey(7, 3) {
					t.Fatalf("unexpected key %v", room.Key)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if store.roomCount() != 1 {
		t.Fatalf("both owners should share one room, got %d", store.roomCount())
	}
}

func TestGroupPostKeepsStoredMessageWhenBroadcastFails(t *testing.T) {
	store := seededStore()
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	svc := NewGroupService(store, store, NewRegistry(store), hub, zerolog.Nop())
	room, err := svc.Authorize(context.Background(), principal(issueOwner), 7, 3)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	msg, err := svc.Post(context.Background(), room, principal(issueOwner), "still here")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if msg.Text != "still here" || store.messageCount() != 1 {
		t.Fatalf("expected the message stored, got %+v (%d stored)", msg, store.messageCount())
	}
}

func TestGroupPostValidatesText(t *testing.T) {
	store := seededStore()
	svc := NewGroupService(store, store, NewRegistry(store), startHub(t, nil), zerolog.Nop())
	room, err := svc.Authorize(context.Background(), principal(issueOwner), 7, 3)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	for _, text := range []string{"", " \t ", strings.Repeat("é", 4001)} {
		if _, err := svc.Post(context.Background(), room, principal(issueOwner), text); !errors.Is(err, ErrValidation) {
			t.Errorf("Post(%d runes): expected validation error, got %v", len([]rune(text)), err)
		}
	}
	if store.messageCount() != 0 {
		t.Fatalf("invalid text must not be stored, got %d", store.messageCount())
	}
}
