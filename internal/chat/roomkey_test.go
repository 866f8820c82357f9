package chat

import (
	"errors"
	"net/http"
	"testing"
)

func TestPrivateKeyIsSymmetric(t *testing.T) {
	ref := ContextRef{Kind: ContextJob, ID: 5}

	ab, err := PrivateKey(ref, 10, 3)
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	ba, err := PrivateKey(ref, 3, 10)
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	if ab != ba {
		t.Fatalf("keys differ: %v vs %v", ab, ba)
	}
	if ab.Low != 3 || ab.High != 10 {
		t.Fatalf("expected low=3 high=10, got low=%d high=%d", ab.Low, ab.High)
	}
}

func TestPrivateKeyRejectsSelfChat(t *testing.T) {
	_, err := PrivateKey(ContextRef{Kind: ContextIssue, ID: 1}, 4, 4)
	if !errors.Is(err, ErrSelfChat) {
		t.Fatalf("expected ErrSelfChat, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("self chat should be a validation error")
	}
}

func TestRoomKeysAreDistinctAcrossContexts(t *testing.T) {
	job, _ := PrivateKey(ContextRef{Kind: ContextJob, ID: 5}, 1, 2)
	issue, _ := PrivateKey(ContextRef{Kind: ContextIssue, ID: 5}, 1, 2)
	otherJob, _ := PrivateKey(ContextRef{Kind: ContextJob, ID: 6}, 1, 2)

	keys := map[RoomKey]bool{job: true, issue: true, otherJob: true, GroupKey(5, 5): true}
	if len(keys) != 4 {
		t.Fatalf("expected 4 distinct keys, got %d", len(keys))
	}
}

func TestRoomKeyStringRoundTrip(t *testing.T) {
	private, _ := PrivateKey(ContextRef{Kind: ContextIssue, ID: 12}, 9, 2)
	for _, key := range []RoomKey{GroupKey(7, 3), private} {
		parsed, err := ParseRoomKey(key.String())
		if err != nil {
			t.Fatalf("ParseRoomKey(%q): %v", key.String(), err)
		}
		if parsed != key {
			t.Fatalf("round trip changed key: %v -> %v", key, parsed)
		}
	}
}

func TestParseRoomKeyRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"group:7",
		"group:a:3",
		"private:job:5:10:3", // participants out of order
		"private:job:5:3:3",
		"private:task:5:1:2",
		"lobby:1:2",
	}
	for _, tt := range tests {
		if _, err := ParseRoomKey(tt); err == nil {
			t.Errorf("ParseRoomKey(%q): expected error", tt)
		}
	}
}

func TestKeyParticipants(t *testing.T) {
	key, _ := PrivateKey(ContextRef{Kind: ContextJob, ID: 1}, 8, 2)
	if !key.Has(8) || !key.Has(2) || key.Has(3) {
		t.Fatalf("Has reports wrong membership for %v", key)
	}
	if key.Other(8) != 2 || key.Other(2) != 8 {
		t.Fatalf("Other returned wrong participant for %v", key)
	}
	if GroupKey(1, 2).Has(1) {
		t.Fatal("group keys have no private participants")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrUnauthorized, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrSelfChat, http.StatusBadRequest},
		{ErrEmptyMessage, http.StatusBadRequest},
		{ErrCounterpartyRequired, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
