package chat

import (
	"context"
	"errors"
	"fmt"

	"jobchat/internal/metrics"
)

// maxResolveAttempts bounds find/create rounds. A conflict means another
// writer just created the row, so the next find succeeds; more than a couple
// of rounds only happens if rooms are being deleted concurrently.
const maxResolveAttempts = 3

// Registry maps room keys to persisted rooms, creating them on first use.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// ResolveGroup returns the room for an (issue, job) pair.
func (r *Registry) ResolveGroup(ctx context.Context, issueID, jobID int) (*Room, error) {
	return r.Resolve(ctx, GroupKey(issueID, jobID))
}

// ResolvePrivate returns the room for a and b under ref. Argument order does
// not matter.
func (r *Registry) ResolvePrivate(ctx context.Context, ref ContextRef, a, b int) (*Room, error) {
	key, err := PrivateKey(ref, a, b)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, key)
}

// Resolve is an idempotent get-or-create. Uniqueness is enforced by the
// store; losing a creation race falls back to a lookup.
func (r *Registry) Resolve(ctx context.Context, key RoomKey) (*Room, error) {
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		room, err := r.store.FindRoom(ctx, key)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("find room %s: %w", key, err)
		}

		room, err = r.store.CreateRoom(ctx, key)
		switch {
		case err == nil:
			metrics.RoomsCreated.WithLabelValues(string(key.Kind)).Inc()
			return room, nil
		case errors.Is(err, ErrConflict):
			metrics.RoomCreateConflicts.Inc()
			continue
		default:
			return nil, fmt.Errorf("create room %s: %w", key, err)
		}
	}
	return nil, fmt.Errorf("resolve room %s: gave up after %d attempts", key, maxResolveAttempts)
}
