package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// ContextKind is what a private chat is about.
type ContextKind string

const (
	ContextJob   ContextKind = "job"
	ContextIssue ContextKind = "issue"
)

// ContextRef points at one job or one issue.
type ContextRef struct {
	Kind ContextKind
	ID   int
}

func ParseContextKind(s string) (ContextKind, error) {
	switch ContextKind(s) {
	case ContextJob, ContextIssue:
		return ContextKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown chat context %q", ErrNotFound, s)
}

func (r ContextRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

type RoomKind string

const (
	RoomGroup   RoomKind = "group"
	RoomPrivate RoomKind = "private"
)

// RoomKey identifies a room. It is comparable and used directly as a map key.
// Build it with GroupKey or PrivateKey; the zero value identifies nothing.
//
// A group key is the (issue, job) pair. A private key is the context plus
// the two participants ordered by id, so it does not depend on who made
// first contact.
type RoomKey struct {
	Kind    RoomKind
	IssueID int // group only
	JobID   int // group only
	Context ContextRef
	Low     int
	High    int
}

func GroupKey(issueID, jobID int) RoomKey {
	return RoomKey{Kind: RoomGroup, IssueID: issueID, JobID: jobID}
}

// PrivateKey returns the canonical key for a chat between a and b.
func PrivateKey(ref ContextRef, a, b int) (RoomKey, error) {
	if a == b {
		return RoomKey{}, ErrSelfChat
	}
	if a > b {
		a, b = b, a
	}
	return RoomKey{Kind: RoomPrivate, Context: ref, Low: a, High: b}, nil
}

// Has reports whether userID is one of the two private participants.
func (k RoomKey) Has(userID int) bool {
	return k.Kind == RoomPrivate && (k.Low == userID || k.High == userID)
}

// Other returns the participant that is not userID.
func (k RoomKey) Other(userID int) int {
	if k.Low == userID {
		return k.High
	}
	return k.Low
}

func (k RoomKey) String() string {
	switch k.Kind {
	case RoomGroup:
		return fmt.Sprintf("group:%d:%d", k.IssueID, k.JobID)
	case RoomPrivate:
		return fmt.Sprintf("private:%s:%d:%d:%d", k.Context.Kind, k.Context.ID, k.Low, k.High)
	}
	return "invalid"
}

// ParseRoomKey is the inverse of RoomKey.String.
func ParseRoomKey(s string) (RoomKey, error) {
	parts := strings.Split(s, ":")
	ints := func(fields []string) ([]int, error) {
		out := make([]int, len(fields))
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("room key %q: %w", s, err)
			}
			out[i] = n
		}
		return out, nil
	}

	switch {
	case len(parts) == 3 && parts[0] == string(RoomGroup):
		ids, err := ints(parts[1:])
		if err != nil {
			return RoomKey{}, err
		}
		return GroupKey(ids[0], ids[1]), nil

	case len(parts) == 5 && parts[0] == string(RoomPrivate):
		kind, err := ParseContextKind(parts[1])
		if err != nil {
			return RoomKey{}, err
		}
		ids, err := ints(parts[2:])
		if err != nil {
			return RoomKey{}, err
		}
		key, err := PrivateKey(ContextRef{Kind: kind, ID: ids[0]}, ids[1], ids[2])
		if err != nil {
			return RoomKey{}, err
		}
		if key.Low != ids[1] {
			return RoomKey{}, fmt.Errorf("room key %q: participants out of order", s)
		}
		return key, nil
	}
	return RoomKey{}, fmt.Errorf("malformed room key %q", s)
}
