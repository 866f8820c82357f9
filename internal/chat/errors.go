package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("not a participant of this chat")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("invalid request")

	ErrSelfChat             = fmt.Errorf("%w: cannot send messages to yourself", ErrValidation)
	ErrCounterpartyRequired = fmt.Errorf("%w: user_id is required", ErrValidation)
	ErrEmptyMessage         = fmt.Errorf("%w: message text is required", ErrValidation)

	// ErrConflict reports a unique-key race on room creation. The registry
	// turns it into a lookup; callers never see it.
	ErrConflict = errors.New("room already exists")
)

// statusFor maps a chat error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
