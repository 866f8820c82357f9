package notification

import (
	"fmt"
	"time"
	"unicode/utf8"
)

type Kind string

const (
	KindJobMessage   Kind = "job_message"
	KindIssueMessage Kind = "issue_message"
)

// previewRunes is how much of a message a notification quotes.
const previewRunes = 50

type Notification struct {
	ID             int       `json:"id"`
	RecipientID    int       `json:"-"`
	SenderID       int       `json:"-"`
	SenderUsername string    `json:"sender_username"`
	Kind           Kind      `json:"notification_type"`
	JobID          *int      `json:"job"`
	IssueID        *int      `json:"issue"`
	JobTitle       *string   `json:"job_title,omitempty"`
	IssueTitle     *string   `json:"issue_title,omitempty"`
	Message        string    `json:"message"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Preview shortens text to previewRunes runes, marking the cut with "...".
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "..."
}

// MessageText is the body of a new-message notification.
func MessageText(sender, title, text string) string {
	return fmt.Sprintf("%s sent you a message about %q: %s", sender, title, Preview(text))
}
