package chat

import "time"

// ---------------------------------------------
// Database & API models
// ---------------------------------------------

// Principal is the authenticated user behind a request or connection.
type Principal struct {
	ID       int
	Username string
}

type Room struct {
	ID        int       `json:"id"`
	Key       RoomKey   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID         int       `json:"id"`
	RoomID     int       `json:"room_id"`
	SenderID   int       `json:"sender_id"`
	SenderName string    `json:"sender"` // denormalized via JOIN
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContextInfo is the job or issue a room is about.
type ContextInfo struct {
	Ref     ContextRef
	OwnerID int
	Title   string
}

// Participant is a user as seen by the chat core.
type Participant struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// ---------------------------------------------
// Websocket frames
// ---------------------------------------------

// InboundFrame is what the browser sends. It never carries a sender: the
// sender is always the connection's principal. Text rules live in cleanText.
type InboundFrame struct {
	Message string `json:"message"`
}

// OutboundFrame is broadcast to every connection in the room.
type OutboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

const frameTypeChatMessage = "chat_message"

func newOutboundFrame(msg *Message) OutboundFrame {
	return OutboundFrame{
		Type:      frameTypeChatMessage,
		Message:   msg.Text,
		Sender:    msg.SenderName,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ---------------------------------------------
// Private chat HTTP views
// ---------------------------------------------

type MessageView struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	IsSender  bool      `json:"is_sender"`
	CreatedAt time.Time `json:"created_at"`
}

type LatestMessage struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Sender    string    `json:"sender"`
}

type Conversation struct {
	UserID        int            `json:"user_id"`
	Username      string         `json:"username"`
	LatestMessage *LatestMessage `json:"latest_message"`
}

type SendRequest struct {
	Text   string `json:"text"`
	UserID *int   `json:"user_id,omitempty"`
}

func newMessageView(msg *Message, viewer int) MessageView {
	return MessageView{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.SenderName,
		IsSender:  msg.SenderID == viewer,
		CreatedAt: msg.CreatedAt,
	}
}
