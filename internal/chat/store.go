package chat

import "context"

// Store persists rooms and messages. Implementations must enforce room key
// uniqueness themselves and report a lost creation race as ErrConflict.
type Store interface {
	FindRoom(ctx context.Context, key RoomKey) (*Room, error)
	CreateRoom(ctx context.Context, key RoomKey) (*Room, error)
	AppendMessage(ctx context.Context, roomID int, sender Principal, text string) (*Message, error)
	ListMessages(ctx context.Context, roomID int) ([]Message, error)
	// LatestMessage returns nil, nil for a room with no messages.
	LatestMessage(ctx context.Context, roomID int) (*Message, error)
	ListPrivateRooms(ctx context.Context, ref ContextRef, userID int) ([]Room, error)
}

// Directory answers identity questions about users, jobs and issues.
type Directory interface {
	Context(ctx context.Context, ref ContextRef) (*ContextInfo, error)
	User(ctx context.Context, id int) (*Participant, error)
}
