package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository is the Postgres Store and Directory.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindRoom(ctx context.Context, key RoomKey) (*Room, error) {
	var (
		query string
		args  []any
	)
	switch key.Kind {
	case RoomGroup:
		query = `SELECT id, created_at FROM rooms
			WHERE kind = 'group' AND issue_id = $1 AND job_id = $2`
		args = []any{key.IssueID, key.JobID}
	case RoomPrivate:
		query = fmt.Sprintf(`SELECT id, created_at FROM rooms
			WHERE kind = 'private' AND %s = $1 AND participant_low = $2 AND participant_high = $3`,
			contextColumn(key.Context.Kind))
		args = []any{key.Context.ID, key.Low, key.High}
	default:
		return nil, fmt.Errorf("find room: invalid key %s", key)
	}

	room := &Room{Key: key}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return room, nil
}

func (r *Repository) CreateRoom(ctx context.Context, key RoomKey) (*Room, error) {
	var (
		query string
		args  []any
	)
	switch key.Kind {
	case RoomGroup:
		query = `INSERT INTO rooms (kind, issue_id, job_id) VALUES ('group', $1, $2)
			RETURNING id, created_at`
		args = []any{key.IssueID, key.JobID}
	case RoomPrivate:
		query = fmt.Sprintf(`INSERT INTO rooms (kind, %s, participant_low, participant_high)
			VALUES ('private', $1, $2, $3) RETURNING id, created_at`, contextColumn(key.Context.Kind))
		args = []any{key.Context.ID, key.Low, key.High}
	default:
		return nil, fmt.Errorf("create room: invalid key %s", key)
	}

	room := &Room{Key: key}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&room.ID, &room.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, ErrConflict
			case pgForeignKeyViolation:
				return nil, fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
			}
		}
		return nil, err
	}
	return room, nil
}

func (r *Repository) AppendMessage(ctx context.Context, roomID int, sender Principal, text string) (*Message, error) {
	msg := &Message{
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Text:       text,
	}
	query := `INSERT INTO messages (room_id, sender_id, text) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, roomID, sender.ID, text).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, roomID int) ([]Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.text, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) LatestMessage(ctx context.Context, roomID int) (*Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.text, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`
	var msg Message
	err := r.db.QueryRowContext(ctx, query, roomID).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Text, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *Repository) ListPrivateRooms(ctx context.Context, ref ContextRef, userID int) ([]Room, error) {
	query := fmt.Sprintf(`
		SELECT id, participant_low, participant_high, created_at
		FROM rooms
		WHERE kind = 'private' AND %s = $1 AND (participant_low = $2 OR participant_high = $2)
		ORDER BY created_at ASC, id ASC
	`, contextColumn(ref.Kind))
	rows, err := r.db.QueryContext(ctx, query, ref.ID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		room := Room{Key: RoomKey{Kind: RoomPrivate, Context: ref}}
		if err := rows.Scan(&room.ID, &room.Key.Low, &room.Key.High, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Context loads the owner and title of a job or issue.
func (r *Repository) Context(ctx context.Context, ref ContextRef) (*ContextInfo, error) {
	var query string
	switch ref.Kind {
	case ContextJob:
		query = "SELECT created_by, title FROM jobs WHERE id = $1"
	case ContextIssue:
		query = "SELECT user_id, title FROM issues WHERE id = $1"
	default:
		return nil, fmt.Errorf("%w: unknown context %q", ErrNotFound, ref.Kind)
	}

	info := &ContextInfo{Ref: ref}
	if err := r.db.QueryRowContext(ctx, query, ref.ID).Scan(&info.OwnerID, &info.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %d", ErrNotFound, ref.Kind, ref.ID)
		}
		return nil, err
	}
	return info, nil
}

func (r *Repository) User(ctx context.Context, id int) (*Participant, error) {
	p := &Participant{}
	err := r.db.QueryRowContext(ctx, "SELECT id, username FROM users WHERE id = $1", id).Scan(&p.ID, &p.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// contextColumn is only ever fed a validated ContextKind.
func contextColumn(kind ContextKind) string {
	if kind == ContextIssue {
		return "issue_id"
	}
	return "job_id"
}
