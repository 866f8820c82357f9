package notification

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("notification not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (recipient_id, sender_id, kind, job_id, issue_id, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_read, created_at
	`
	return r.db.QueryRowContext(ctx, query, n.RecipientID, n.SenderID, string(n.Kind), n.JobID, n.IssueID, n.Message).
		Scan(&n.ID, &n.IsRead, &n.CreatedAt)
}

func (r *Repository) ListForRecipient(ctx context.Context, recipientID int) ([]Notification, error) {
	query := `
		SELECT n.id, n.recipient_id, n.sender_id, u.username, n.kind, n.job_id, n.issue_id,
		       j.title, i.title, n.message, n.is_read, n.created_at
		FROM notifications n
		JOIN users u ON n.sender_id = u.id
		LEFT JOIN jobs j ON n.job_id = j.id
		LEFT JOIN issues i ON n.issue_id = i.id
		WHERE n.recipient_id = $1
		ORDER BY n.created_at DESC, n.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.SenderUsername, &n.Kind, &n.JobID, &n.IssueID,
			&n.JobTitle, &n.IssueTitle, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *Repository) UnreadCount(ctx context.Context, recipientID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read", recipientID).Scan(&count)
	return count, err
}

// MarkRead flags one notification as read. It only touches rows owned by
// recipientID.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2", id, recipientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, recipientID int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read", recipientID)
	return err
}
