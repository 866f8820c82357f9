package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

// Ping checks the database connection.
func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the schema. Room identity lives entirely in the unique
// indexes on rooms: concurrent first contact from several server instances
// is settled here, not in process memory.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            username VARCHAR(150) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS jobs (
            id SERIAL PRIMARY KEY,
            title VARCHAR(200) NOT NULL,
            created_by INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS issues (
            id SERIAL PRIMARY KEY,
            title VARCHAR(200) NOT NULL,
            user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('group', 'private')),
            issue_id INT REFERENCES issues(id) ON DELETE CASCADE,
            job_id INT REFERENCES jobs(id) ON DELETE CASCADE,
            participant_low INT REFERENCES users(id) ON DELETE CASCADE,
            participant_high INT REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK (
                (kind = 'group' AND issue_id IS NOT NULL AND job_id IS NOT NULL
                    AND participant_low IS NULL AND participant_high IS NULL)
                OR
                (kind = 'private' AND (issue_id IS NULL) <> (job_id IS NULL)
                    AND participant_low < participant_high)
            )
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_group_key
            ON rooms (issue_id, job_id) WHERE kind = 'group'`,

		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_private_job_key
            ON rooms (job_id, participant_low, participant_high)
            WHERE kind = 'private' AND job_id IS NOT NULL`,

		`CREATE UNIQUE INDEX IF NOT EXISTS rooms_private_issue_key
            ON rooms (issue_id, participant_low, participant_high)
            WHERE kind = 'private' AND issue_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE INDEX IF NOT EXISTS messages_room_created
            ON messages (room_id, created_at, id)`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id SERIAL PRIMARY KEY,
            recipient_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            sender_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            kind VARCHAR(20) NOT NULL CHECK (kind IN ('job_message', 'issue_message')),
            job_id INT REFERENCES jobs(id) ON DELETE CASCADE,
            issue_id INT REFERENCES issues(id) ON DELETE CASCADE,
            message TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE INDEX IF NOT EXISTS notifications_recipient
            ON notifications (recipient_id, created_at DESC)`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
