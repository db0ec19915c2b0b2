package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk-pdf/internal/domain"
)

// PostgresSchema matches the tables used by the hosted deployment. Entries
// carry no foreign key: deletion is two sequential statements and an
// interrupted delete may leave orphans that a retry removes.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    title      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS chat_history (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    question        TEXT NOT NULL,
    response        TEXT NOT NULL,
    timestamp       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_history_conversation ON chat_history(conversation_id, timestamp);
`

const pgUniqueViolation = "23505"

// DB is the database interface used by Postgres. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db    DB
	close func()
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing connection or pool. The caller owns its lifetime.
func NewPostgres(db DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Postgres{db: db, close: func() {}}, nil
}

// ConnectPostgres opens a pool for dsn and applies the schema.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: postgres dsn must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping postgres", err)
	}
	p := &Postgres{db: pool, close: pool.Close}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate executes PostgresSchema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, user_id, title, created_at FROM conversations
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, unavailable("ListConversations", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: ListConversations scan: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListConversations rows", err)
	}
	return convs, nil
}

func (p *Postgres) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := p.db.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, unavailable("GetConversation", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (p *Postgres) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: CreateConversation: user id is required")
	}
	c := domain.Conversation{ID: newID(), UserID: userID, Title: title, CreatedAt: now()}
	_, err := p.db.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.UserID, c.Title, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", ErrConflict)
		}
		return domain.Conversation{}, unavailable("CreateConversation", err)
	}
	return c, nil
}

// DeleteConversation deletes entries first, then the conversation row.
func (p *Postgres) DeleteConversation(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM chat_history WHERE conversation_id = $1`, id); err != nil {
		return unavailable("DeleteConversation entries", err)
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return unavailable("DeleteConversation", err)
	}
	return nil
}

func (p *Postgres) ListEntries(ctx context.Context, conversationID string) ([]domain.Entry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, conversation_id, user_id, question, response, timestamp FROM chat_history
		 WHERE conversation_id = $1 ORDER BY timestamp ASC, id ASC`, conversationID)
	if err != nil {
		return nil, unavailable("ListEntries", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var (
			e  domain.Entry
			ts time.Time
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.UserID, &e.Question, &e.Answer, &ts); err != nil {
			return nil, fmt.Errorf("repository: ListEntries scan: %w", err)
		}
		e.CreatedAt = ts.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListEntries rows", err)
	}
	return entries, nil
}

func (p *Postgres) AppendEntry(ctx context.Context, e domain.Entry) error {
	if err := validateEntry("AppendEntry", e); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO chat_history (id, conversation_id, user_id, question, response, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ConversationID, e.UserID, e.Question, e.Answer, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository: AppendEntry: %w", ErrConflict)
		}
		return unavailable("AppendEntry", err)
	}
	return nil
}

// Close releases the pool when it was opened by ConnectPostgres.
func (p *Postgres) Close() error {
	p.close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
