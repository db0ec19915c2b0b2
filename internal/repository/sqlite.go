package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"talk-pdf/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is a Store backed by a local SQLite database. Timestamps are stored
// as fixed-width UTC text so ORDER BY on them is chronological.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors; this
	// also keeps every caller on the same in-memory database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: setting busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that have not been recorded yet.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func (s *SQLite) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at FROM conversations
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, unavailable("ListConversations", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var (
			c       domain.Conversation
			created string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &created); err != nil {
			return nil, fmt.Errorf("repository: ListConversations scan: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListConversations rows", err)
	}
	return convs, nil
}

func (s *SQLite) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var (
		c       domain.Conversation
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, unavailable("GetConversation", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

func (s *SQLite) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: CreateConversation: user id is required")
	}
	c := domain.Conversation{ID: newID(), UserID: userID, Title: title, CreatedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, formatTime(c.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", ErrConflict)
		}
		return domain.Conversation{}, unavailable("CreateConversation", err)
	}
	return c, nil
}

// DeleteConversation deletes entries first, then the conversation row.
func (s *SQLite) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE conversation_id = ?`, id); err != nil {
		return unavailable("DeleteConversation entries", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return unavailable("DeleteConversation", err)
	}
	return nil
}

func (s *SQLite) ListEntries(ctx context.Context, conversationID string) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, question, response, timestamp FROM chat_history
		 WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC`, conversationID)
	if err != nil {
		return nil, unavailable("ListEntries", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var (
			e     domain.Entry
			stamp string
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.UserID, &e.Question, &e.Answer, &stamp); err != nil {
			return nil, fmt.Errorf("repository: ListEntries scan: %w", err)
		}
		if e.CreatedAt, err = parseTime(stamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListEntries rows", err)
	}
	return entries, nil
}

func (s *SQLite) AppendEntry(ctx context.Context, e domain.Entry) error {
	if err := validateEntry("AppendEntry", e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, conversation_id, user_id, question, response, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.UserID, e.Question, e.Answer, formatTime(e.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("repository: AppendEntry: %w", ErrConflict)
		}
		return unavailable("AppendEntry", err)
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
