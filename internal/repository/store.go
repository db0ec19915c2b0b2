package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"talk-pdf/internal/domain"
)

var (
	// ErrNotFound is returned when a requested conversation does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when an insert collides with an existing row.
	ErrConflict = errors.New("repository: already exists")
	// ErrUnavailable wraps every transport or backend failure.
	ErrUnavailable = errors.New("repository: store unavailable")
)

// Store is the transcript store consumed by the answer service and the
// session controller. All implementations are safe for concurrent use.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListEntries(ctx context.Context, conversationID string) ([]domain.Entry, error)
	AppendEntry(ctx context.Context, entry domain.Entry) error
	Close() error
}

// sortableTime is a fixed-width UTC layout whose lexical order matches
// chronological order. RFC3339Nano trims trailing zeros and does not.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(ts time.Time) string {
	return ts.UTC().Format(sortableTime)
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(sortableTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse time %q: %w", s, err)
	}
	return ts, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("repository: %s: %w: %w", op, ErrUnavailable, err)
}

func validateEntry(op string, e domain.Entry) error {
	switch {
	case e.ID == "":
		return fmt.Errorf("repository: %s: entry id is required", op)
	case e.ConversationID == "":
		return fmt.Errorf("repository: %s: conversation id is required", op)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("repository: %s: entry timestamp is required", op)
	}
	return nil
}

var newID = func() string {
	return uuid.NewString()
}

// now is truncated to microseconds so timestamps survive a Postgres round trip.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
