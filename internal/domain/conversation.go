package domain

import "time"

// User is the identity resolved from a session token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Conversation is a titled grouping of transcript entries owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a single persisted question/answer exchange. Entries are
// immutable once written and are ordered by CreatedAt.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"response"`
	CreatedAt      time.Time `json:"timestamp"`
}
