// Package session holds the client-side conversation state of one signed-in
// user and the operations that move it between phases.
package session

import (
	"slices"
	"time"

	"talk-pdf/internal/domain"
)

type Phase int

const (
	Unauthenticated Phase = iota
	Authenticated
	ConversationActive
)

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case ConversationActive:
		return "conversation_active"
	default:
		return "unknown"
	}
}

// Row is one displayed exchange. Failed rows carry the error text as Answer
// and exist only locally.
type Row struct {
	Question string
	Answer   string
	At       time.Time
	Failed   bool
}

// State is a snapshot of the session. Transcript is kept oldest first.
// Gen changes whenever Transcript is replaced wholesale.
type State struct {
	Phase         Phase
	User          domain.User
	Token         string
	Conversations []domain.Conversation
	Active        string
	Transcript    []Row
	Draft         string
	Document      string
	Pending       bool
	Gen           uint64
	Err           error
}

// ActiveConversation returns the selected conversation, if any.
func (s State) ActiveConversation() (domain.Conversation, bool) {
	if s.Active == "" {
		return domain.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.Active {
			return c, true
		}
	}
	return domain.Conversation{}, false
}

func (s State) clone() State {
	s.Conversations = slices.Clone(s.Conversations)
	s.Transcript = slices.Clone(s.Transcript)
	return s
}

// Patch is a pure state transition.
type Patch func(State) State

func signedOut() Patch {
	return func(s State) State { return State{Phase: Unauthenticated, Gen: s.Gen + 1} }
}

func signedIn(user domain.User, token string, convs []domain.Conversation, err error) Patch {
	return func(s State) State {
		return State{
			Gen:           s.Gen + 1,
			Phase:         Authenticated,
			User:          user,
			Token:         token,
			Conversations: convs,
			Err:           err,
		}
	}
}

func selected(id string, rows []Row, err error) Patch {
	return func(s State) State {
		s.Phase = ConversationActive
		s.Active = id
		s.Transcript = rows
		s.Gen++
		s.Err = err
		return s
	}
}

func created(c domain.Conversation) Patch {
	return func(s State) State {
		s.Conversations = append([]domain.Conversation{c}, s.Conversations...)
		s.Phase = ConversationActive
		s.Active = c.ID
		s.Transcript = nil
		s.Gen++
		s.Err = nil
		return s
	}
}

func deleted(id string) Patch {
	return func(s State) State {
		s.Conversations = slices.DeleteFunc(slices.Clone(s.Conversations), func(c domain.Conversation) bool {
			return c.ID == id
		})
		if s.Active == id {
			s.Phase = Authenticated
			s.Active = ""
			s.Transcript = nil
			s.Gen++
		}
		s.Err = nil
		return s
	}
}

func failed(err error) Patch {
	return func(s State) State {
		s.Err = err
		return s
	}
}

func askStarted() Patch {
	return func(s State) State {
		s.Pending = true
		s.Err = nil
		return s
	}
}

// answered lands the row only if the transcript it was asked from is still
// the one on display. Reloading the same conversation counts as a change,
// since the reloaded history already holds the stored exchange.
func answered(convID string, gen uint64, row Row) Patch {
	return func(s State) State {
		s.Pending = false
		s.Draft = ""
		if s.Active == convID && s.Gen == gen {
			s.Transcript = append(slices.Clone(s.Transcript), row)
		}
		return s
	}
}

func rowsFromEntries(entries []domain.Entry) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, Row{Question: e.Question, Answer: e.Answer, At: e.CreatedAt})
	}
	return rows
}
