package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"talk-pdf/internal/domain"
)

var (
	ErrLoginRequired       = errors.New("session: login required")
	ErrNotReady            = errors.New("session: a conversation, a question and a document are required")
	ErrAskInFlight         = errors.New("session: an ask is already in flight")
	ErrUnknownConversation = errors.New("session: unknown conversation")
)

// ErrCancelled is returned by a Prompter when the user backs out.
var ErrCancelled = errors.New("session: cancelled")

// SessionSource supplies the signed-in identity.
type SessionSource interface {
	Resolve(ctx context.Context) (token string, user domain.User, err error)
	SignOut(ctx context.Context, token string) error
}

// Store is the transcript store as seen by the client.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListEntries(ctx context.Context, conversationID string) ([]domain.Entry, error)
}

// Asker sends one question about a document to the Answer Service.
type Asker interface {
	Ask(ctx context.Context, token, conversationID, question, pdfBase64 string) (string, error)
}

// Prompter collects interactive input.
type Prompter interface {
	Title(ctx context.Context) (string, error)
	Confirm(ctx context.Context, message string) (bool, error)
}

// Controller serializes state changes behind one mutex. Store and network
// calls run outside the lock and their results are applied as patches.
type Controller struct {
	source   SessionSource
	store    Store
	asker    Asker
	prompter Prompter
	readFile func(string) ([]byte, error)
	now      func() time.Time

	mu    sync.Mutex
	state State
}

func NewController(source SessionSource, store Store, asker Asker, prompter Prompter) (*Controller, error) {
	if source == nil {
		return nil, errors.New("session: session source must not be nil")
	}
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	if asker == nil {
		return nil, errors.New("session: asker must not be nil")
	}
	if prompter == nil {
		return nil, errors.New("session: prompter must not be nil")
	}
	return &Controller{
		source:   source,
		store:    store,
		asker:    asker,
		prompter: prompter,
		readFile: os.ReadFile,
		now:      time.Now,
		state:    State{Phase: Unauthenticated},
	}, nil
}

func (c *Controller) apply(p Patch) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = p(c.state)
	return c.state.clone()
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Display returns the active transcript in reading order.
func (c *Controller) Display() []Row {
	return c.State().Transcript
}

// Start resolves the saved session and loads the user's conversations.
func (c *Controller) Start(ctx context.Context) error {
	token, user, err := c.source.Resolve(ctx)
	if err != nil {
		c.apply(signedOut())
		return fmt.Errorf("%w: %w", ErrLoginRequired, err)
	}

	convs, err := c.store.ListConversations(ctx, user.ID)
	if err != nil {
		slog.WarnContext(ctx, "listing conversations failed", "user_id", user.ID, "err", err)
		convs = nil
	}
	c.apply(signedIn(user, token, convs, err))
	return nil
}

func (c *Controller) signedInUser() (domain.User, error) {
	st := c.State()
	if st.Phase == Unauthenticated {
		return domain.User{}, ErrLoginRequired
	}
	return st.User, nil
}

// Select makes id the active conversation and replaces the transcript with
// the stored history.
func (c *Controller) Select(ctx context.Context, id string) error {
	st := c.State()
	if st.Phase == Unauthenticated {
		return ErrLoginRequired
	}
	if !containsConversation(st.Conversations, id) {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	entries, err := c.store.ListEntries(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "loading transcript failed", "conversation_id", id, "err", err)
		c.apply(selected(id, nil, err))
		return nil
	}
	c.apply(selected(id, rowsFromEntries(entries), nil))
	return nil
}

// Create prompts for a title and starts a new conversation. It reports false
// when the user cancels or enters nothing.
func (c *Controller) Create(ctx context.Context) (domain.Conversation, bool, error) {
	user, err := c.signedInUser()
	if err != nil {
		return domain.Conversation{}, false, err
	}

	title, err := c.prompter.Title(ctx)
	if errors.Is(err, ErrCancelled) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, false, nil
	}

	conv, err := c.store.CreateConversation(ctx, user.ID, title)
	if err != nil {
		c.apply(failed(err))
		return domain.Conversation{}, false, err
	}
	c.apply(created(conv))
	return conv, true, nil
}

// Delete asks for confirmation, then removes the conversation and its
// history. Unknown ids are a no-op.
func (c *Controller) Delete(ctx context.Context, id string) (bool, error) {
	st := c.State()
	if st.Phase == Unauthenticated {
		return false, ErrLoginRequired
	}
	var conv domain.Conversation
	found := false
	for _, cv := range st.Conversations {
		if cv.ID == id {
			conv, found = cv, true
			break
		}
	}
	if !found {
		return false, nil
	}

	ok, err := c.prompter.Confirm(ctx, fmt.Sprintf("Delete %q and its history?", conv.Title))
	if errors.Is(err, ErrCancelled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := c.store.DeleteConversation(ctx, id); err != nil {
		c.apply(failed(err))
		return false, err
	}
	c.apply(deleted(id))
	return true, nil
}

func (c *Controller) SetDraft(question string) {
	c.apply(func(s State) State {
		s.Draft = question
		return s
	})
}

// SetDocument selects the PDF file sent with subsequent asks.
func (c *Controller) SetDocument(path string) {
	c.apply(func(s State) State {
		s.Document = strings.TrimSpace(path)
		return s
	})
}

// Ask sends the draft and document for the active conversation. At most one
// ask is in flight; the resulting row is appended on every outcome.
func (c *Controller) Ask(ctx context.Context) (Row, error) {
	c.mu.Lock()
	st := c.state
	if st.Pending {
		c.mu.Unlock()
		return Row{}, ErrAskInFlight
	}
	question := strings.TrimSpace(st.Draft)
	if st.Phase != ConversationActive || st.Active == "" || question == "" || st.Document == "" {
		c.mu.Unlock()
		return Row{}, ErrNotReady
	}
	c.state = askStarted()(c.state)
	gen := c.state.Gen
	c.mu.Unlock()

	answer, err := c.send(ctx, st.Token, st.Active, question, st.Document)
	row := Row{Question: question, Answer: answer, At: c.now()}
	if err != nil {
		row.Answer = err.Error()
		row.Failed = true
	}
	c.apply(answered(st.Active, gen, row))
	return row, err
}

func (c *Controller) send(ctx context.Context, token, convID, question, path string) (string, error) {
	doc, err := c.readFile(path)
	if err != nil {
		return "", fmt.Errorf("session: read document: %w", err)
	}
	return c.asker.Ask(ctx, token, convID, question, base64.StdEncoding.EncodeToString(doc))
}

// SignOut ends the session remotely and resets local state regardless of
// the outcome.
func (c *Controller) SignOut(ctx context.Context) error {
	st := c.State()
	var err error
	if st.Token != "" {
		err = c.source.SignOut(ctx, st.Token)
	}
	c.apply(signedOut())
	return err
}

func containsConversation(convs []domain.Conversation, id string) bool {
	for _, c := range convs {
		if c.ID == id {
			return true
		}
	}
	return false
}
