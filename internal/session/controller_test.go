package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"talk-pdf/internal/domain"
)

type fakeSource struct {
	token      string
	user       domain.User
	err        error
	signOutErr error
	signOuts   []string
}

func (f *fakeSource) Resolve(context.Context) (string, domain.User, error) {
	return f.token, f.user, f.err
}

func (f *fakeSource) SignOut(_ context.Context, token string) error {
	f.signOuts = append(f.signOuts, token)
	return f.signOutErr
}

type fakeStore struct {
	mu         sync.Mutex
	convs      []domain.Conversation
	entries    map[string][]domain.Entry
	listErr    error
	entriesErr error
	createErr  error
	deleteErr  error
	deletes    []string
	created    int
}

func (f *fakeStore) ListConversations(_ context.Context, userID string) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Conversation
	for _, c := range f.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, userID, title string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Conversation{}, f.createErr
	}
	f.created++
	c := domain.Conversation{ID: fmt.Sprintf("new-%d", f.created), UserID: userID, Title: title, CreatedAt: time.Now()}
	f.convs = append([]domain.Conversation{c}, f.convs...)
	return c, nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeStore) ListEntries(_ context.Context, conversationID string) ([]domain.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	return f.entries[conversationID], nil
}

type askCall struct {
	token, conversationID, question, pdfBase64 string
}

type fakeAsker struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   []askCall
	started chan struct{}
	release chan struct{}
}

func (f *fakeAsker) Ask(_ context.Context, token, conversationID, question, pdfBase64 string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, askCall{token, conversationID, question, pdfBase64})
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.answer, f.err
}

func (f *fakeAsker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePrompter struct {
	title      string
	titleErr   error
	confirm    bool
	confirmErr error
	confirms   []string
}

func (f *fakePrompter) Title(context.Context) (string, error) { return f.title, f.titleErr }

func (f *fakePrompter) Confirm(_ context.Context, message string) (bool, error) {
	f.confirms = append(f.confirms, message)
	return f.confirm, f.confirmErr
}

type fixture struct {
	ctrl     *Controller
	source   *fakeSource
	store    *fakeStore
	asker    *fakeAsker
	prompter *fakePrompter
	docPath  string
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source: &fakeSource{token: "tok", user: domain.User{ID: "user-1", Email: "ada@example.com"}},
		store: &fakeStore{
			convs: []domain.Conversation{
				{ID: "c2", UserID: "user-1", Title: "Newer", CreatedAt: t0.Add(time.Hour)},
				{ID: "c1", UserID: "user-1", Title: "Older", CreatedAt: t0},
				{ID: "x1", UserID: "user-2", Title: "Someone else", CreatedAt: t0},
			},
			entries: map[string][]domain.Entry{
				"c1": {
					{ID: "e1", ConversationID: "c1", Question: "first", Answer: "one", CreatedAt: t0.Add(time.Minute)},
					{ID: "e2", ConversationID: "c1", Question: "second", Answer: "two", CreatedAt: t0.Add(2 * time.Minute)},
				},
			},
		},
		asker:    &fakeAsker{answer: "It is a contract."},
		prompter: &fakePrompter{title: "Contract Review", confirm: true},
	}
	ctrl, err := NewController(f.source, f.store, f.asker, f.prompter)
	require.NoError(t, err)
	ctrl.now = func() time.Time { return t0.Add(time.Hour) }
	f.ctrl = ctrl

	f.docPath = filepath.Join(t.TempDir(), "contract.pdf")
	require.NoError(t, os.WriteFile(f.docPath, []byte("%PDF-1.4 contract"), 0o600))
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
}

func (f *fixture) readyToAsk(t *testing.T, convID string) {
	t.Helper()
	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), convID))
	f.ctrl.SetDocument(f.docPath)
	f.ctrl.SetDraft("Summarize page 1")
}

func TestNewController_ValidatesDependencies(t *testing.T) {
	_, err := NewController(nil, &fakeStore{}, &fakeAsker{}, &fakePrompter{})
	require.Error(t, err)
	_, err = NewController(&fakeSource{}, nil, &fakeAsker{}, &fakePrompter{})
	require.Error(t, err)
	_, err = NewController(&fakeSource{}, &fakeStore{}, nil, &fakePrompter{})
	require.Error(t, err)
	_, err = NewController(&fakeSource{}, &fakeStore{}, &fakeAsker{}, nil)
	require.Error(t, err)
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, Unauthenticated, f.ctrl.State().Phase)

	f.start(t)
	st := f.ctrl.State()
	require.Equal(t, Authenticated, st.Phase)
	require.Equal(t, "tok", st.Token)
	require.Equal(t, "user-1", st.User.ID)
	require.Len(t, st.Conversations, 2)
	require.Equal(t, "c2", st.Conversations[0].ID)
	require.NoError(t, st.Err)
}

func TestStart_NoSession(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("no saved session")

	err := f.ctrl.Start(context.Background())
	require.ErrorIs(t, err, ErrLoginRequired)
	require.Equal(t, Unauthenticated, f.ctrl.State().Phase)
}

func TestStart_ListFailureLeavesEmptyList(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("store down")

	require.NoError(t, f.ctrl.Start(context.Background()))
	st := f.ctrl.State()
	require.Equal(t, Authenticated, st.Phase)
	require.Empty(t, st.Conversations)
	require.EqualError(t, st.Err, "store down")
}

func TestOperationsRequireLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.ctrl.Select(ctx, "c1"), ErrLoginRequired)
	_, _, err := f.ctrl.Create(ctx)
	require.ErrorIs(t, err, ErrLoginRequired)
	_, err = f.ctrl.Delete(ctx, "c1")
	require.ErrorIs(t, err, ErrLoginRequired)
	_, err = f.ctrl.Ask(ctx)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSelect_ReplacesTranscriptWholesale(t *testing.T) {
	f := newFixture(t)
	f.readyToAsk(t, "c2")
	_, err := f.ctrl.Ask(context.Background())
	require.NoError(t, err)
	require.Len(t, f.ctrl.Display(), 1)

	require.NoError(t, f.ctrl.Select(context.Background(), "c1"))
	st := f.ctrl.State()
	require.Equal(t, ConversationActive, st.Phase)
	require.Equal(t, "c1", st.Active)

	rows := f.ctrl.Display()
	require.Len(t, rows, 2)
	require.Equal(t, "first", rows[0].Question)
	require.Equal(t, "two", rows[1].Answer)

	conv, ok := st.ActiveConversation()
	require.True(t, ok)
	require.Equal(t, "Older", conv.Title)
}

func TestSelect_UnknownConversation(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	err := f.ctrl.Select(context.Background(), "x1")
	require.ErrorIs(t, err, ErrUnknownConversation)
	require.Equal(t, Authenticated, f.ctrl.State().Phase)
}

func TestSelect_ListingFailure(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.store.entriesErr = errors.New("timeout")

	require.NoError(t, f.ctrl.Select(context.Background(), "c1"))
	st := f.ctrl.State()
	require.Equal(t, ConversationActive, st.Phase)
	require.Empty(t, st.Transcript)
	require.EqualError(t, st.Err, "timeout")
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	conv, ok, err := f.ctrl.Create(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Contract Review", conv.Title)

	st := f.ctrl.State()
	require.Equal(t, ConversationActive, st.Phase)
	require.Equal(t, conv.ID, st.Active)
	require.Equal(t, conv.ID, st.Conversations[0].ID)
	require.Len(t, st.Conversations, 3)
	require.Empty(t, st.Transcript)
}

func TestCreate_CancelledOrEmptyTitleChangesNothing(t *testing.T) {
	for name, p := range map[string]*fakePrompter{
		"empty":     {title: "   "},
		"cancelled": {titleErr: ErrCancelled},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.prompter.title, f.prompter.titleErr = p.title, p.titleErr
			f.start(t)
			before := f.ctrl.State()

			_, ok, err := f.ctrl.Create(context.Background())
			require.NoError(t, err)
			require.False(t, ok)
			require.Equal(t, before, f.ctrl.State())
			require.Zero(t, f.store.created)
		})
	}
}

func TestCreate_StoreFailureLeavesListUnchanged(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.store.createErr = errors.New("insert failed")

	_, ok, err := f.ctrl.Create(context.Background())
	require.Error(t, err)
	require.False(t, ok)
	st := f.ctrl.State()
	require.Len(t, st.Conversations, 2)
	require.Equal(t, Authenticated, st.Phase)
	require.Error(t, st.Err)
}

func TestDelete_ActiveConversation(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), "c1"))

	ok, err := f.ctrl.Delete(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"c1"}, f.store.deletes)
	require.Equal(t, []string{`Delete "Older" and its history?`}, f.prompter.confirms)

	st := f.ctrl.State()
	require.Equal(t, Authenticated, st.Phase)
	require.Empty(t, st.Active)
	require.Empty(t, st.Transcript)
	require.Len(t, st.Conversations, 1)
	require.Equal(t, "c2", st.Conversations[0].ID)
}

func TestDelete_InactiveKeepsSelection(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), "c1"))

	ok, err := f.ctrl.Delete(context.Background(), "c2")
	require.NoError(t, err)
	require.True(t, ok)
	st := f.ctrl.State()
	require.Equal(t, "c1", st.Active)
	require.Len(t, st.Transcript, 2)
}

func TestDelete_DeclinedOrUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.prompter.confirm = false
	ok, err := f.ctrl.Delete(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.ctrl.Delete(context.Background(), "already-gone")
	require.NoError(t, err)
	require.False(t, ok)

	require.Empty(t, f.store.deletes)
	require.Len(t, f.prompter.confirms, 1)
	require.Len(t, f.ctrl.State().Conversations, 2)
}

func TestDelete_StoreFailureKeepsConversation(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.store.deleteErr = errors.New("delete failed")

	ok, err := f.ctrl.Delete(context.Background(), "c1")
	require.Error(t, err)
	require.False(t, ok)
	require.Len(t, f.ctrl.State().Conversations, 2)
}

func TestAsk_NotReady(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.ctrl.SetDraft("q")
	f.ctrl.SetDocument(f.docPath)
	_, err := f.ctrl.Ask(ctx)
	require.ErrorIs(t, err, ErrNotReady, "no active conversation")

	require.NoError(t, f.ctrl.Select(ctx, "c2"))
	f.ctrl.SetDraft("  ")
	_, err = f.ctrl.Ask(ctx)
	require.ErrorIs(t, err, ErrNotReady, "blank draft")

	f.ctrl.SetDraft("q")
	f.ctrl.SetDocument("")
	_, err = f.ctrl.Ask(ctx)
	require.ErrorIs(t, err, ErrNotReady, "no document")

	require.Zero(t, f.asker.callCount())
}

func TestAsk_Success(t *testing.T) {
	f := newFixture(t)
	f.readyToAsk(t, "c2")

	row, err := f.ctrl.Ask(context.Background())
	require.NoError(t, err)
	require.Equal(t, Row{Question: "Summarize page 1", Answer: "It is a contract.", At: t0.Add(time.Hour)}, row)

	require.Len(t, f.asker.calls, 1)
	call := f.asker.calls[0]
	require.Equal(t, "tok", call.token)
	require.Equal(t, "c2", call.conversationID)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 contract")), call.pdfBase64)

	st := f.ctrl.State()
	require.False(t, st.Pending)
	require.Empty(t, st.Draft)
	require.Equal(t, f.docPath, st.Document)
	require.Equal(t, []Row{row}, f.ctrl.Display())
}

func TestAsk_FailureAppendsErrorRow(t *testing.T) {
	f := newFixture(t)
	f.asker.err = errors.New("User not authenticated")
	f.readyToAsk(t, "c1")

	row, err := f.ctrl.Ask(context.Background())
	require.Error(t, err)
	require.True(t, row.Failed)
	require.Equal(t, "User not authenticated", row.Answer)

	st := f.ctrl.State()
	require.False(t, st.Pending)
	require.Empty(t, st.Draft)
	rows := f.ctrl.Display()
	require.Len(t, rows, 3)
	require.Equal(t, row, rows[2])
}

func TestAsk_UnreadableDocument(t *testing.T) {
	f := newFixture(t)
	f.readyToAsk(t, "c2")
	f.ctrl.SetDocument(filepath.Join(t.TempDir(), "missing.pdf"))

	row, err := f.ctrl.Ask(context.Background())
	require.Error(t, err)
	require.True(t, row.Failed)
	require.Zero(t, f.asker.callCount())
	require.False(t, f.ctrl.State().Pending)
}

func TestAsk_SecondAskWhilePendingIsRejected(t *testing.T) {
	f := newFixture(t)
	f.asker.started = make(chan struct{})
	f.asker.release = make(chan struct{})
	f.readyToAsk(t, "c2")

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Ask(context.Background())
		done <- err
	}()
	<-f.asker.started
	require.True(t, f.ctrl.State().Pending)

	f.ctrl.SetDraft("another question")
	_, err := f.ctrl.Ask(context.Background())
	require.ErrorIs(t, err, ErrAskInFlight)
	require.Equal(t, 1, f.asker.callCount())

	close(f.asker.release)
	require.NoError(t, <-done)
	require.False(t, f.ctrl.State().Pending)
	require.Len(t, f.ctrl.Display(), 1)
}

func TestAsk_SwitchingConversationDropsLateRow(t *testing.T) {
	f := newFixture(t)
	f.asker.started = make(chan struct{})
	f.asker.release = make(chan struct{})
	f.readyToAsk(t, "c2")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.ctrl.Ask(context.Background())
	}()
	<-f.asker.started

	require.NoError(t, f.ctrl.Select(context.Background(), "c1"))
	close(f.asker.release)
	<-done

	st := f.ctrl.State()
	require.Equal(t, "c1", st.Active)
	require.Len(t, st.Transcript, 2)
	require.False(t, st.Pending)
}

func TestAsk_ReselectingSameConversationDropsLateRow(t *testing.T) {
	f := newFixture(t)
	f.asker.started = make(chan struct{})
	f.asker.release = make(chan struct{})
	f.readyToAsk(t, "c2")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.ctrl.Ask(context.Background())
	}()
	<-f.asker.started

	// The server records the exchange before the answer reaches us.
	f.store.mu.Lock()
	f.store.entries["c2"] = []domain.Entry{
		{ID: "e3", ConversationID: "c2", Question: "Summarize page 1", Answer: "It is a contract.", CreatedAt: t0.Add(time.Hour)},
	}
	f.store.mu.Unlock()
	require.NoError(t, f.ctrl.Select(context.Background(), "c2"))

	close(f.asker.release)
	<-done

	rows := f.ctrl.Display()
	require.Len(t, rows, 1)
	require.Equal(t, "Summarize page 1", rows[0].Question)
	require.False(t, f.ctrl.State().Pending)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	f.readyToAsk(t, "c1")
	f.source.signOutErr = errors.New("network down")

	err := f.ctrl.SignOut(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"tok"}, f.source.signOuts)
	st := f.ctrl.State()
	require.NotZero(t, st.Gen)
	st.Gen = 0
	require.Equal(t, State{Phase: Unauthenticated}, st)
}

func TestState_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	st := f.ctrl.State()
	st.Conversations[0].Title = "mutated"
	require.Equal(t, "Newer", f.ctrl.State().Conversations[0].Title)
}
