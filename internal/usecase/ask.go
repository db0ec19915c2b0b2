package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"talk-pdf/internal/domain"
	"talk-pdf/internal/repository"
)

// Verifier resolves a bearer token to the user it was issued to.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.User, error)
}

// Inference answers a single question about a PDF document.
type Inference interface {
	Answer(ctx context.Context, question string, document []byte) (string, error)
}

// TranscriptStore is the part of repository.Store the service needs.
type TranscriptStore interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	AppendEntry(ctx context.Context, e domain.Entry) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AnswerService validates an ask, forwards it to the inference provider and
// records the exchange. It holds no per-request state.
type AnswerService struct {
	verifier         Verifier
	inference        Inference
	store            TranscriptStore
	maxDocumentBytes int64
	enforceOwnership bool
	now              func() time.Time
}

type Option func(*AnswerService)

// WithMaxDocumentBytes caps the decoded document size. Non-positive values
// keep the default.
func WithMaxDocumentBytes(n int64) Option {
	return func(s *AnswerService) {
		if n > 0 {
			s.maxDocumentBytes = n
		}
	}
}

// WithOwnershipCheck toggles the check that the conversation belongs to the
// caller. It is on by default.
func WithOwnershipCheck(enabled bool) Option {
	return func(s *AnswerService) {
		s.enforceOwnership = enabled
	}
}

type AskInput struct {
	Question       string
	DocumentBase64 string
	ConversationID string
	Token          string
}

type AskOutput struct {
	Answer    string
	EntryID   string
	Persisted bool
}

func NewAnswerService(v Verifier, inf Inference, store TranscriptStore, opts ...Option) (*AnswerService, error) {
	if v == nil {
		return nil, errors.New("usecase: verifier must not be nil")
	}
	if inf == nil {
		return nil, errors.New("usecase: inference client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	s := &AnswerService{
		verifier:         v,
		inference:        inf,
		store:            store,
		maxDocumentBytes: DefaultMaxDocumentBytes,
		enforceOwnership: true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *AnswerService) Ask(ctx context.Context, in AskInput) (out AskOutput, err error) {
	defer func() { askTotal.WithLabelValues(outcomeLabel(err)).Inc() }()

	question := strings.TrimSpace(in.Question)
	convID := strings.TrimSpace(in.ConversationID)
	if question == "" || strings.TrimSpace(in.DocumentBase64) == "" || convID == "" {
		return AskOutput{}, newError(ErrorInvalidRequest, reasonMissingFields, nil)
	}

	token := strings.TrimSpace(in.Token)
	if token == "" {
		return AskOutput{}, newError(ErrorUnauthenticated, reasonMissingToken, nil)
	}
	user, verr := s.verifier.Verify(ctx, token)
	if verr != nil {
		return AskOutput{}, newError(ErrorUnauthenticated, reasonInvalidToken, verr)
	}

	doc, derr := decodeDocument(in.DocumentBase64, s.maxDocumentBytes)
	if derr != nil {
		return AskOutput{}, derr
	}

	if s.enforceOwnership {
		if oerr := s.checkOwnership(ctx, convID, user.ID); oerr != nil {
			return AskOutput{}, oerr
		}
	}

	timer := prometheus.NewTimer(inferenceDuration)
	answer, ierr := s.inference.Answer(ctx, question, doc)
	timer.ObserveDuration()
	if ierr != nil {
		if status, ok := upstreamStatusCode(ierr); ok && status == http.StatusRequestEntityTooLarge {
			return AskOutput{}, newError(ErrorPayloadTooLarge, reasonProviderTooLarge, ierr)
		}
		return AskOutput{}, newError(ErrorProvider, reasonProviderError, ierr)
	}

	entry := domain.Entry{
		ID:             newUUID(),
		ConversationID: convID,
		UserID:         user.ID,
		Question:       question,
		Answer:         answer,
		CreatedAt:      s.now().UTC(),
	}
	out = AskOutput{Answer: answer, EntryID: entry.ID, Persisted: true}

	// The user already has the answer; a failed write only loses history.
	if werr := s.store.AppendEntry(ctx, entry); werr != nil {
		transcriptWriteFailures.Inc()
		slog.WarnContext(ctx, "transcript write failed",
			"conversation_id", convID,
			"user_id", user.ID,
			"entry_id", entry.ID,
			"err", werr,
		)
		out.Persisted = false
	}
	return out, nil
}

// checkOwnership reports a missing conversation and one owned by someone
// else identically.
func (s *AnswerService) checkOwnership(ctx context.Context, convID, userID string) *Error {
	conv, err := s.store.GetConversation(ctx, convID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrorConversationNotFound, reasonConversationLookup, err)
	}
	if err != nil {
		return newError(ErrorStoreUnavailable, reasonConversationLookup, err)
	}
	if conv.UserID != userID {
		return newError(ErrorConversationNotFound, reasonNotOwner, nil)
	}
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
