package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"talk-pdf/internal/app"
	"talk-pdf/internal/domain"
	"talk-pdf/internal/integrations/supabase"
	"talk-pdf/internal/session"
)

var errNotLoggedIn = errors.New(`not logged in, run "talkpdf login" first`)

// openClient assembles the CLI session and resolves the saved login.
func openClient(ctx context.Context, prompter session.Prompter) (*app.Client, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	b, err := app.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	c, err := b.Client(ctx, prompter)
	if err != nil {
		return nil, err
	}
	if err := c.Controller.Start(ctx); err != nil {
		_ = c.Close()
		if errors.Is(err, supabase.ErrNoSession) {
			return nil, errNotLoggedIn
		}
		return nil, err
	}
	if st := c.Controller.State(); st.Err != nil {
		printWarning("Could not load conversations: %v", st.Err)
	}
	return c, nil
}

// authClient returns the Auth Gateway client and the session file it
// persists to, without opening the store.
func authClient() (*supabase.Client, *supabase.SessionFile, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}
	b, err := app.NewBuilder(cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := b.AuthClient()
	if err != nil {
		return nil, nil, err
	}
	file, err := supabase.NewSessionFile(cfg.Client.SessionFile)
	if err != nil {
		return nil, nil, err
	}
	return client, file, nil
}

// conversationRef turns a 1-based list index into a conversation id. Any
// other reference is returned unchanged and treated as an id.
func conversationRef(convs []domain.Conversation, ref string) string {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(convs) {
		return convs[n-1].ID
	}
	return ref
}

func conversationTitle(convs []domain.Conversation, id string) string {
	for _, c := range convs {
		if c.ID == id {
			return c.Title
		}
	}
	return id
}

// selectConversation makes ref active and reports a transcript load failure.
func selectConversation(ctx context.Context, ctrl *session.Controller, ref string) error {
	id := conversationRef(ctrl.State().Conversations, ref)
	if err := ctrl.Select(ctx, id); err != nil {
		return err
	}
	if st := ctrl.State(); st.Err != nil {
		printWarning("Could not load history: %v", st.Err)
	}
	return nil
}

func describeAskError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotReady):
		return "select a conversation, set a document with --file and type a question"
	case errors.Is(err, session.ErrAskInFlight):
		return "still waiting for the previous answer"
	default:
		return fmt.Sprint(err)
	}
}
