package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"talk-pdf/internal/session"
)

// formPrompter asks interactively using huh forms.
type formPrompter struct{}

func (formPrompter) Title(ctx context.Context) (string, error) {
	var title string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("New chat").
			Placeholder("Conversation title").
			Value(&title),
	)).RunWithContext(ctx)
	return title, promptErr(err)
}

func (formPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Affirmative("Delete").
			Negative("Keep").
			Value(&ok),
	)).RunWithContext(ctx)
	return ok, promptErr(err)
}

// flagPrompter answers from command-line flags and falls back to next when
// a flag was not given.
type flagPrompter struct {
	title string
	yes   bool
	next  session.Prompter
}

func (p flagPrompter) Title(ctx context.Context) (string, error) {
	if strings.TrimSpace(p.title) != "" {
		return p.title, nil
	}
	if p.next == nil {
		return "", session.ErrCancelled
	}
	return p.next.Title(ctx)
}

func (p flagPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	if p.yes {
		return true, nil
	}
	if p.next == nil {
		return false, nil
	}
	return p.next.Confirm(ctx, message)
}

// promptCredentials asks for whichever of email and password is missing.
func promptCredentials(ctx context.Context, email, password string) (string, string, error) {
	var fields []huh.Field
	if email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&email).
			Validate(required("email")))
	}
	if password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(required("password")))
	}
	if len(fields) > 0 {
		if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx); err != nil {
			return "", "", promptErr(err)
		}
	}
	return strings.TrimSpace(email), password, nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func promptErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return session.ErrCancelled
	}
	return err
}
