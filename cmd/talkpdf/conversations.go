package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"talk-pdf/internal/session"
)

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls", "list"},
	Short:   "List your conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd.Context(), formPrompter{})
		if err != nil {
			return err
		}
		defer c.Close()

		printConversations(os.Stdout, c.Controller.State().Conversations, "")
		return nil
	},
}

// --- new ---

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		c, err := openClient(cmd.Context(), flagPrompter{title: title, next: formPrompter{}})
		if err != nil {
			return err
		}
		defer c.Close()

		conv, ok, err := c.Controller.Create(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			printWarning("Cancelled")
			return nil
		}
		printSuccess("Created %q", conv.Title)
		printStatus("ID", "%s", conv.ID)
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <index|id>",
	Short: "Delete a conversation and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		c, err := openClient(cmd.Context(), flagPrompter{yes: yes, next: formPrompter{}})
		if err != nil {
			return err
		}
		defer c.Close()

		convs := c.Controller.State().Conversations
		id := conversationRef(convs, args[0])
		title := conversationTitle(convs, id)
		ok, err := c.Controller.Delete(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			printWarning("Nothing deleted")
			return nil
		}
		printSuccess("Deleted %q", title)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <index|id>",
	Short: "Show the questions and answers of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd.Context(), formPrompter{})
		if err != nil {
			return err
		}
		defer c.Close()

		if err := selectConversation(cmd.Context(), c.Controller, args[0]); err != nil {
			return err
		}
		printRows(os.Stdout, c.Controller.Display())
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <index|id> <question...>",
	Short: "Ask one question about a PDF",
	Long: `Ask one question about a PDF in an existing conversation.

Examples:
  talkpdf ask 1 --file ./contract.pdf "Summarize page 1"
  talkpdf ask 3f2a... --file ./report.pdf What are the key risks?`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		c, err := openClient(ctx, formPrompter{})
		if err != nil {
			return err
		}
		defer c.Close()

		if err := selectConversation(ctx, c.Controller, args[0]); err != nil {
			return err
		}
		c.Controller.SetDocument(file)
		c.Controller.SetDraft(strings.Join(args[1:], " "))

		printStep("Asking...")
		return askOnce(ctx, c.Controller, os.Stdout)
	},
}

var errAskFailed = errors.New("ask failed")

// askOnce sends the draft and prints the resulting row. A failed row already
// carries the error text, so only errAskFailed is returned for it.
func askOnce(ctx context.Context, ctrl *session.Controller, out io.Writer) error {
	row, err := ctrl.Ask(ctx)
	if row.Question == "" {
		return fmt.Errorf("%s", describeAskError(err))
	}
	printRow(out, row)
	if row.Failed {
		return errAskFailed
	}
	return nil
}

func init() {
	newCmd.Flags().String("title", "", "conversation title (prompted when omitted)")
	deleteCmd.Flags().BoolP("yes", "y", false, "delete without confirmation")
	askCmd.Flags().StringP("file", "f", "", "PDF file to ask about")
}
