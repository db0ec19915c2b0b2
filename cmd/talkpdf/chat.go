package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"talk-pdf/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat [index|id]",
	Short: "Chat about a PDF interactively",
	Long: `Chat about a PDF interactively.

Type a question to ask it about the current document. Commands:
  /list            list conversations
  /open <n|id>     switch conversation and show its history
  /new             start a new conversation
  /delete <n|id>   delete a conversation
  /file <path>     set the PDF to ask about
  /history         show the current transcript
  /quit            leave (also: exit, quit)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		c, err := openClient(ctx, formPrompter{})
		if err != nil {
			return err
		}
		defer c.Close()

		if file != "" {
			c.Controller.SetDocument(file)
		}
		if len(args) == 1 {
			if err := selectConversation(ctx, c.Controller, args[0]); err != nil {
				return err
			}
		}
		return runChat(ctx, c.Controller, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().StringP("file", "f", "", "PDF file to ask about")
}

// runChat reads lines from in until EOF or a quit command. Plain lines are
// asked in the active conversation; lines starting with "/" are commands.
func runChat(ctx context.Context, ctrl *session.Controller, in io.Reader, out io.Writer) error {
	st := ctrl.State()
	fmt.Fprintf(out, "Signed in as %s. Type /help for commands.\n", st.User.Email)
	if st.Active != "" {
		printRows(out, ctrl.Display())
	} else {
		printConversations(out, st.Conversations, "")
	}

	reader := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, chatPrompt(ctrl.State()))

		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err == io.EOF {
				fmt.Fprintln(out)
				return nil
			}
			if err != nil {
				return err
			}
			continue
		}

		if isExitCommand(line) {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			chatCommand(ctx, ctrl, line, out)
		} else {
			chatAsk(ctx, ctrl, line, out)
		}
		if err == io.EOF {
			return nil
		}
	}
}

func isExitCommand(line string) bool {
	return line == "exit" || line == "quit" || line == "/quit" || line == "/exit"
}

func chatPrompt(st session.State) string {
	if conv, ok := st.ActiveConversation(); ok {
		return colorize(styleBold, conv.Title) + " > "
	}
	return "> "
}

func chatAsk(ctx context.Context, ctrl *session.Controller, question string, out io.Writer) {
	ctrl.SetDraft(question)
	fmt.Fprintln(out, colorize(styleDim, "Asking..."))
	row, err := ctrl.Ask(ctx)
	if row.Question == "" {
		fmt.Fprintln(out, colorize(styleYellow, "⚠ "+describeAskError(err)))
		return
	}
	printRow(out, row)
}

func chatCommand(ctx context.Context, ctrl *session.Controller, line string, out io.Writer) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		fmt.Fprintln(out, "/list  /open <n|id>  /new  /delete <n|id>  /file <path>  /history  /quit")

	case "/list":
		st := ctrl.State()
		printConversations(out, st.Conversations, st.Active)

	case "/open":
		if arg == "" {
			chatFail(out, "usage: /open <n|id>")
			return
		}
		id := conversationRef(ctrl.State().Conversations, arg)
		if err := ctrl.Select(ctx, id); err != nil {
			chatFail(out, "%v", err)
			return
		}
		if st := ctrl.State(); st.Err != nil {
			chatFail(out, "could not load history: %v", st.Err)
		}
		printRows(out, ctrl.Display())

	case "/new":
		conv, ok, err := ctrl.Create(ctx)
		switch {
		case err != nil:
			chatFail(out, "%v", err)
		case ok:
			fmt.Fprintln(out, colorize(styleGreen, fmt.Sprintf("✓ Started %q", conv.Title)))
		}

	case "/delete":
		if arg == "" {
			chatFail(out, "usage: /delete <n|id>")
			return
		}
		convs := ctrl.State().Conversations
		id := conversationRef(convs, arg)
		title := conversationTitle(convs, id)
		ok, err := ctrl.Delete(ctx, id)
		switch {
		case err != nil:
			chatFail(out, "%v", err)
		case ok:
			fmt.Fprintln(out, colorize(styleGreen, fmt.Sprintf("✓ Deleted %q", title)))
		}

	case "/file":
		if arg == "" {
			fmt.Fprintf(out, "Document: %s\n", ctrl.State().Document)
			return
		}
		if _, err := os.Stat(arg); err != nil {
			chatFail(out, "%v", err)
			return
		}
		ctrl.SetDocument(arg)
		fmt.Fprintf(out, "Document: %s\n", arg)

	case "/history":
		printRows(out, ctrl.Display())

	default:
		chatFail(out, "unknown command %s, try /help", name)
	}
}

func chatFail(out io.Writer, format string, args ...any) {
	fmt.Fprintln(out, colorize(styleRed, "✗ "+fmt.Sprintf(format, args...)))
}
