package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/internal/broker"
	"github.com/casualjim/chatstream/pkg/runstate"
	"github.com/casualjim/chatstream/pkg/uuidx"
	"github.com/casualjim/chatstream/session"
	"github.com/fatih/color"
)

const replHelp = `Commands:
  /new              start a new conversation
  /list             list conversations, most recent first
  /switch <id>      continue a conversation (an id prefix or short id is enough)
  /delete <id>      delete a conversation
  /history          print the current conversation
  /cards            print the summary cards of the current conversation
  /stats            print session statistics
  /render           render the last reply as markdown
  /export [file]    write the current conversation as JSON
  /help             show this help
  exit              quit
Press Ctrl-C while a reply streams to stop it.`

// printerGrace bounds how long the prompt waits for the final update to be printed.
const printerGrace = 2 * time.Second

type repl struct {
	app     *app
	out     io.Writer
	printer *consolePrinter
	current string
	sub     broker.Subscription
}

func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	r := &repl{app: a, out: out, printer: newConsolePrinter(out)}
	defer func() {
		if r.sub != nil {
			r.sub.Unsubscribe()
		}
	}()

	if err := r.switchTo(ctx, a.store.Create("").ID); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanLines)
	for {
		fmt.Fprintf(out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(out, "Exiting...")
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(input, "exit") {
			break
		}
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if err := r.command(ctx, input); err != nil {
				fmt.Fprintf(out, "%s: %v\n", color.RedString("Error"), err)
			}
			continue
		}
		if err := r.send(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "%s: %v\n", color.RedString("Error"), err)
		}
	}
	return scanner.Err()
}

func (r *repl) switchTo(ctx context.Context, conversationID string) error {
	handler := broker.HandlerFunc(func(ctx context.Context, u session.Update) {
		r.app.stats.OnUpdate(ctx, u)
		r.printer.OnUpdate(ctx, u)
	})
	sub, err := r.app.broker.Topic(ctx, conversationID).Subscribe(ctx, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to conversation: %w", err)
	}
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.sub = sub
	r.current = conversationID
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	r.printer.drain()
	ctrl := r.app.controller(ctx, r.current)
	if err := ctrl.SendMessage(turnCtx, text); err != nil {
		return err
	}
	if _, err := ctrl.Wait(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, printerGrace)
	defer cancel()
	if _, err := r.printer.awaitEnd(waitCtx); err != nil && ctx.Err() == nil {
		r.app.logger.Debug("final update not printed in time")
	}
	return nil
}

func (r *repl) command(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/new":
		conv := r.app.store.Create("")
		if err := r.switchTo(ctx, conv.ID); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Started %s\n", color.GreenString(uuidx.Short(conv.ID)))
	case "/list":
		for _, conv := range r.app.store.List() {
			marker := " "
			if conv.ID == r.current {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s  %s  %s\n", marker, color.GreenString(uuidx.Short(conv.ID)), conv.Title, conv.UpdatedAt)
		}
	case "/switch":
		id, err := r.resolve(arg)
		if err != nil {
			return err
		}
		if err := r.switchTo(ctx, id); err != nil {
			return err
		}
		return r.printHistory()
	case "/delete":
		id, err := r.resolve(arg)
		if err != nil {
			return err
		}
		if err := r.app.store.Delete(id); err != nil {
			return err
		}
		r.app.forget(id)
		fmt.Fprintf(r.out, "Deleted %s\n", id)
		if id == r.current {
			return r.switchTo(ctx, r.app.store.Create("").ID)
		}
	case "/history":
		return r.printHistory()
	case "/cards":
		if r.app.deck == nil {
			return errors.New("summary cards are disabled")
		}
		for _, card := range r.app.deck.Cards(r.current) {
			fmt.Fprintf(r.out, "%s %s\n", color.BlueString("▣"), card.Summary)
		}
		if n := len(r.app.deck.Pending(r.current)); n > 0 {
			fmt.Fprintf(r.out, "%d message(s) waiting for the next card\n", n)
		}
	case "/stats":
		cur, total := r.app.stats.Stats(r.current), r.app.stats.Total()
		fmt.Fprintf(r.out, "this conversation: %s\n", formatStats(cur))
		fmt.Fprintf(r.out, "all conversations: %s\n", formatStats(total))
	case "/export":
		data, err := r.app.export(r.current)
		if err != nil {
			return err
		}
		if arg == "" {
			fmt.Fprintln(r.out, string(data))
			return nil
		}
		if err := os.WriteFile(arg, data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", arg, err)
		}
		fmt.Fprintf(r.out, "Wrote %s\n", arg)
	case "/render":
		msgs, err := r.app.store.Messages(r.current)
		if err != nil {
			return err
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Sender == conversation.SenderAssistant && msgs[i].Content != "" {
				fmt.Fprint(r.out, renderMarkdown(msgs[i].Content))
				return nil
			}
		}
		return errors.New("no reply to render")
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
	return nil
}

// resolve finds the conversation named by ref, a full id, an id prefix or a short id.
func (r *repl) resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("a conversation id is required")
	}
	var found []string
	for _, conv := range r.app.store.List() {
		if uuidx.Matches(conv.ID, ref) {
			found = append(found, conv.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", conversation.ErrNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%q matches %d conversations", ref, len(found))
	}
}

func formatStats(s runstate.Stats) string {
	return fmt.Sprintf("%d sessions, %d completed, %d errored, %d stopped, %d characters",
		s.Sessions, s.Completed, s.Errored, s.Aborted, s.Chars)
}

func (r *repl) printHistory() error {
	msgs, err := r.app.store.Messages(r.current)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		switch m.Sender {
		case conversation.SenderUser:
			fmt.Fprintf(r.out, "%s: %s\n", color.CyanString("User"), m.Content)
		case conversation.SenderAssistant:
			fmt.Fprintf(r.out, "%s: %s\n", color.MagentaString("Assistant"), m.Content)
		default:
			fmt.Fprintf(r.out, "%s: %s\n", color.YellowString(string(m.Sender)), m.Content)
		}
	}
	return nil
}
