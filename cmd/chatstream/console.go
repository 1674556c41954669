package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/casualjim/chatstream/internal/broker"
	"github.com/casualjim/chatstream/session"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
)

var _ broker.Handler = (*consolePrinter)(nil)

// consolePrinter writes the session updates of one conversation to a terminal.
type consolePrinter struct {
	w     io.Writer
	mu    sync.Mutex
	text  string
	ended chan session.Update
}

func newConsolePrinter(w io.Writer) *consolePrinter {
	return &consolePrinter{w: w, ended: make(chan session.Update, 1)}
}

func (p *consolePrinter) OnUpdate(_ context.Context, u session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Status {
	case session.Streaming:
		if u.Fragment == "" {
			return
		}
		if p.text == "" {
			fmt.Fprint(p.w, color.MagentaString("Assistant")+": ")
		}
		fmt.Fprint(p.w, u.Fragment)
		p.text += u.Fragment
		return
	case session.Completed:
		if p.text != "" {
			fmt.Fprintln(p.w)
		}
	case session.Errored:
		if p.text != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintf(p.w, "%s: %s\n", color.RedString("Error"), session.FailureMessage(u.Err))
	case session.Aborted:
		if p.text != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintln(p.w, color.YellowString("[stopped: %v]", u.Err))
	default:
		return
	}

	p.text = ""
	select {
	case p.ended <- u:
	default:
	}
}

// drain discards a terminal update left over from an earlier turn.
func (p *consolePrinter) drain() {
	select {
	case <-p.ended:
	default:
	}
}

// awaitEnd blocks until a terminal update has been printed.
func (p *consolePrinter) awaitEnd(ctx context.Context) (session.Update, error) {
	select {
	case u := <-p.ended:
		return u, nil
	case <-ctx.Done():
		return session.Update{}, ctx.Err()
	}
}

var (
	glamOnce sync.Once
	glam     *glamour.TermRenderer
	glamErr  error
)

// renderMarkdown renders text for the terminal, falling back to the raw text.
func renderMarkdown(text string) string {
	glamOnce.Do(func() {
		glam, glamErr = glamour.NewTermRenderer(glamour.WithAutoStyle())
	})
	if glamErr != nil {
		return text
	}
	out, err := glam.Render(text)
	if err != nil {
		return text
	}
	return out
}
