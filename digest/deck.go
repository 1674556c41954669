// Package digest groups user messages into summarized cards.
//
// A Deck wraps a session.Sink. Every user message appended through it is queued for its
// conversation; once Every messages are queued they are summarized in the background and
// replaced by a Card. Streaming is never blocked by summarization.
package digest

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/pkg/uuidx"
	"github.com/casualjim/chatstream/session"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
)

const (
	defaultEvery   = 3
	defaultTimeout = 30 * time.Second
)

// Summarizer condenses a group of messages into a short text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []conversation.Message) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []conversation.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	return f(ctx, messages)
}

// Card is the summary of a group of user messages.
type Card struct {
	ID         string          `json:"id"`
	Summary    string          `json:"summary"`
	MessageIDs []string        `json:"message_ids"`
	CreatedAt  strfmt.DateTime `json:"created_at"`
}

var _ session.Sink = (*Deck)(nil)

// Deck is a session.Sink that summarizes every N user messages.
type Deck struct {
	session.Sink
	summarizer Summarizer
	every      int
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string][]conversation.Message
	cards   map[string][]Card
	// epochs counts Clear calls per conversation; summaries started before a Clear are dropped.
	epochs map[string]uint64
	wg     sync.WaitGroup
}

var (
	// Every sets how many user messages make up a card.
	Every = opts.ForName[Deck, int]("every")
	// Timeout bounds a single summarization call.
	Timeout = opts.ForName[Deck, time.Duration]("timeout")
	// Logger sets the logger.
	Logger = opts.ForName[Deck, *slog.Logger]("logger")
)

// New wraps sink. It panics on invalid options.
func New(sink session.Sink, summarizer Summarizer, options ...opts.Option[Deck]) *Deck {
	d := &Deck{
		Sink:       sink,
		summarizer: summarizer,
		every:      defaultEvery,
		timeout:    defaultTimeout,
		logger:     slog.Default().With(slogx.LoggerName("chatstream.digest")),
		pending:    make(map[string][]conversation.Message),
		cards:      make(map[string][]Card),
		epochs:     make(map[string]uint64),
	}
	if err := opts.Apply(d, options); err != nil {
		panic(err)
	}
	if d.every <= 0 {
		panic(errors.New("digest: every must be positive"))
	}
	return d
}

// Append stores the message in the wrapped sink and queues user messages for summarization.
func (d *Deck) Append(conversationID string, draft conversation.Draft) (conversation.Message, error) {
	msg, err := d.Sink.Append(conversationID, draft)
	if err != nil || msg.Sender != conversation.SenderUser {
		return msg, err
	}

	d.mu.Lock()
	d.pending[conversationID] = append(d.pending[conversationID], msg)
	var batch []conversation.Message
	if len(d.pending[conversationID]) >= d.every {
		batch = d.pending[conversationID]
		d.pending[conversationID] = nil
	}
	epoch := d.epochs[conversationID]
	d.mu.Unlock()

	if batch != nil {
		d.wg.Add(1)
		go d.summarize(conversationID, epoch, batch)
	}
	return msg, nil
}

func (d *Deck) summarize(conversationID string, epoch uint64, batch []conversation.Message) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	summary, err := d.summarizer.Summarize(ctx, batch)
	if err != nil {
		d.logger.Warn("failed to summarize messages",
			slogx.Conversation(conversationID),
			slog.Int("messages", len(batch)),
			slogx.Error(err),
		)
		d.mu.Lock()
		if d.epochs[conversationID] == epoch {
			d.pending[conversationID] = append(batch, d.pending[conversationID]...)
		}
		d.mu.Unlock()
		return
	}

	card := Card{
		ID:         uuidx.NewString(),
		Summary:    summary,
		MessageIDs: make([]string, len(batch)),
		CreatedAt:  strfmt.DateTime(time.Now().UTC()),
	}
	for i, m := range batch {
		card.MessageIDs[i] = m.ID
	}

	d.mu.Lock()
	cleared := d.epochs[conversationID] != epoch
	if !cleared {
		d.cards[conversationID] = append(d.cards[conversationID], card)
	}
	d.mu.Unlock()
	if cleared {
		d.logger.Debug("conversation cleared, card dropped", slogx.Conversation(conversationID))
		return
	}
	d.logger.Debug("card created", slogx.Conversation(conversationID), slog.String("card", card.ID))
}

// Cards returns the cards of a conversation in creation order.
func (d *Deck) Cards(conversationID string) []Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.cards[conversationID])
}

// Pending returns the user messages not yet part of a card.
func (d *Deck) Pending(conversationID string) []conversation.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.pending[conversationID])
}

// RemoveCard deletes a card. It reports whether the card existed.
func (d *Deck) RemoveCard(conversationID, cardID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cards := d.cards[conversationID]
	i := slices.IndexFunc(cards, func(c Card) bool { return c.ID == cardID })
	if i < 0 {
		return false
	}
	d.cards[conversationID] = slices.Delete(cards, i, i+1)
	return true
}

// Clear drops the cards and pending messages of a conversation.
func (d *Deck) Clear(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cards, conversationID)
	delete(d.pending, conversationID)
	d.epochs[conversationID]++
}

// Wait blocks until in-flight summaries finish.
func (d *Deck) Wait() {
	d.wg.Wait()
}
