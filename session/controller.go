package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/decode"
	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/pkg/uuidx"
	"github.com/casualjim/chatstream/transport"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
)

// Sink is the message store a controller writes into.
type Sink interface {
	Append(conversationID string, draft conversation.Draft) (conversation.Message, error)
	ReplaceLastMessageText(conversationID, text string) error
	Messages(conversationID string) ([]conversation.Message, error)
}

// Controller runs the send-and-receive cycle of one conversation. At most one session streams
// at a time; controllers for different conversations are independent.
type Controller struct {
	conversationID string
	sink           Sink
	transport      transport.Transport

	endpoint     string
	header       http.Header
	model        string
	systemPrompt string
	temperature  *float64
	maxTokens    *int
	idleTimeout  time.Duration
	includeID    bool
	logger       *slog.Logger
	observer     Observer
	decoder      *decode.Decoder

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	stream     transport.Stream
	done       chan struct{}

	outbox      []Update
	dispatching bool
	delivered   *sync.Cond
}

var (
	// Endpoint sets the URL the request is sent to.
	Endpoint = opts.ForName[Controller, string]("endpoint")
	// Header sets the request headers, usually transport.BearerHeader.
	Header = opts.ForName[Controller, http.Header]("header")
	// Model sets the model name sent with the request.
	Model = opts.ForName[Controller, string]("model")
	// SystemPrompt sets the system message prepended to the history.
	SystemPrompt = opts.ForName[Controller, string]("systemPrompt")
	// IdleTimeout aborts a session when no frame arrives within the duration. Zero disables it.
	IdleTimeout = opts.ForName[Controller, time.Duration]("idleTimeout")
	// IncludeConversationID adds the conversation id to the request body.
	IncludeConversationID = opts.ForName[Controller, bool]("includeID")
	// Logger sets the logger.
	Logger = opts.ForName[Controller, *slog.Logger]("logger")
	// WithObserver installs an observer for session updates.
	WithObserver = opts.ForName[Controller, Observer]("observer")
	// WithDecoder replaces the frame decoder.
	WithDecoder = opts.ForName[Controller, *decode.Decoder]("decoder")
)

// Temperature sets the sampling temperature sent with the request.
func Temperature(t float64) opts.Option[Controller] {
	return opts.Type[Controller](func(c *Controller) error {
		if t < 0 || t > 2 {
			return fmt.Errorf("temperature %v out of range [0, 2]", t)
		}
		c.temperature = &t
		return nil
	})
}

// MaxTokens sets the completion token limit sent with the request.
func MaxTokens(n int) opts.Option[Controller] {
	return opts.Type[Controller](func(c *Controller) error {
		if n <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", n)
		}
		c.maxTokens = &n
		return nil
	})
}

// New creates a controller for the conversation. It panics on invalid options.
func New(conversationID string, sink Sink, tr transport.Transport, options ...opts.Option[Controller]) *Controller {
	c := &Controller{
		conversationID: conversationID,
		sink:           sink,
		transport:      tr,
	}
	c.delivered = sync.NewCond(&c.mu)
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	if c.logger == nil {
		c.logger = slog.Default().With(slogx.LoggerName("chatstream.session"))
	}
	c.logger = c.logger.With(slogx.Conversation(conversationID))
	if c.decoder == nil {
		c.decoder = decode.New(c.logger)
	}
	return c
}

// ConversationID returns the conversation this controller writes into.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// State returns a snapshot of the current or last session. A finished session keeps its
// terminal status until the next SendMessage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanSendMessage reports whether no session is streaming.
func (c *Controller) CanSendMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status != Streaming
}

// SendMessage appends the user message and an empty assistant placeholder to the sink, then
// streams the reply into the placeholder on a background goroutine. It returns once the
// session has started. ctx bounds the whole session: cancelling it aborts the stream.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	defer c.dispatch()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == Streaming {
		return ErrStreaming
	}

	// nothing is written until the request is built
	history, err := c.sink.Messages(c.conversationID)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	history = append(history, conversation.Message{Content: text, Sender: conversation.SenderUser})
	req, err := c.buildRequest(history)
	if err != nil {
		return err
	}
	if _, err := c.sink.Append(c.conversationID, conversation.Draft{Content: text, Sender: conversation.SenderUser}); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}
	if _, err := c.sink.Append(c.conversationID, conversation.Draft{Sender: conversation.SenderAssistant}); err != nil {
		return fmt.Errorf("failed to append assistant placeholder: %w", err)
	}

	c.generation++
	gen := c.generation
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.state = State{SessionID: uuidx.NewString(), Status: Streaming}
	c.cancel = cancel
	c.stream = nil
	c.done = done

	c.logger.Info("session started", slogx.Session(c.state.SessionID), slog.Int("history", len(history)))
	c.publish("", nil)

	go c.run(sctx, gen, req, done)
	return nil
}

func (c *Controller) buildRequest(history []conversation.Message) (transport.Request, error) {
	messages := make([]transport.ChatMessage, 0, len(history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, transport.ChatMessage{Role: transport.RoleSystem, Content: c.systemPrompt})
	}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		messages = append(messages, transport.ChatMessage{Role: string(m.Sender), Content: m.Content})
	}

	chatReq := transport.ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	}
	if c.includeID {
		chatReq.ConversationID = c.conversationID
	}
	body, err := chatReq.Encode()
	if err != nil {
		return transport.Request{}, err
	}
	return transport.Request{Endpoint: c.endpoint, Header: c.header, Body: body}, nil
}

// AbortStream stops the streaming session. Text accumulated so far stays in the sink and no
// further sink writes happen. Calling it when nothing streams is a no-op.
func (c *Controller) AbortStream() {
	defer c.dispatch()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked(c.generation, ErrAborted)
}

func (c *Controller) abort(gen uint64, cause error) {
	defer c.dispatch()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked(gen, cause)
}

func (c *Controller) abortLocked(gen uint64, cause error) {
	if !c.activeLocked(gen) {
		return
	}
	c.state.Status = Aborted
	c.state.Err = cause
	c.releaseLocked()
	c.logger.Info("session aborted", slogx.Session(c.state.SessionID), slogx.Error(cause), slog.Int("chars", len(c.state.Text)))
	c.publish("", cause)
}

// Wait blocks until the current session ends and returns its final state.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
	return c.State(), nil
}

func (c *Controller) run(ctx context.Context, gen uint64, req transport.Request, done chan struct{}) {
	defer close(done)
	defer c.awaitDelivery()

	stop := context.AfterFunc(ctx, func() { c.abort(gen, ErrAborted) })
	defer stop()

	touch := func() {}
	if c.idleTimeout > 0 {
		timer := time.AfterFunc(c.idleTimeout, func() { c.abort(gen, ErrIdleTimeout) })
		defer timer.Stop()
		touch = func() { timer.Reset(c.idleTimeout) }
	}
	c.consume(ctx, gen, req, touch)
}

func (c *Controller) consume(ctx context.Context, gen uint64, req transport.Request, touch func()) {
	stream, err := c.transport.Open(ctx, req)
	if err != nil {
		c.finish(ctx, gen, err)
		return
	}
	defer stream.Close()

	if !c.attach(gen, stream) {
		return
	}

	for stream.Next() {
		touch()
		delta, ok := c.decoder.Decode(stream.Frame())
		if !ok {
			continue
		}
		if !c.apply(ctx, gen, delta) {
			return
		}
	}
	c.finish(ctx, gen, stream.Err())
}

// attach records the open stream so AbortStream can close it. It reports false when the
// session ended while the connection was being established.
func (c *Controller) attach(gen uint64, stream transport.Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(gen) {
		return false
	}
	c.stream = stream
	return true
}

// apply writes one delta to the sink. It reports whether consumption should continue.
// Frames still buffered in the stream when ctx is cancelled are dropped.
func (c *Controller) apply(ctx context.Context, gen uint64, delta decode.Delta) bool {
	defer c.dispatch()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.activeLocked(gen) {
		return false
	}
	if ctx.Err() != nil {
		c.abortLocked(gen, ErrAborted)
		return false
	}

	switch d := delta.(type) {
	case decode.Text:
		c.state.Text += d.Fragment
		if err := c.sink.ReplaceLastMessageText(c.conversationID, c.state.Text); err != nil {
			c.logger.Warn("failed to update assistant message", slogx.Session(c.state.SessionID), slogx.Error(err))
		}
		c.publish(d.Fragment, nil)
		if d.FinishReason != "" {
			c.completeLocked(d.FinishReason)
			return false
		}
	case decode.Role:
		c.logger.Debug("role announced", slogx.Session(c.state.SessionID), slog.String("role", d.Role))
	case decode.Done:
		c.completeLocked(d.Reason)
		return false
	case decode.Failure:
		c.failLocked(&UpstreamError{Message: d.Message, Code: d.Code})
		return false
	}
	return true
}

// finish ends a session whose stream stopped without a terminal delta.
func (c *Controller) finish(ctx context.Context, gen uint64, err error) {
	defer c.dispatch()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.activeLocked(gen) {
		return
	}
	switch {
	case ctx.Err() != nil:
		c.abortLocked(gen, ErrAborted)
	case err != nil:
		c.failLocked(err)
	default:
		c.completeLocked("eof")
	}
}

func (c *Controller) completeLocked(reason string) {
	c.state.Status = Completed
	c.releaseLocked()
	c.logger.Info("session completed",
		slogx.Session(c.state.SessionID),
		slog.String("reason", reason),
		slog.Int("chars", len(c.state.Text)),
	)
	c.publish("", nil)
}

func (c *Controller) failLocked(err error) {
	c.state.Status = Errored
	c.state.Err = err
	c.releaseLocked()
	c.logger.Error("session failed", slogx.Session(c.state.SessionID), slogx.Error(err))

	if c.state.Text == "" {
		if serr := c.sink.ReplaceLastMessageText(c.conversationID, FailureMessage(err)); serr != nil {
			c.logger.Warn("failed to write failure message", slogx.Session(c.state.SessionID), slogx.Error(serr))
		}
	}
	c.publish("", err)
}

func (c *Controller) activeLocked(gen uint64) bool {
	return gen == c.generation && c.state.Status == Streaming
}

// releaseLocked cancels the session context and closes the stream.
func (c *Controller) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}

// publish queues an update for the observer. Callers hold c.mu and call dispatch after
// releasing it.
func (c *Controller) publish(fragment string, err error) {
	if c.observer == nil {
		return
	}
	c.outbox = append(c.outbox, Update{
		ConversationID: c.conversationID,
		SessionID:      c.state.SessionID,
		Status:         c.state.Status,
		Text:           c.state.Text,
		Fragment:       fragment,
		Err:            err,
		Timestamp:      strfmt.DateTime(time.Now().UTC()),
	})
}

// dispatch delivers queued updates in order without holding c.mu. Only one goroutine
// delivers at a time; the others leave their updates to it.
func (c *Controller) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.outbox) > 0 {
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		for _, u := range batch {
			c.observer.Observe(u)
		}
		c.mu.Lock()
	}
	c.dispatching = false
	c.delivered.Broadcast()
	c.mu.Unlock()
}

// awaitDelivery blocks until every queued update reached the observer.
func (c *Controller) awaitDelivery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.dispatching || len(c.outbox) > 0 {
		c.delivered.Wait()
	}
}
