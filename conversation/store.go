// Package conversation provides the in-memory message store that chat sessions write into.
//
// A Store is an explicitly constructed value: independent stores share no state. Conversations
// live only as long as the store, nothing is persisted.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/casualjim/chatstream/pkg/uuidx"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	gonanoid "github.com/matoous/go-nanoid/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Sender identifies the author of a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New chat"

const titleRunes = 30

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")
	// ErrNoMessages is returned when replacing the last message of an empty conversation.
	ErrNoMessages = errors.New("conversation has no messages")
)

// Draft is a message that has not been stored yet.
type Draft struct {
	Content string
	Sender  Sender
}

// Message is a stored message.
type Message struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Sender    Sender          `json:"sender"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// Conversation is a snapshot of a conversation and its messages.
type Conversation struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	LastMessage string          `json:"last_message,omitempty"`
	UpdatedAt   strfmt.DateTime `json:"updated_at"`
	Messages    []Message       `json:"messages"`
}

func (c *Conversation) clone() Conversation {
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	return cp
}

// Store holds conversations in creation order. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations *orderedmap.OrderedMap[string, *Conversation]
	now           func() time.Time
}

// Clock overrides the time source used for timestamps.
func Clock(now func() time.Time) opts.Option[Store] {
	return opts.Type[Store](func(s *Store) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		s.now = now
		return nil
	})
}

// NewStore creates an empty store.
func NewStore(options ...opts.Option[Store]) *Store {
	s := &Store{
		conversations: orderedmap.New[string, *Conversation](),
		now:           time.Now,
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	return s
}

func (s *Store) timestamp() strfmt.DateTime {
	return strfmt.DateTime(s.now().UTC())
}

// Create starts a conversation. An empty title selects DefaultTitle, which is replaced by a
// title derived from the first user message.
func (s *Store) Create(title string) Conversation {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	c := &Conversation{
		ID:        uuidx.NewString(),
		Title:     title,
		UpdatedAt: s.timestamp(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations.Set(c.ID, c)
	return c.clone()
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations.Get(id)
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.clone(), nil
}

// List returns all conversations, most recently updated first.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	result := make([]Conversation, 0, s.conversations.Len())
	for pair := s.conversations.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value.clone())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b Conversation) int {
		return time.Time(b.UpdatedAt).Compare(time.Time(a.UpdatedAt))
	})
	return result
}

// Delete removes a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations.Delete(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Append stores a new message at the end of the conversation.
func (s *Store) Append(conversationID string, draft Draft) (Message, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations.Get(conversationID)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}

	msg := Message{
		ID:        id,
		Content:   draft.Content,
		Sender:    draft.Sender,
		Timestamp: s.timestamp(),
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessage = msg.Content
	c.UpdatedAt = msg.Timestamp
	if c.Title == DefaultTitle && msg.Sender == SenderUser {
		c.Title = Title(msg.Content)
	}
	return msg, nil
}

// ReplaceLastMessageText sets the content of the last message of the conversation.
func (s *Store) ReplaceLastMessageText(conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations.Get(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if len(c.Messages) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMessages, conversationID)
	}
	c.Messages[len(c.Messages)-1].Content = text
	c.LastMessage = text
	c.UpdatedAt = s.timestamp()
	return nil
}

// Messages returns the messages of the conversation in order.
func (s *Store) Messages(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations.Get(conversationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return slices.Clone(c.Messages), nil
}

// Title derives a conversation title from a message: its first 30 characters, followed by an
// ellipsis when the message is longer.
func Title(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRunes]) + "..."
}
