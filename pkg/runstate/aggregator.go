// Package runstate aggregates session updates into per-conversation statistics.
package runstate

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/casualjim/chatstream/session"
	"github.com/go-openapi/strfmt"
)

// Stats summarizes the sessions of one conversation.
type Stats struct {
	Sessions  int `json:"sessions"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
	Aborted   int `json:"aborted"`
	// Fragments counts the text deltas received.
	Fragments int `json:"fragments"`
	// Chars counts the characters of finished replies.
	Chars      int             `json:"chars"`
	LastStatus session.Status  `json:"last_status"`
	LastError  string          `json:"last_error,omitempty"`
	LastUpdate strfmt.DateTime `json:"last_update"`
}

// Add merges other into s. The last-* fields are taken from the more recent of the two.
func (s *Stats) Add(other Stats) {
	s.Sessions += other.Sessions
	s.Completed += other.Completed
	s.Errored += other.Errored
	s.Aborted += other.Aborted
	s.Fragments += other.Fragments
	s.Chars += other.Chars
	if time.Time(other.LastUpdate).After(time.Time(s.LastUpdate)) {
		s.LastStatus = other.LastStatus
		s.LastError = other.LastError
		s.LastUpdate = other.LastUpdate
	}
}

type conversationState struct {
	stats   Stats
	session string
}

// Aggregator collects Stats from session updates. It can be used as a broker handler.
type Aggregator struct {
	mu            sync.Mutex
	conversations map[string]*conversationState
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{conversations: make(map[string]*conversationState)}
}

// OnUpdate records u.
func (a *Aggregator) OnUpdate(_ context.Context, u session.Update) {
	a.Add(u)
}

// Add records one update. Updates of a session must be added in publish order.
func (a *Aggregator) Add(u session.Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cs, ok := a.conversations[u.ConversationID]
	if !ok {
		cs = &conversationState{}
		a.conversations[u.ConversationID] = cs
	}
	if u.SessionID != cs.session {
		cs.session = u.SessionID
		cs.stats.Sessions++
	}

	switch u.Status {
	case session.Streaming:
		if u.Fragment != "" {
			cs.stats.Fragments++
		}
	case session.Completed:
		cs.stats.Completed++
		cs.stats.Chars += utf8.RuneCountInString(u.Text)
	case session.Errored:
		cs.stats.Errored++
		cs.stats.Chars += utf8.RuneCountInString(u.Text)
	case session.Aborted:
		cs.stats.Aborted++
		cs.stats.Chars += utf8.RuneCountInString(u.Text)
	}

	cs.stats.LastStatus = u.Status
	cs.stats.LastError = ""
	if u.Err != nil {
		cs.stats.LastError = u.Err.Error()
	}
	cs.stats.LastUpdate = u.Timestamp
}

// Stats returns the statistics of a conversation.
func (a *Aggregator) Stats(conversationID string) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cs, ok := a.conversations[conversationID]; ok {
		return cs.stats
	}
	return Stats{}
}

// Total returns the statistics of all conversations combined.
func (a *Aggregator) Total() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total Stats
	for _, cs := range a.conversations {
		total.Add(cs.stats)
	}
	return total
}

// Forget drops the statistics of a conversation.
func (a *Aggregator) Forget(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conversations, conversationID)
}
