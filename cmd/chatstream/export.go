package main

import (
	"fmt"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/digest"
	"github.com/casualjim/chatstream/pkg/runstate"
	"github.com/goccy/go-json"
)

// transcript is the exported form of a conversation.
type transcript struct {
	conversation.Conversation
	Cards []digest.Card  `json:"cards,omitempty"`
	Stats runstate.Stats `json:"stats"`
}

func (a *app) export(conversationID string) ([]byte, error) {
	conv, err := a.store.Get(conversationID)
	if err != nil {
		return nil, err
	}
	t := transcript{Conversation: conv, Stats: a.stats.Stats(conversationID)}
	if a.deck != nil {
		t.Cards = a.deck.Cards(conversationID)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation: %w", err)
	}
	return data, nil
}
