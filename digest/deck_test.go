package digest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/casualjim/chatstream/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinSummarizer() Summarizer {
	return SummarizerFunc(func(_ context.Context, msgs []conversation.Message) (string, error) {
		parts := make([]string, len(msgs))
		for i, m := range msgs {
			parts[i] = m.Content
		}
		return strings.Join(parts, " | "), nil
	})
}

func appendUser(t *testing.T, d *Deck, convID, text string) conversation.Message {
	t.Helper()
	msg, err := d.Append(convID, conversation.Draft{Content: text, Sender: conversation.SenderUser})
	require.NoError(t, err)
	return msg
}

func TestDeck_SummarizesEveryN(t *testing.T) {
	store := conversation.NewStore()
	conv := store.Create("")
	d := New(store, joinSummarizer(), Every(2))

	first := appendUser(t, d, conv.ID, "one")
	_, err := d.Append(conv.ID, conversation.Draft{Content: "reply", Sender: conversation.SenderAssistant})
	require.NoError(t, err)
	d.Wait()
	assert.Empty(t, d.Cards(conv.ID))
	assert.Len(t, d.Pending(conv.ID), 1)

	second := appendUser(t, d, conv.ID, "two")
	appendUser(t, d, conv.ID, "three")
	d.Wait()

	cards := d.Cards(conv.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "one | two", cards[0].Summary)
	assert.Equal(t, []string{first.ID, second.ID}, cards[0].MessageIDs)
	assert.NotEmpty(t, cards[0].ID)

	pending := d.Pending(conv.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, "three", pending[0].Content)

	msgs, err := d.Messages(conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4, "messages still reach the wrapped sink")
}

func TestDeck_FailedSummaryRequeues(t *testing.T) {
	store := conversation.NewStore()
	conv := store.Create("")

	var calls atomic.Int32
	flaky := SummarizerFunc(func(ctx context.Context, msgs []conversation.Message) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("model overloaded")
		}
		return joinSummarizer().Summarize(ctx, msgs)
	})
	d := New(store, flaky, Every(2))

	appendUser(t, d, conv.ID, "a")
	appendUser(t, d, conv.ID, "b")
	d.Wait()
	assert.Empty(t, d.Cards(conv.ID))
	assert.Len(t, d.Pending(conv.ID), 2)

	appendUser(t, d, conv.ID, "c")
	d.Wait()

	cards := d.Cards(conv.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "a | b | c", cards[0].Summary)
	assert.Empty(t, d.Pending(conv.ID))
}

func TestDeck_RemoveAndClear(t *testing.T) {
	store := conversation.NewStore()
	conv := store.Create("")
	d := New(store, joinSummarizer(), Every(1))

	appendUser(t, d, conv.ID, "a")
	appendUser(t, d, conv.ID, "b")
	d.Wait()

	cards := d.Cards(conv.ID)
	require.Len(t, cards, 2)
	assert.True(t, d.RemoveCard(conv.ID, cards[0].ID))
	assert.False(t, d.RemoveCard(conv.ID, cards[0].ID))
	assert.Len(t, d.Cards(conv.ID), 1)

	d.Clear(conv.ID)
	assert.Empty(t, d.Cards(conv.ID))
}

func TestDeck_SinkErrorsPassThrough(t *testing.T) {
	d := New(conversation.NewStore(), joinSummarizer())
	_, err := d.Append("missing", conversation.Draft{Content: "x", Sender: conversation.SenderUser})
	assert.ErrorIs(t, err, conversation.ErrNotFound)
	assert.Empty(t, d.Pending("missing"))
}

func TestNew_InvalidEveryPanics(t *testing.T) {
	assert.Panics(t, func() { New(conversation.NewStore(), joinSummarizer(), Every(0)) })
}

func TestDeck_ClearDuringSummaryDropsResult(t *testing.T) {
	for _, fail := range []bool{true, false} {
		store := conversation.NewStore()
		conv := store.Create("")

		started := make(chan struct{})
		release := make(chan struct{})
		gated := SummarizerFunc(func(ctx context.Context, msgs []conversation.Message) (string, error) {
			close(started)
			<-release
			if fail {
				return "", errors.New("model overloaded")
			}
			return joinSummarizer().Summarize(ctx, msgs)
		})
		d := New(store, gated, Every(1))

		appendUser(t, d, conv.ID, "a")
		<-started
		d.Clear(conv.ID)
		close(release)
		d.Wait()

		assert.Empty(t, d.Pending(conv.ID), "fail=%v", fail)
		assert.Empty(t, d.Cards(conv.ID), "fail=%v", fail)
	}
}
