package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/chatstream/session"
	"github.com/go-openapi/strfmt"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokerFactory is a function that creates a new broker instance for testing
type brokerFactory func(t *testing.T) Broker

// acceptanceTest represents a single acceptance test case
type acceptanceTest struct {
	name string
	test func(t *testing.T, createBroker brokerFactory)
}

// runAcceptanceTests runs all acceptance tests against a broker implementation
func runAcceptanceTests(t *testing.T, name string, factory brokerFactory) {
	tests := []acceptanceTest{
		{"creates unique topics", testUniqueTopics},
		{"reuses existing topics", testReuseTopics},
		{"publishes updates to all subscribers", testPublishToAllSubscribers},
		{"preserves publish order", testPublishOrder},
		{"handles subscription lifecycle", testSubscriptionLifecycle},
		{"handles context cancellation", testContextCancellation},
		{"handles concurrent operations", testConcurrentOperations},
		{"validates handler requirement", testHandlerValidation},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("NATS server not reachable at %s: %v", nats.DefaultURL, err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestBrokerImplementations(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		runAcceptanceTests(t, "Local", func(t *testing.T) Broker {
			return Local()
		})
	})

	t.Run("NATS", func(t *testing.T) {
		runAcceptanceTests(t, "NATS", func(t *testing.T) Broker {
			return NATS(connectNATS(t))
		})
	})
}

// recordingHandler records updates and marks a wait group for each one.
type recordingHandler struct {
	mu      sync.Mutex
	updates []session.Update
	wg      *sync.WaitGroup
}

func (h *recordingHandler) OnUpdate(_ context.Context, u session.Update) {
	h.mu.Lock()
	h.updates = append(h.updates, u)
	h.mu.Unlock()
	if h.wg != nil {
		h.wg.Done()
	}
}

func (h *recordingHandler) snapshot() []session.Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Update(nil), h.updates...)
}

func update(convID, text string) session.Update {
	return session.Update{
		ConversationID: convID,
		SessionID:      "s1",
		Status:         session.Streaming,
		Text:           text,
		Fragment:       text,
		Timestamp:      strfmt.DateTime(time.Now().UTC().Truncate(time.Millisecond)),
	}
}

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for updates to be processed")
	}
}

func testUniqueTopics(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic1 := broker.Topic(context.Background(), "test1")
	topic2 := broker.Topic(context.Background(), "test2")
	assert.NotEqual(t, topic1, topic2)
}

func testReuseTopics(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic1 := broker.Topic(context.Background(), "test")
	topic2 := broker.Topic(context.Background(), "test")
	assert.Equal(t, topic1, topic2)
}

func testPublishToAllSubscribers(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "all")
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(4) // 2 handlers * 2 updates
	recorder1 := &recordingHandler{wg: &wg}
	recorder2 := &recordingHandler{wg: &wg}

	sub1, err := topic.Subscribe(ctx, recorder1)
	require.NoError(t, err)
	sub2, err := topic.Subscribe(ctx, recorder2)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()
	assert.NotEqual(t, sub1.ID(), sub2.ID())

	require.NoError(t, topic.Publish(ctx, update("all", "Hi")))
	require.NoError(t, topic.Publish(ctx, update("all", "Hi there")))
	waitFor(t, &wg)

	for _, r := range []*recordingHandler{recorder1, recorder2} {
		got := r.snapshot()
		require.Len(t, got, 2)
		assert.Equal(t, "all", got[0].ConversationID)
		assert.Equal(t, session.Streaming, got[0].Status)
		assert.Equal(t, "Hi there", got[1].Text)
	}
}

func testPublishOrder(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "order")
	ctx := context.Background()

	const numUpdates = 30
	var wg sync.WaitGroup
	wg.Add(numUpdates)
	recorder := &recordingHandler{wg: &wg}
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < numUpdates; i++ {
		require.NoError(t, topic.Publish(ctx, update("order", fmt.Sprint(i))))
	}
	waitFor(t, &wg)

	for i, u := range recorder.snapshot() {
		assert.Equal(t, fmt.Sprint(i), u.Text)
	}
}

func testSubscriptionLifecycle(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "lifecycle")

	ctx := context.Background()
	recorder := &recordingHandler{}
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, topic.Publish(ctx, update("lifecycle", "late")))
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, recorder.snapshot())
}

func testContextCancellation(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "cancel")

	ctx, cancel := context.WithCancel(context.Background())
	recorder := &recordingHandler{}
	sub, err := topic.Subscribe(ctx, recorder)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cancel()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, topic.Publish(context.Background(), update("cancel", "late")))
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, recorder.snapshot())
}

func testConcurrentOperations(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "concurrent")
	ctx := context.Background()

	const numSubscribers = 10
	const numUpdates = 100
	recorders := make([]*recordingHandler, numSubscribers)
	subs := make([]Subscription, numSubscribers)
	var processWg sync.WaitGroup
	processWg.Add(numSubscribers * numUpdates)

	for i := 0; i < numSubscribers; i++ {
		recorders[i] = &recordingHandler{wg: &processWg}
		sub, err := topic.Subscribe(ctx, recorders[i])
		require.NoError(t, err)
		subs[i] = sub
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	var publishWg sync.WaitGroup
	publishWg.Add(numUpdates)
	for i := 0; i < numUpdates; i++ {
		go func(i int) {
			defer publishWg.Done()
			assert.NoError(t, topic.Publish(ctx, update("concurrent", fmt.Sprintf("message-%d", i))))
		}(i)
	}

	publishWg.Wait()
	waitFor(t, &processWg)

	for _, recorder := range recorders {
		assert.Len(t, recorder.snapshot(), numUpdates)
	}
}

func testHandlerValidation(t *testing.T, createBroker brokerFactory) {
	broker := createBroker(t)
	topic := broker.Topic(context.Background(), "validation")

	_, err := topic.Subscribe(context.Background(), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "handler is required")
}
