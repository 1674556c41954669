package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/pkg/uuidx"
	"github.com/casualjim/chatstream/session"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to topic ids to form NATS subjects.
const SubjectPrefix = "chatstream."

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
	logger *slog.Logger
}

func NATS(client *nats.Conn) *natsBroker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
		logger: slog.Default().With(slogx.LoggerName("chatstream.broker.nats")),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: SubjectPrefix + id,
			client:  b.client,
			logger:  b.logger,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
	logger  *slog.Logger
}

func (t *natsTopic) Publish(ctx context.Context, update session.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := update.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	return t.client.Publish(t.subject, b)
}

func (t *natsTopic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	updates := make(chan session.Update, subscriptionBuffer)
	done := make(chan struct{})

	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		var update session.Update
		if err := update.UnmarshalJSON(msg.Data); err != nil {
			t.logger.Error("failed to unmarshal update", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}

		select {
		case updates <- update:
		case <-done:
			return
		case <-ctx.Done():
			return
		}

		if msg.Reply != "" {
			if nerr := msg.Ack(); nerr != nil {
				t.logger.Error("failed to ack message", slogx.Error(nerr))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.subject, err)
	}

	sub := &natsSubscription{
		id:     uuidx.NewString(),
		sub:    nsub,
		done:   done,
		logger: t.logger,
	}
	go forwardToHandler(ctx, updates, done, handler, sub.Unsubscribe)
	return sub, nil
}

type natsSubscription struct {
	id     string
	sub    *nats.Subscription
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil {
			n.logger.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
		}
	})
}
