package broker

import (
	"context"

	"github.com/casualjim/chatstream/session"
)

type Broker interface {
	Topic(context.Context, string) Topic
}

type Topic interface {
	Publish(context.Context, session.Update) error
	Subscribe(context.Context, Handler) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Handler receives the updates published on a topic, in publish order.
type Handler interface {
	OnUpdate(context.Context, session.Update)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, session.Update)

func (f HandlerFunc) OnUpdate(ctx context.Context, u session.Update) {
	f(ctx, u)
}

const subscriptionBuffer = 50

// forwardToHandler delivers updates until the subscription ends or ctx is cancelled, in which
// case it unsubscribes.
func forwardToHandler(ctx context.Context, updates <-chan session.Update, done <-chan struct{}, handler Handler, unsubscribe func()) {
	for {
		select {
		case u := <-updates:
			handler.OnUpdate(ctx, u)
		case <-done:
			return
		case <-ctx.Done():
			unsubscribe()
			return
		}
	}
}
