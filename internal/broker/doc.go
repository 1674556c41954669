// Package broker fans session updates out to subscribers. It provides a minimal interface for
// topic-based distribution with context awareness, so that a terminal UI, a log tap or a
// remote process can follow a streaming reply.
//
// Topics are named after conversation ids. Two implementations exist:
//   - Local: in-process delivery over buffered channels. A subscriber that stays full for
//     longer than the slow subscriber timeout is dropped.
//   - NATS: updates are JSON encoded and published on the subject "chatstream.<id>".
//
// Interface hierarchy:
//   - Broker: Top-level interface for accessing topics
//     └── Topic: Interface for publishing/subscribing to updates
//     └── Subscription: Interface for managing subscriptions
//
// Example usage:
//
//	b := broker.Local()
//	sub, err := b.Topic(ctx, conv.ID).Subscribe(ctx, broker.HandlerFunc(func(ctx context.Context, u session.Update) {
//	    fmt.Print(u.Fragment)
//	}))
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	ctrl := session.New(conv.ID, store, tr, session.WithObserver(broker.Observer(ctx, b, nil)))
//
// Subscriptions end when Unsubscribe is called or when the context given to Subscribe is
// cancelled.
package broker
