package broker

import (
	"context"
	"log/slog"

	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/session"
)

// Observer returns a session observer that publishes every update on the topic named after
// its conversation.
func Observer(ctx context.Context, b Broker, logger *slog.Logger) session.Observer {
	if logger == nil {
		logger = slog.Default().With(slogx.LoggerName("chatstream.broker"))
	}
	return session.ObserverFunc(func(u session.Update) {
		if err := b.Topic(ctx, u.ConversationID).Publish(ctx, u); err != nil {
			logger.Warn("failed to publish update",
				slogx.Conversation(u.ConversationID),
				slogx.Session(u.SessionID),
				slogx.Error(err),
			)
		}
	})
}
