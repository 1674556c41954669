// Package session runs the send-and-receive cycle of a chat conversation.
//
// A Controller appends the user message and an empty assistant placeholder to its Sink, opens
// a transport with the conversation history, decodes every frame and replaces the placeholder
// text with the cumulative reply as deltas arrive. A session ends in one of three states:
//
//   - Completed: a done event, a finish reason or the end of the stream.
//   - Errored: an error event or a transport failure. Partial text stays in the sink, an empty
//     reply is replaced with GenericFailureMessage or CredentialFailureMessage.
//   - Aborted: AbortStream, cancellation of the context given to SendMessage, or the idle
//     timeout. Nothing is written to the sink after the abort.
//
// Example:
//
//	store := conversation.NewStore()
//	conv := store.Create("")
//	ctrl := session.New(conv.ID, store, chunked.New(),
//		session.Endpoint("https://openai.qiniu.com/v1/chat/completions"),
//		session.Header(transport.BearerHeader(apiKey)),
//		session.Model("moonshotai/kimi-k2-0905"),
//	)
//	if err := ctrl.SendMessage(ctx, "Hello"); err != nil {
//		return err
//	}
//	state, err := ctrl.Wait(ctx)
package session
