/*
Package openai wraps the openai-go client for the calls that do not stream: the connection
test, one-shot completions and the summarizer used by the digest package.

Streaming replies go through the transport packages instead, which expose the raw frames
the session controller needs for incremental rendering and cancellation.

# Connection test

Ping lists the models available to the credential:

	p := openai.New(openai.Settings{Model: "moonshotai/kimi-k2-0905"},
		option.WithBaseURL("https://openai.qiniu.com/v1/"),
		option.WithAPIKey(os.Getenv("CHATSTREAM_API_KEY")),
	)
	models, err := p.Ping(ctx)

A rejected credential surfaces as an *openai.Error with status 401, which
session.IsCredentialError recognises.

# Completions

Complete sends the system prompt and history and returns the reply text. Temperature and
MaxTokens from Settings are sent when positive.

# Summaries

Provider implements digest.Summarizer, so it can be handed to digest.New directly.
*/
package openai
