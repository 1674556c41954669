package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/digest"
	"github.com/casualjim/chatstream/internal/broker"
	"github.com/casualjim/chatstream/internal/config"
	"github.com/casualjim/chatstream/pkg/natsx"
	"github.com/casualjim/chatstream/pkg/runstate"
	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/provider/openai"
	"github.com/casualjim/chatstream/session"
	"github.com/casualjim/chatstream/transport"
	"github.com/casualjim/chatstream/transport/chunked"
	"github.com/casualjim/chatstream/transport/eventstream"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// app holds the wired components of one CLI run.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *http.Client
	store     *conversation.Store
	provider  *openai.Provider
	sink      session.Sink
	deck      *digest.Deck
	transport transport.Transport
	broker    broker.Broker
	nc        *nats.Conn
	stats     *runstate.Aggregator

	mu          sync.Mutex
	controllers map[string]*session.Controller
}

func newApp(ctx context.Context, cfg *config.Config, client *http.Client) (*app, error) {
	if client == nil {
		client = &http.Client{}
	}
	a := &app{
		cfg:         cfg,
		logger:      slog.Default().With(slogx.LoggerName("chatstream.cli")),
		client:      client,
		store:       conversation.NewStore(),
		stats:       runstate.New(),
		controllers: make(map[string]*session.Controller),
	}

	a.provider = openai.New(
		openai.Settings{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		option.WithBaseURL(cfg.LLM.BaseURL),
		option.WithAPIKey(cfg.LLM.APIKey),
		option.WithHTTPClient(client),
	)

	a.sink = a.store
	if cfg.Digest.Enabled {
		a.deck = digest.New(a.store, a.provider,
			digest.Every(cfg.Digest.Every),
			digest.Timeout(cfg.Digest.Timeout),
		)
		a.sink = a.deck
	}

	a.transport = a.buildTransport()

	switch cfg.Broker.Kind {
	case config.BrokerNATS:
		nc, err := natsx.NewClient(cfg.Broker.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.nc = nc
		a.broker = broker.NATS(nc)
	default:
		a.broker = broker.Local()
	}
	return a, nil
}

func (a *app) buildTransport() transport.Transport {
	var tr transport.Transport
	switch a.cfg.Stream.Mode {
	case config.ModeEventStream:
		options := []opts.Option[eventstream.Transport]{
			eventstream.HTTPClient(a.client),
			eventstream.WithHooks(eventstream.Hooks{
				OnOpen:  func() { a.logger.Debug("event stream opened") },
				OnError: func(err error) { a.logger.Debug("event stream error", slogx.Error(err)) },
				OnClose: func() { a.logger.Debug("event stream closed") },
			}),
		}
		if a.cfg.Stream.InitEndpoint != "" {
			options = append(options, eventstream.InitEndpoint(a.cfg.Stream.InitEndpoint))
		} else {
			options = append(options, eventstream.SkipInit(true))
		}
		if a.cfg.Stream.QueryAuth != "" {
			options = append(options, eventstream.QueryAuth(a.cfg.Stream.QueryAuth))
		}
		tr = eventstream.New(options...)
	default:
		tr = chunked.New(
			chunked.HTTPClient(a.client),
			chunked.ReadSize(a.cfg.Stream.ReadSize),
		)
	}

	if a.cfg.Stream.RateLimit > 0 {
		tr = transport.WithRateLimit(tr, rate.NewLimiter(rate.Limit(a.cfg.Stream.RateLimit), a.cfg.Stream.RateBurst))
	}
	if a.cfg.Stream.Breaker.Enabled {
		tr = transport.WithBreaker(tr, transport.BreakerSettings{
			Name:        "chatstream",
			MaxFailures: a.cfg.Stream.Breaker.MaxFailures,
			Timeout:     a.cfg.Stream.Breaker.Timeout,
		})
	}
	return tr
}

func (a *app) endpoint() string {
	if a.cfg.Stream.Mode == config.ModeEventStream {
		return a.cfg.Stream.StreamEndpoint
	}
	return a.cfg.ChatEndpoint()
}

// controller returns the controller of a conversation, creating it on first use.
func (a *app) controller(ctx context.Context, conversationID string) *session.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.controllers[conversationID]; ok {
		return c
	}
	c := session.New(conversationID, a.sink, a.transport,
		session.Endpoint(a.endpoint()),
		session.Header(transport.BearerHeader(a.cfg.LLM.APIKey)),
		session.Model(a.cfg.LLM.Model),
		session.SystemPrompt(a.cfg.LLM.SystemPrompt),
		session.Temperature(a.cfg.LLM.Temperature),
		session.MaxTokens(a.cfg.LLM.MaxTokens),
		session.IdleTimeout(a.cfg.Stream.IdleTimeout),
		session.IncludeConversationID(a.cfg.Stream.Mode == config.ModeEventStream),
		session.WithObserver(broker.Observer(ctx, a.broker, a.logger)),
	)
	a.controllers[conversationID] = c
	return c
}

// forget aborts and drops the controller of a deleted conversation.
func (a *app) forget(conversationID string) {
	a.mu.Lock()
	c, ok := a.controllers[conversationID]
	delete(a.controllers, conversationID)
	a.mu.Unlock()

	if ok {
		c.AbortStream()
	}
	a.stats.Forget(conversationID)
	if a.deck != nil {
		a.deck.Clear(conversationID)
	}
}

func (a *app) Close() {
	a.mu.Lock()
	for _, c := range a.controllers {
		c.AbortStream()
	}
	a.mu.Unlock()

	if a.deck != nil {
		a.deck.Wait()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("failed to drain nats connection", slogx.Error(err))
		}
	}
}
