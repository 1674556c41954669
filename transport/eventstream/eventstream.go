// Package eventstream implements the event-stream strategy: the request body is posted to an
// initializing endpoint, then a text/event-stream connection is opened on the streaming
// endpoint and its named events (message, error, done) are exposed as frames.
//
// Event-stream clients commonly cannot set custom headers, so the transport can move the
// Authorization header into a URL query parameter (see QueryAuth).
//
// Event identifiers are not surfaced: Frame.ID is always empty for this transport.
package eventstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/transport"
	"github.com/fogfish/opts"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultAuthParam is the query parameter used by QueryAuth when no name is given.
const DefaultAuthParam = "auth"

// Hooks are invoked at the connection lifecycle points. Any of them may be nil.
// They run on the goroutine that drives the stream and must not block.
type Hooks struct {
	OnOpen    func()
	OnMessage func(transport.Frame)
	OnError   func(error)
	OnClose   func()
}

var _ transport.Transport = (*Transport)(nil)

// Transport opens two-phase event-stream connections.
type Transport struct {
	client         *http.Client
	initEndpoint   string
	streamEndpoint string
	authParam      string
	skipInit       bool
	hooks          Hooks
	logger         *slog.Logger
}

var (
	// HTTPClient sets the client used for both phases.
	HTTPClient = opts.ForName[Transport, *http.Client]("client")
	// InitEndpoint overrides the URL of the initializing POST. It defaults to the request endpoint.
	InitEndpoint = opts.ForName[Transport, string]("initEndpoint")
	// StreamEndpoint overrides the URL of the event-stream GET. It defaults to the request endpoint.
	StreamEndpoint = opts.ForName[Transport, string]("streamEndpoint")
	// SkipInit disables the initializing POST.
	SkipInit = opts.ForName[Transport, bool]("skipInit")
	// WithHooks installs lifecycle hooks.
	WithHooks = opts.ForName[Transport, Hooks]("hooks")
	// Logger sets the logger.
	Logger = opts.ForName[Transport, *slog.Logger]("logger")
)

// QueryAuth moves the Authorization header of the event-stream GET into the query parameter
// name. An empty name selects DefaultAuthParam.
func QueryAuth(name string) opts.Option[Transport] {
	return opts.Type[Transport](func(t *Transport) error {
		if strings.TrimSpace(name) == "" {
			name = DefaultAuthParam
		}
		t.authParam = name
		return nil
	})
}

// New creates an event-stream transport.
func New(options ...opts.Option[Transport]) *Transport {
	t := &Transport{
		client: &http.Client{},
		logger: slog.Default().With(slogx.LoggerName("chatstream.transport.eventstream")),
	}
	if err := opts.Apply(t, options); err != nil {
		panic(err)
	}
	return t
}

// Open posts the request body to the initializing endpoint, then connects to the streaming
// endpoint.
func (t *Transport) Open(ctx context.Context, req transport.Request) (transport.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	if !t.skipInit {
		if err := t.initialize(ctx, req); err != nil {
			cancel()
			t.fireError(err)
			return nil, err
		}
	}

	streamURL, header, err := t.streamTarget(req)
	if err != nil {
		cancel()
		t.fireError(err)
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		err = &transport.Error{Op: "build request", URL: streamURL, Err: err}
		t.fireError(err)
		return nil, err
	}
	httpReq.Header = header
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		err = &transport.Error{Op: "connect", URL: streamURL, Err: err}
		t.fireError(err)
		return nil, err
	}
	if !transport.IsSuccess(resp.StatusCode) {
		se := transport.NewStatusError(resp)
		resp.Body.Close()
		cancel()
		t.fireError(se)
		return nil, se
	}

	t.logger.Debug("event stream opened", slog.String("url", streamURL))
	if t.hooks.OnOpen != nil {
		t.hooks.OnOpen()
	}
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		dec:    ssestream.NewDecoder(resp),
		hooks:  t.hooks,
	}, nil
}

func (t *Transport) initialize(ctx context.Context, req transport.Request) error {
	endpoint := t.initEndpoint
	if endpoint == "" {
		endpoint = req.Endpoint
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return &transport.Error{Op: "build request", URL: endpoint, Err: err}
	}
	httpReq.Header = transport.CloneHeader(req.Header)
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return &transport.Error{Op: "initialize", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if !transport.IsSuccess(resp.StatusCode) {
		return transport.NewStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// streamTarget resolves the GET url and headers, moving the credential into the query string
// when QueryAuth is configured.
func (t *Transport) streamTarget(req transport.Request) (string, http.Header, error) {
	endpoint := t.streamEndpoint
	if endpoint == "" {
		endpoint = req.Endpoint
	}
	header := transport.CloneHeader(req.Header)
	header.Del("Content-Type")

	if t.authParam == "" {
		return endpoint, header, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, &transport.Error{Op: "parse url", URL: endpoint, Err: err}
	}
	if cred := header.Get("Authorization"); cred != "" {
		q := u.Query()
		q.Set(t.authParam, cred)
		u.RawQuery = q.Encode()
		header.Del("Authorization")
	}
	return u.String(), header, nil
}

func (t *Transport) fireError(err error) {
	if t.hooks.OnError != nil {
		t.hooks.OnError(err)
	}
}

// Stream yields the named events of an open event-stream connection.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	dec    ssestream.Decoder
	hooks  Hooks

	cur      transport.Frame
	finished bool
	err      error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *Stream) Next() bool {
	if s.finished || s.err != nil || s.dec == nil {
		return false
	}
	for {
		if s.closed.Load() {
			return false
		}
		if !s.dec.Next() {
			if err := s.dec.Err(); err != nil && !s.closed.Load() {
				if cerr := s.ctx.Err(); cerr != nil {
					err = cerr
				}
				s.err = &transport.Error{Op: "read", Err: err}
				if s.hooks.OnError != nil {
					s.hooks.OnError(s.err)
				}
			}
			return false
		}

		ev := s.dec.Event()
		data := strings.TrimSuffix(string(ev.Data), "\n")
		if ev.Type == "" && data == "" {
			// consecutive blank lines dispatch empty events
			continue
		}

		f := transport.Frame{Event: ev.Type, Data: data}
		if f.Event == "" {
			f.Event = transport.EventMessage
		}
		if f.IsDone() {
			s.finished = true
		}
		if s.hooks.OnMessage != nil {
			s.hooks.OnMessage(f)
		}
		s.cur = f
		return true
	}
}

func (s *Stream) Frame() transport.Frame {
	return s.cur
}

func (s *Stream) Err() error {
	return s.err
}

// Close cancels the connection and fires OnClose exactly once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		if s.dec != nil {
			s.closeErr = s.dec.Close()
		}
		if s.hooks.OnClose != nil {
			s.hooks.OnClose()
		}
	})
	return s.closeErr
}
