// Package chunked implements the chunked-body streaming strategy: a single POST whose
// response body is read incrementally, split into lines and filtered down to `data: ` lines.
package chunked

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/transport"
	"github.com/fogfish/opts"
)

const (
	defaultReadSize = 4096
	dataPrefix      = "data:"
	doneSentinel    = "[DONE]"
)

var _ transport.Transport = (*Transport)(nil)

// Transport posts the request and streams the response body.
type Transport struct {
	client   *http.Client
	readSize int
	logger   *slog.Logger
}

var (
	// HTTPClient sets the client used for the POST.
	HTTPClient = opts.ForName[Transport, *http.Client]("client")
	// ReadSize sets the size of each physical body read.
	ReadSize = opts.ForName[Transport, int]("readSize")
	// Logger sets the logger.
	Logger = opts.ForName[Transport, *slog.Logger]("logger")
)

// New creates a chunked-body transport.
func New(options ...opts.Option[Transport]) *Transport {
	t := &Transport{
		client:   &http.Client{},
		readSize: defaultReadSize,
		logger:   slog.Default().With(slogx.LoggerName("chatstream.transport.chunked")),
	}
	if err := opts.Apply(t, options); err != nil {
		panic(err)
	}
	if t.readSize <= 0 {
		t.readSize = defaultReadSize
	}
	return t
}

// Open performs the POST and returns a stream over the response body.
func (t *Transport) Open(ctx context.Context, req transport.Request) (transport.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, &transport.Error{Op: "build request", URL: req.Endpoint, Err: err}
	}
	httpReq.Header = transport.CloneHeader(req.Header)
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &transport.Error{Op: "post", URL: req.Endpoint, Err: err}
	}
	if !transport.IsSuccess(resp.StatusCode) {
		se := transport.NewStatusError(resp)
		resp.Body.Close()
		cancel()
		return nil, se
	}

	t.logger.Debug("stream opened", slog.String("url", req.Endpoint), slog.Int("status", resp.StatusCode))
	return NewStream(ctx, cancel, resp.Body, t.readSize, t.logger), nil
}

// Stream reads frames from a chunked response body.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	logger *slog.Logger

	buf      []byte
	lines    LineBuffer
	queue    []transport.Frame
	cur      transport.Frame
	sawDone  bool
	finished bool
	eof      bool
	err      error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps body. cancel is invoked on Close and may be nil; body may be nil for a
// stream whose connection was never established.
func NewStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, readSize int, logger *slog.Logger) *Stream {
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		logger: logger,
		buf:    make([]byte, readSize),
	}
}

func (s *Stream) Next() bool {
	for {
		if s.closed.Load() {
			return false
		}
		if len(s.queue) > 0 {
			s.cur = s.queue[0]
			s.queue = s.queue[1:]
			if s.cur.IsDone() {
				s.finished = true
				s.queue = nil
			}
			return true
		}
		if s.finished || s.eof || s.err != nil || s.body == nil {
			return false
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			for _, line := range s.lines.Feed(s.buf[:n]) {
				s.push(line)
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			s.eof = true
			if rest, ok := s.lines.Flush(); ok {
				s.push(rest)
			}
			continue
		}
		if s.closed.Load() {
			return false
		}
		if cerr := s.ctx.Err(); cerr != nil {
			err = cerr
		}
		s.err = &transport.Error{Op: "read", Err: err}
	}
}

// push turns one line into a frame. Blank lines, comments and fields other than data are ignored.
func (s *Stream) push(line string) {
	if s.sawDone {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		s.logger.Debug("skipping non-data line", slogx.Truncated("line", line))
		return
	}
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		s.sawDone = true
		s.queue = append(s.queue, transport.Frame{Event: transport.EventDone})
		return
	}
	s.queue = append(s.queue, transport.Frame{Event: transport.EventMessage, Data: payload})
}

func (s *Stream) Frame() transport.Frame {
	return s.cur
}

func (s *Stream) Err() error {
	return s.err
}

// Close cancels any in-flight read and closes the body. Repeated calls return the result of
// the first one.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		if s.body != nil {
			s.closeErr = s.body.Close()
		}
	})
	return s.closeErr
}
