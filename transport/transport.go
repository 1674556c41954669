package transport

import (
	"context"
	"net/http"
)

// Event kinds carried by a Frame.
const (
	EventMessage = "message"
	EventError   = "error"
	EventDone    = "done"
)

// Frame is one undecoded unit of transport data.
type Frame struct {
	// ID is the optional event identifier.
	ID string
	// Event is the event kind, one of EventMessage, EventError or EventDone.
	Event string
	// Data is the payload text, without the `data: ` prefix.
	Data string
}

// IsDone reports whether the frame is a transport level completion marker.
func (f Frame) IsDone() bool {
	return f.Event == EventDone
}

// Request describes one outbound streaming request.
type Request struct {
	Endpoint string
	Header   http.Header
	Body     []byte
}

// Transport opens streaming connections. Each call to Open performs exactly one logical
// network operation and never retries.
type Transport interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// Stream is a lazy, pull based sequence of frames.
type Stream interface {
	// Next advances to the next frame. It returns false when the stream closed naturally,
	// after a done frame, when an error occurred or after Close.
	Next() bool
	// Frame returns the frame Next advanced to.
	Frame() Frame
	// Err returns the error that stopped the stream, if any.
	Err() error
	// Close releases the underlying connection. It is idempotent.
	Close() error
}

// Func adapts a plain function to the Transport interface.
type Func func(ctx context.Context, req Request) (Stream, error)

func (f Func) Open(ctx context.Context, req Request) (Stream, error) {
	return f(ctx, req)
}

// BearerHeader returns the default headers for a JSON request authenticated with a bearer token.
func BearerHeader(token string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// CloneHeader copies h, tolerating nil.
func CloneHeader(h http.Header) http.Header {
	if h == nil {
		return make(http.Header)
	}
	return h.Clone()
}
