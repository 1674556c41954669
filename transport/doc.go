// Package transport defines the leaf layer of the streaming chat stack: it opens one outbound
// connection per request and exposes the response as a lazy sequence of raw frames.
//
// Two strategies implement the same Transport interface:
//   - chunked: a single POST whose response body is read incrementally and split into
//     `data: ` lines (see package transport/chunked)
//   - eventstream: an initializing POST followed by a text/event-stream GET that delivers
//     named events (see package transport/eventstream)
//
// The transport knows nothing about chat semantics. Frames carry the payload text untouched;
// turning them into deltas is the job of package decode.
//
// Cancellation is unified behind the context passed to Open: cancelling it interrupts an
// in-flight connect or read. Stream.Close releases the connection and may be called any number
// of times, including on a stream whose connection was never fully established.
//
// Example usage:
//
//	t := chunked.New()
//	strm, err := t.Open(ctx, transport.Request{
//	    Endpoint: "https://api.example.com/v1/chat/completions",
//	    Header:   transport.BearerHeader(apiKey),
//	    Body:     body,
//	})
//	if err != nil {
//	    return err
//	}
//	defer strm.Close()
//
//	for strm.Next() {
//	    frame := strm.Frame()
//	    // hand the frame to a decoder
//	}
//	if err := strm.Err(); err != nil {
//	    return err
//	}
package transport
