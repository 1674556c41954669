package chunked

import (
	"bytes"
	"strings"
)

// LineBuffer splits an incrementally delivered byte stream into lines.
//
// A line may span two physical reads: whatever follows the last newline of a read is held
// back and prepended to the next read instead of being emitted. Splitting on the newline byte
// is safe for UTF-8 input because no multi-byte sequence contains it, so a rune cut in half by
// a read boundary is held back along with the rest of its line.
type LineBuffer struct {
	pending []byte
}

// Feed appends p and returns every line completed by it, without line terminators.
// A trailing "\r" is stripped so CRLF streams produce the same lines as LF streams.
func (b *LineBuffer) Feed(p []byte) []string {
	if len(p) == 0 {
		return nil
	}
	b.pending = append(b.pending, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(b.pending[:idx]), "\r"))
		b.pending = b.pending[idx+1:]
	}

	// compact so a long stream does not keep every consumed byte reachable
	if len(b.pending) == 0 {
		b.pending = nil
	} else if len(lines) > 0 {
		b.pending = append([]byte(nil), b.pending...)
	}
	return lines
}

// Flush returns the held back partial line, if any, and empties the buffer.
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.pending) == 0 {
		return "", false
	}
	line := strings.TrimSuffix(string(b.pending), "\r")
	b.pending = nil
	return line, true
}

// Len returns the number of held back bytes.
func (b *LineBuffer) Len() int {
	return len(b.pending)
}
