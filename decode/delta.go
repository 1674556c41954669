// Package decode maps raw transport frames to structured deltas.
//
// A Decoder turns every frame into at most one Delta. Frames whose payload cannot be parsed
// are logged and counted as warnings, they never end the stream.
package decode

// Delta is one decoded increment of an assistant reply. The concrete type is one of
// Text, Role, Done or Failure.
type Delta interface {
	delta()
}

// Text is a fragment of assistant text. An empty Fragment is a valid delta.
// FinishReason is set when the same chunk also carried a model finish marker.
type Text struct {
	Fragment     string
	FinishReason string
}

func (Text) delta() {}

// Role announces the speaker of the reply.
type Role struct {
	Role string
}

func (Role) delta() {}

// Done marks the end of the reply.
type Done struct {
	Reason string
}

func (Done) delta() {}

// Failure carries an error reported by the upstream server. Code is the machine readable
// error code (or type) when the payload has one.
type Failure struct {
	Message string
	Code    string
}

func (Failure) delta() {}

// IsTerminal reports whether d ends the stream: a Done, or a Text with a finish reason.
func IsTerminal(d Delta) bool {
	switch v := d.(type) {
	case Done:
		return true
	case Text:
		return v.FinishReason != ""
	default:
		return false
	}
}
