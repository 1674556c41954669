package decode

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/casualjim/chatstream/pkg/slogx"
	"github.com/casualjim/chatstream/transport"
	"github.com/tidwall/gjson"
)

const (
	// ReasonDone is the Done reason for a transport level completion event.
	ReasonDone = "done"
	// ReasonStop is the finish reason reported for chunks flagged with `finished: true`.
	ReasonStop = "stop"

	defaultFailure = "stream error"
)

// Decoder converts frames into deltas. It is safe for concurrent use.
type Decoder struct {
	logger   *slog.Logger
	warnings atomic.Int64
}

// New creates a decoder logging to logger, or to the default logger when nil.
func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default().With(slogx.LoggerName("chatstream.decode"))
	}
	return &Decoder{logger: logger}
}

// Warnings returns the number of frames that could not be parsed.
func (d *Decoder) Warnings() int64 {
	return d.warnings.Load()
}

// Decode returns the delta carried by f. The boolean is false when the frame carries nothing
// to apply, either because it was unparseable or because it held no recognisable field.
func (d *Decoder) Decode(f transport.Frame) (Delta, bool) {
	switch f.Event {
	case transport.EventError:
		msg := strings.TrimSpace(f.Data)
		if msg == "" {
			msg = defaultFailure
		}
		return Failure{Message: msg}, true
	case transport.EventDone:
		return Done{Reason: ReasonDone}, true
	}

	if !gjson.Valid(f.Data) {
		d.warnings.Add(1)
		d.logger.Warn("failed to decode frame", slogx.Truncated("data", f.Data))
		return nil, false
	}

	payload := gjson.Parse(f.Data)
	if e := payload.Get("error"); e.Exists() && e.Type != gjson.Null {
		return Failure{Message: errorMessage(e), Code: errorCode(e)}, true
	}

	delta := payload.Get("choices.0.delta")
	if !delta.Exists() {
		delta = payload.Get("delta")
	}
	reason := finishReason(payload)

	if content := delta.Get("content"); content.Exists() && content.Type != gjson.Null {
		return Text{Fragment: content.String(), FinishReason: reason}, true
	}
	if reason != "" {
		return Done{Reason: reason}, true
	}
	if role := delta.Get("role"); role.Exists() && role.String() != "" {
		return Role{Role: role.String()}, true
	}

	d.logger.Debug("frame carries no delta", slogx.Truncated("data", f.Data))
	return nil, false
}

func finishReason(payload gjson.Result) string {
	if r := payload.Get("choices.0.finish_reason"); r.Exists() && r.String() != "" {
		return r.String()
	}
	if payload.Get("finished").Bool() {
		return ReasonStop
	}
	return ""
}

func errorCode(e gjson.Result) string {
	if !e.IsObject() {
		return ""
	}
	if v := e.Get("code").String(); v != "" {
		return v
	}
	return e.Get("type").String()
}

func errorMessage(e gjson.Result) string {
	if e.IsObject() {
		for _, path := range []string{"message", "code", "type"} {
			if v := e.Get(path).String(); v != "" {
				return v
			}
		}
		return e.Raw
	}
	if s := strings.TrimSpace(e.String()); s != "" {
		return s
	}
	return defaultFailure
}
