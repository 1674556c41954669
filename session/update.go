package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Status is the lifecycle state of a session.
type Status int

const (
	Idle Status = iota
	Streaming
	Completed
	Errored
	Aborted
)

var statusNames = [...]string{"idle", "streaming", "completed", "errored", "aborted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// State is a snapshot of the current session.
type State struct {
	SessionID string
	Status    Status
	// Text is the accumulated assistant text.
	Text string
	// Err is the cause of an Errored or Aborted session.
	Err error
}

// Update is published to the observer after every state change and every sink write.
type Update struct {
	ConversationID string
	SessionID      string
	Status         Status
	// Text is the cumulative assistant text.
	Text string
	// Fragment is the text delta that produced this update, if any.
	Fragment  string
	Err       error
	Timestamp strfmt.DateTime
}

// Observer receives session updates in the order they happened. Observe runs outside the
// controller lock: a slow observer never holds up AbortStream or State.
type Observer interface {
	Observe(Update)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Update)

func (f ObserverFunc) Observe(u Update) {
	f(u)
}

var updateJSON = []byte(`{"type":"update"}`)

// MarshalJSON implements custom JSON marshaling for Update.
func (u Update) MarshalJSON() ([]byte, error) {
	result := updateJSON

	var err error
	result, err = sjson.SetBytes(result, "conversation_id", u.ConversationID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "session_id", u.SessionID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "status", u.Status.String())
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "text", u.Text)
	if err != nil {
		return nil, err
	}
	if u.Fragment != "" {
		result, err = sjson.SetBytes(result, "fragment", u.Fragment)
		if err != nil {
			return nil, err
		}
	}
	if u.Err != nil {
		result, err = sjson.SetBytes(result, "error", u.Err.Error())
		if err != nil {
			return nil, err
		}
	}
	if !time.Time(u.Timestamp).IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", u.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Update. The error, if present, is
// restored as a plain error carrying the original message.
func (u *Update) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "update" {
		return fmt.Errorf("missing or invalid type, expected 'update'")
	}

	convID := gjson.GetBytes(data, "conversation_id")
	if !convID.Exists() {
		return fmt.Errorf("missing required field 'conversation_id'")
	}
	u.ConversationID = convID.String()
	u.SessionID = gjson.GetBytes(data, "session_id").String()

	status, err := ParseStatus(gjson.GetBytes(data, "status").String())
	if err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	u.Status = status
	u.Text = gjson.GetBytes(data, "text").String()
	u.Fragment = gjson.GetBytes(data, "fragment").String()

	u.Err = nil
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		u.Err = errors.New(e.String())
	}

	u.Timestamp = strfmt.DateTime{}
	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		parsed, err := strfmt.ParseDateTime(ts.String())
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		u.Timestamp = parsed
	}
	return nil
}
