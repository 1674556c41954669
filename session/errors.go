package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/casualjim/chatstream/transport"
)

var (
	// ErrStreaming is returned by SendMessage while a session is streaming.
	ErrStreaming = errors.New("a response is still streaming")
	// ErrEmptyMessage is returned by SendMessage for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrAborted is the cause recorded for a session cancelled by the caller.
	ErrAborted = errors.New("stream aborted")
	// ErrIdleTimeout is the cause recorded when no frame arrived within the idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// User facing texts written to the sink when a session fails before any text arrived.
const (
	GenericFailureMessage    = "Sorry, there was an error processing your request."
	CredentialFailureMessage = "Authentication failed. Please check your API key configuration."
)

// UpstreamError is an error reported by the server inside the stream.
type UpstreamError struct {
	Message string
	Code    string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

var credentialCodes = map[string]bool{
	"invalid_api_key":        true,
	"invalid_authentication": true,
	"authentication_error":   true,
	"invalid_token":          true,
	"unauthorized":           true,
	"401":                    true,
	"403":                    true,
}

var credentialMarkers = []string{
	"invalid_api_key",
	"invalid api key",
	"incorrect api key",
	"missing api key",
	"api key not valid",
	"unauthorized",
	"authentication failed",
	"authentication required",
	"invalid credential",
	"invalid token",
}

// IsCredentialError reports whether err indicates a credential or configuration problem.
// A status code or an upstream error code decides when present; otherwise the error text is
// matched against known credential markers.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	var se *transport.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		case http.StatusTooManyRequests:
			return false
		}
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Code != "" {
		return credentialCodes[strings.ToLower(ue.Code)]
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range credentialMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FailureMessage returns the text shown in place of a reply that failed before any text arrived.
func FailureMessage(err error) string {
	if IsCredentialError(err) {
		return CredentialFailureMessage
	}
	return GenericFailureMessage
}
