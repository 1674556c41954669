package slogx

import (
	"log/slog"
	"unicode/utf8"
)

const (
	// KeyLoggerName is the key for the logger name attribute.
	KeyLoggerName = "logger"
	// KeyConversation is the key for the conversation id attribute.
	KeyConversation = "conversation_id"
	// KeySession is the key for the session id attribute.
	KeySession = "session_id"
)

// maxValueLen bounds the size of payload values written to logs.
const maxValueLen = 256

// Error returns an attribute with key "error" holding the error message.
// A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName returns an attribute naming the component that owns a logger.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Conversation returns the conversation id attribute.
func Conversation(id string) slog.Attr {
	return slog.String(KeyConversation, id)
}

// Session returns the session id attribute.
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// Truncated returns a string attribute whose value is cut to at most 256 bytes
// on a rune boundary.
func Truncated(key, value string) slog.Attr {
	if len(value) <= maxValueLen {
		return slog.String(key, value)
	}
	cut := maxValueLen
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return slog.String(key, value[:cut]+"...")
}
