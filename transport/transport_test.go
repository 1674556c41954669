package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestChatRequest_Encode(t *testing.T) {
	temp := 0.7
	maxTokens := 2000
	body, err := ChatRequest{
		Model: "moonshotai/kimi-k2-0905",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "You are a helpful assistant."},
			{Role: RoleUser, Content: "Hello!"},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stream:      true,
	}.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"model": "moonshotai/kimi-k2-0905",
		"messages": [
			{"role": "system", "content": "You are a helpful assistant."},
			{"role": "user", "content": "Hello!"}
		],
		"temperature": 0.7,
		"max_tokens": 2000,
		"stream": true
	}`, string(body))
}

func TestChatRequest_EncodeOmitsOptionalFields(t *testing.T) {
	body, err := ChatRequest{
		Model:          "m",
		Messages:       []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Stream:         true,
		ConversationID: "c1",
	}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"stream":true,"conversation_id":"c1"}`, string(body))
}

func TestChatRequest_EncodeRequiresMessages(t *testing.T) {
	_, err := ChatRequest{Model: "m"}.Encode()
	require.Error(t, err)
}

func TestBearerHeader(t *testing.T) {
	h := BearerHeader("sk-1")
	assert.Equal(t, "Bearer sk-1", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))

	assert.Empty(t, BearerHeader("").Get("Authorization"))
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "upstream error: 401 Unauthorized", (&StatusError{Code: http.StatusUnauthorized}).Error())
	assert.Equal(t, "upstream error: 500 boom", (&StatusError{Code: 500, Body: "boom"}).Error())
}

func TestError_Unwrap(t *testing.T) {
	err := &Error{Op: "read", Err: context.Canceled}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "transport: read: context canceled", err.Error())
}

func TestWithBreaker_FailsFast(t *testing.T) {
	var calls int
	failing := Func(func(ctx context.Context, req Request) (Stream, error) {
		calls++
		return nil, &StatusError{Code: http.StatusBadGateway}
	})

	tr := WithBreaker(failing, BreakerSettings{MaxFailures: 2, Timeout: time.Minute})
	for range 2 {
		_, err := tr.Open(context.Background(), Request{})
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}

	_, err := tr.Open(context.Background(), Request{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
}

func TestWithBreaker_IgnoresCancellation(t *testing.T) {
	var calls int
	cancelled := Func(func(ctx context.Context, req Request) (Stream, error) {
		calls++
		return nil, &Error{Op: "post", Err: context.Canceled}
	})

	tr := WithBreaker(cancelled, BreakerSettings{MaxFailures: 1})
	for range 3 {
		_, err := tr.Open(context.Background(), Request{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 3, calls)
}

func TestWithRateLimit(t *testing.T) {
	var calls int
	ok := Func(func(ctx context.Context, req Request) (Stream, error) {
		calls++
		return nil, nil
	})

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	tr := WithRateLimit(ok, limiter)

	_, err := tr.Open(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tr.Open(ctx, Request{Endpoint: "http://example.test"})

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "rate limit", terr.Op)
	assert.Equal(t, 1, calls)
}
