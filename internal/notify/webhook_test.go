package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

var fastRetry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := notification.Channel{Type: TypeWebhook, Payload: map[string]any{
		"url": srv.URL, "headers": map[string]any{"X-Token": "secret"},
	}}
	err := NewWebhook(time.Second, fastRetry).Send(context.Background(), ch, notification.Message{Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, map[string]string{"title": "t", "body": "b"}, got)
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := notification.Channel{Type: TypeWebhook, Payload: map[string]any{"url": srv.URL}}
	err := NewWebhook(time.Second, fastRetry).Send(context.Background(), ch, notification.Message{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhook_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := notification.Channel{Type: TypeWebhook, Payload: map[string]any{"url": srv.URL}}
	err := NewWebhook(time.Second, fastRetry).Send(context.Background(), ch, notification.Message{})
	require.Error(t, err)
	assert.EqualValues(t, 4, calls.Load())
}

func TestSlack_PostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewSlack(time.Second, fastRetry)
	assert.Equal(t, TypeSlack, s.Type())
	ch := notification.Channel{Type: TypeSlack, Payload: map[string]any{"webhookUrl": srv.URL}}
	require.NoError(t, s.Send(context.Background(), ch, notification.Message{Title: "t", Body: "[api] 🔴 Down"}))
	assert.Equal(t, map[string]string{"text": "[api] 🔴 Down"}, got)
}

func TestWebhook_MissingURL(t *testing.T) {
	err := NewWebhook(time.Second, fastRetry).Send(context.Background(), notification.Channel{Type: TypeWebhook}, notification.Message{})
	require.Error(t, err)
}
