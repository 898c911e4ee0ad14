package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBot_SendMessage_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottest-token/sendMessage", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, float64(7), body["chat_id"])
		require.Equal(t, "MarkdownV2", body["parse_mode"])
		require.Equal(t, true, body["disable_web_page_preview"])

		_, _ = w.Write([]byte(`{"ok": true, "result": {"message_id": 42}}`))
	}))
	defer srv.Close()

	b := NewBot("test-token", srv.URL)
	id, err := b.SendMessage(context.Background(), 7, "hello", ButtonText, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestBot_SendMessage_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok": false, "error_code": 429, "description": "Too Many Requests", "parameters": {"retry_after": 17}}`))
	}))
	defer srv.Close()

	b := NewBot("test-token", srv.URL)
	_, err := b.SendMessage(context.Background(), 7, "hello", ButtonText, "https://example.com")

	var ra *RetryAfterError
	require.ErrorAs(t, err, &ra)
	require.Equal(t, 17*time.Second, ra.After)
}

func TestBot_SendMessage_OtherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok": false, "error_code": 400, "description": "can't parse entities"}`))
	}))
	defer srv.Close()

	b := NewBot("test-token", srv.URL)
	_, err := b.SendMessage(context.Background(), 7, "*broken", ButtonText, "https://example.com")
	require.Error(t, err)
	var ra *RetryAfterError
	require.False(t, errors.As(err, &ra))
}
