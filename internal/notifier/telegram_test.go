package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
)

func TestTelegram_SendText(t *testing.T) {
	var gotPath string
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{
		BotToken: "token", ChatID: "-100", APIBaseURL: srv.URL, RetryMax: 1,
	})
	require.NoError(t, tg.SendText("*hello*"))
	assert.Equal(t, "/bottoken/sendMessage", gotPath)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "*hello*", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestTelegram_RetriesOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{
		BotToken: "token", ChatID: "1", APIBaseURL: srv.URL, RetryMax: 3,
	})
	require.NoError(t, tg.SendText("hi"))
	assert.Equal(t, 2, calls)
}

func TestTelegram_ExhaustedRetriesSurfaceLastError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{
		BotToken: "token", ChatID: "1", APIBaseURL: srv.URL, RetryMax: 2,
	})
	err := tg.SendText("hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
	assert.Equal(t, 2, calls)
}

func TestTelegram_RequiresCredentials(t *testing.T) {
	tg := NewTelegram(config.TelegramConfig{})
	assert.Error(t, tg.SendText("hi"))
}
