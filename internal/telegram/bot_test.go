package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBot(t *testing.T, mux *http.ServeMux) *TelegramBot {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewTelegramBot(Config{BotToken: "tok", ChatID: "42", APIBase: srv.URL + "/"})
}

func TestSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "42", payload["chat_id"])
		assert.Equal(t, "hello", payload["text"])
		assert.Equal(t, "HTML", payload["parse_mode"])
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})
	bot := newTestBot(t, mux)
	require.NoError(t, bot.SendMessage(context.Background(), "hello"))
}

func TestSendPhoto(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/sendPhoto", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))
		assert.Equal(t, "cap", r.FormValue("caption"))
		f, _, err := r.FormFile("photo")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, []byte{0xff, 0xd8}, data)
		}
		w.Write([]byte(`{"ok":true}`))
	})
	bot := newTestBot(t, mux)
	require.NoError(t, bot.SendPhoto(context.Background(), []byte{0xff, 0xd8}, "cap"))
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	})
	bot := newTestBot(t, mux)
	err := bot.SendMessage(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestGetBotInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/getMe", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"id":7,"username":"redlight_bot"}}`))
	})
	bot := newTestBot(t, mux)
	info, err := bot.GetBotInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &BotInfo{ID: 7, Username: "redlight_bot"}, info)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.NoError(t, ValidateConfig(Config{BotToken: "t", ChatID: "c"}))
	assert.Error(t, ValidateConfig(Config{BotToken: "t"}))
	assert.Error(t, ValidateConfig(Config{ChatID: "c"}))
	assert.Error(t, ValidateConfig(Config{CooldownSeconds: -1}))
	assert.False(t, Config{BotToken: "t"}.Enabled())
}
