package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"InstaSetter/internal/config"
	"InstaSetter/internal/llm"
	"InstaSetter/internal/models"
	"InstaSetter/internal/session"
)

// --- Фейковые зависимости / Fake dependencies ---

type completeCall struct {
	opts    llm.Options
	current string
	history []models.Message
}

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []completeCall
}

func (f *fakeCompleter) Complete(_ context.Context, opts llm.Options, current string, history []models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, completeCall{opts: opts, current: current, history: history})
	return f.reply, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) call(i int) completeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type delivered struct {
	token     string
	recipient string
	text      string
}

type fakeMessenger struct {
	err  error
	sent chan delivered
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(chan delivered, 16)}
}

func (f *fakeMessenger) SendText(_ context.Context, accessToken, recipientID, text string) error {
	f.sent <- delivered{token: accessToken, recipient: recipientID, text: text}
	return f.err
}

func (f *fakeMessenger) waitForDelivery(t *testing.T) delivered {
	t.Helper()
	select {
	case d := <-f.sent:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("доставка не произошла за отведенное время")
		return delivered{}
	}
}

// --- Вспомогательные функции / Helpers ---

const (
	testAppSecret   = "topsecret"
	testVerifyToken = "verify-me"
)

func newTestHandler(t *testing.T) (*BotHandler, *session.Manager, *fakeCompleter, *fakeMessenger) {
	t.Helper()
	t.Setenv("IG_APP_SECRET", testAppSecret)
	t.Setenv("IG_VERIFY_TOKEN", testVerifyToken)
	t.Setenv("INSTAGRAM_TOKEN", "ig-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BOOKING_URL", "https://cal.example/me")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	store := session.NewManager()
	completer := &fakeCompleter{reply: "Здравствуйте! Чем могу помочь?"}
	messenger := newFakeMessenger()

	bh := NewBotHandler(HandlerDependencies{
		Config:    cfg,
		Store:     store,
		LLM:       completer,
		Messenger: messenger,
	})
	bh.replyDelay = func() time.Duration { return 0 } // в тестах не ждем паузу

	return bh, store, completer, messenger
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(bh *BotHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("x-hub-signature-256", signature)
	}
	rec := httptest.NewRecorder()
	bh.HandleWebhookEvent(rec, req)
	return rec
}

func singleMessagePayload() []byte {
	return []byte(`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1000000001"},"message":{"text":"Hi, I need help"}}]}]}`)
}

// --- GET /webhook: верификация подписки ---

func TestHandleWebhookVerify(t *testing.T) {
	bh, _, _, _ := newTestHandler(t)

	cases := []struct {
		name       string
		query      string
		wantCode   int
		wantBody   string
		exactMatch bool
	}{
		{"совпавший токен", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=CHALLENGE_42", http.StatusOK, "CHALLENGE_42", true},
		{"неверный токен", "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=x", http.StatusForbidden, "", false},
		{"неверный mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=x", http.StatusForbidden, "", false},
		{"нет mode", "hub.verify_token=" + testVerifyToken, http.StatusBadRequest, "", false},
		{"нет токена", "hub.mode=subscribe&hub.challenge=x", http.StatusBadRequest, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil)
			rec := httptest.NewRecorder()
			bh.HandleWebhookVerify(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			if tc.exactMatch {
				// Тело должно быть ровно challenge, без обертки.
				require.Equal(t, tc.wantBody, rec.Body.String())
			}
		})
	}
}

// --- POST /webhook: подпись ---

func TestHandleWebhookEvent_RejectsBadSignature(t *testing.T) {
	bh, store, completer, _ := newTestHandler(t)
	body := singleMessagePayload()

	cases := []struct {
		name      string
		signature string
	}{
		{"без подписи", ""},
		{"подпись на другом секрете", sign(body, "wrong-secret")},
		{"искаженная подпись", "sha256=deadbeef"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postWebhook(bh, body, tc.signature)
			require.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	// Отклоненные запросы не должны оставлять следов в реестре.
	require.Empty(t, store.ListConversations())
	require.Zero(t, completer.callCount())
}

func TestHandleWebhookEvent_EmptySecretFailsClosed(t *testing.T) {
	bh, _, _, _ := newTestHandler(t)
	bh.Deps.Config.Apply(config.SettingsPatch{AppSecret: strptr("")})

	body := singleMessagePayload()
	rec := postWebhook(bh, body, sign(body, ""))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

// --- POST /webhook: сквозной сценарий ---

func TestHandleWebhookEvent_EndToEnd(t *testing.T) {
	bh, store, completer, messenger := newTestHandler(t)
	completer.reply = "Записаться можно здесь: {BOOKING_URL}"

	body := singleMessagePayload()
	rec := postWebhook(bh, body, sign(body, testAppSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "EVENT_RECEIVED", rec.Body.String())

	// Входящее сообщение записано синхронно, до доставки ответа.
	list := store.ListConversations()
	require.Len(t, list, 1)
	require.Equal(t, "1000000001", list[0].UserID)
	require.Equal(t, "Hi, I need help", list[0].Messages[0].Text)
	require.Equal(t, models.SenderUser, list[0].Messages[0].Sender)

	// Доставка: плейсхолдер заменен на настроенную ссылку.
	d := messenger.waitForDelivery(t)
	require.Equal(t, "ig-token", d.token)
	require.Equal(t, "1000000001", d.recipient)
	require.Equal(t, "Записаться можно здесь: https://cal.example/me", d.text)

	// Первое обращение: история для LLM пуста.
	require.Equal(t, 1, completer.callCount())
	call := completer.call(0)
	require.Equal(t, "Hi, I need help", call.current)
	require.Empty(t, call.history)
	require.Equal(t, "sk-test", call.opts.APIKey)

	// Ответ бота записывается после доставки.
	require.Eventually(t, func() bool {
		conv := store.ListConversations()[0]
		return len(conv.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	conv := store.ListConversations()[0]
	require.Equal(t, models.SenderBot, conv.Messages[1].Sender)
	require.Equal(t, "Записаться можно здесь: https://cal.example/me", conv.Messages[1].Text)
	require.Equal(t, conv.Messages[1].Timestamp, conv.LastActivity)
}

func TestHandleWebhookEvent_NoPlaceholderUnchanged(t *testing.T) {
	bh, _, completer, messenger := newTestHandler(t)
	completer.reply = "Просто ответ без ссылки"

	body := singleMessagePayload()
	postWebhook(bh, body, sign(body, testAppSecret))

	d := messenger.waitForDelivery(t)
	require.Equal(t, "Просто ответ без ссылки", d.text)
}

func TestHandleWebhookEvent_HistoryExcludesCurrent(t *testing.T) {
	bh, store, completer, messenger := newTestHandler(t)

	// Первый цикл: вопрос - ответ.
	body := singleMessagePayload()
	postWebhook(bh, body, sign(body, testAppSecret))
	messenger.waitForDelivery(t)
	require.Eventually(t, func() bool {
		return len(store.ListConversations()[0].Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Второй вопрос того же пользователя.
	body2 := []byte(`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1000000001"},"message":{"text":"А сколько стоит?"}}]}]}`)
	postWebhook(bh, body2, sign(body2, testAppSecret))
	messenger.waitForDelivery(t)

	require.Equal(t, 2, completer.callCount())
	call := completer.call(1)
	require.Equal(t, "А сколько стоит?", call.current)
	// История - ровно предыдущая пара, без текущего сообщения.
	require.Len(t, call.history, 2)
	require.Equal(t, models.SenderUser, call.history[0].Sender)
	require.Equal(t, models.SenderBot, call.history[1].Sender)
}

func TestHandleWebhookEvent_MalformedEventsAreNoOps(t *testing.T) {
	bh, store, completer, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"нет текста", `{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1000000001"},"message":{}}]}]}`},
		{"нет отправителя", `{"object":"instagram","entry":[{"messaging":[{"message":{"text":"hi"}}]}]}`},
		{"текст из пробелов", `{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"   "}}]}]}`},
		{"чужой object", `{"object":"page","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]}`},
		{"искаженный JSON", `{"object":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(tc.body)
			rec := postWebhook(bh, body, sign(body, testAppSecret))
			// Пропуск события - не ошибка: платформа получает 200.
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}

	require.Empty(t, store.ListConversations())
	require.Zero(t, completer.callCount())
}

func TestHandleWebhookEvent_SiblingEntriesIndependent(t *testing.T) {
	bh, store, _, messenger := newTestHandler(t)

	// Одно событие без текста, два валидных от разных пользователей.
	body := []byte(`{"object":"instagram","entry":[` +
		`{"messaging":[{"sender":{"id":"userA"},"message":{}}]},` +
		`{"messaging":[{"sender":{"id":"userB"},"message":{"text":"из entry B"}}]},` +
		`{"messaging":[{"sender":{"id":"userC"},"message":{"text":"из entry C"}}]}]}`)
	rec := postWebhook(bh, body, sign(body, testAppSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		d := messenger.waitForDelivery(t)
		got[d.recipient] = d.text
	}
	require.Len(t, got, 2)
	require.Contains(t, got, "userB")
	require.Contains(t, got, "userC")
	require.Len(t, store.ListConversations(), 2)
}

func TestHandleWebhookEvent_LLMFailureDeliversApology(t *testing.T) {
	bh, store, completer, messenger := newTestHandler(t)
	completer.err = errors.New("upstream timeout")

	body := singleMessagePayload()
	rec := postWebhook(bh, body, sign(body, testAppSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	d := messenger.waitForDelivery(t)
	require.Equal(t, llm.ApologyReply, d.text)

	require.Eventually(t, func() bool {
		return len(store.ListConversations()[0].Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, llm.ApologyReply, store.ListConversations()[0].Messages[1].Text)
}

func TestHandleWebhookEvent_DeliveryFailureStillRecorded(t *testing.T) {
	bh, store, _, messenger := newTestHandler(t)
	messenger.err = errors.New("send failed: 401")

	body := singleMessagePayload()
	postWebhook(bh, body, sign(body, testAppSecret))
	messenger.waitForDelivery(t)

	// Политика по умолчанию: неудачная доставка все равно попадает в историю.
	require.Eventually(t, func() bool {
		return len(store.ListConversations()[0].Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebhookEvent_DeliveryFailureNotRecordedWhenDisabled(t *testing.T) {
	bh, store, _, messenger := newTestHandler(t)
	bh.Deps.Config.Apply(config.SettingsPatch{RecordFailedDeliveries: boolptr(false)})
	messenger.err = errors.New("send failed: 401")

	body := singleMessagePayload()
	postWebhook(bh, body, sign(body, testAppSecret))
	messenger.waitForDelivery(t)

	// Даем отложенной части конвейера завершиться.
	time.Sleep(200 * time.Millisecond)
	require.Len(t, store.ListConversations()[0].Messages, 1)
}

func TestRandomReplyDelay_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomReplyDelay()
		require.GreaterOrEqual(t, d, minReplyDelay)
		require.LessOrEqual(t, d, maxReplyDelay)
	}
}

func strptr(s string) *string { return &s }

func boolptr(b bool) *bool { return &b }
