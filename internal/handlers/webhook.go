package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"InstaSetter/internal/utils"
)

// Структуры полезной нагрузки вебхука Instagram. Разбираются только поля,
// нужные конвейеру: отправитель и текст.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// HandleWebhookVerify обрабатывает GET /webhook - верификацию подписки,
// которую платформа выполняет при настройке вебхука.
// Отвечает 200 с телом challenge, только если mode == "subscribe" и токен
// совпал; 403 при несовпадении; 400 если mode или токен отсутствуют.
func (bh *BotHandler) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "Missing hub.mode or hub.verify_token", http.StatusBadRequest)
		return
	}

	settings := bh.Deps.Config.Snapshot()
	if mode != "subscribe" || token != settings.VerifyToken {
		log.Printf("HandleWebhookVerify: верификация отклонена: mode='%s', токен не совпал.", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	log.Println("HandleWebhookVerify: вебхук успешно верифицирован.")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// HandleWebhookEvent обрабатывает POST /webhook - доставку событий.
// Порядок строгий: сначала проверка подписи по сырым байтам тела (403 при
// отказе, без какой-либо обработки), затем разбор и обработка событий.
// После принятия полезной нагрузки ответ всегда 200, чтобы платформа не
// ретраила доставку: ошибки отдельных событий обрабатываются внутри.
func (bh *BotHandler) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("HandleWebhookEvent: ошибка чтения тела запроса: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	settings := bh.Deps.Config.Snapshot()

	signature := r.Header.Get("x-hub-signature-256")
	if !utils.VerifyWebhookSignature(body, signature, settings.AppSecret) {
		log.Println("HandleWebhookEvent: подпись вебхука не прошла проверку, запрос отклонен.")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Искаженное тело с валидной подписью - пропускаем молча, это не сбой.
		log.Printf("HandleWebhookEvent: не удалось разобрать полезную нагрузку: %v", err)
	} else if payload.Object == "instagram" {
		// События обрабатываются независимо: сбой одного не должен мешать
		// обработке остальных из той же полезной нагрузки.
		for _, entry := range payload.Entry {
			for _, event := range entry.Messaging {
				bh.processEvent(settings, event)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}
