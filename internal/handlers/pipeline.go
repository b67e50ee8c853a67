package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"InstaSetter/internal/config"
	"InstaSetter/internal/llm"
	"InstaSetter/internal/models"
)

// Литеральный плейсхолдер ссылки на запись в ответах LLM.
const bookingPlaceholder = "{BOOKING_URL}"

// processEvent выполняет один проход конвейера для одного события вебхука:
// записать входящее сообщение, сгенерировать ответ, подставить ссылку на
// запись, выждать паузу и доставить. Входящее сообщение записывается
// синхронно - в порядке следования событий в полезной нагрузке, - а генерация
// и доставка уходят в отдельную горутину, чтобы не задерживать подтверждение
// вебхука и обработку соседних событий.
// settings - снимок настроек на момент принятия полезной нагрузки: обновление
// конфигурации через админ-API не должно менять уже идущий прогон.
func (bh *BotHandler) processEvent(settings config.Settings, event messagingEvent) {
	// Граница ошибок на событие: паника при обработке одного события не
	// должна уронить обработку остальных.
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("processEvent: восстановлено после паники: %v", rec)
		}
	}()

	userID := event.Sender.ID
	text := strings.TrimSpace(event.Message.Text)
	if userID == "" || text == "" {
		// Событие без отправителя или текста (вложение, реакция, echo) -
		// не ошибка, просто пропускаем.
		return
	}

	log.Printf("processEvent: входящее сообщение от %s: '%.80s'", userID, text)

	conv := bh.Deps.Store.AppendMessage(userID, "", text, models.SenderUser)

	// Контекст для LLM - вся история, кроме только что записанного сообщения.
	history := conv.Messages[:len(conv.Messages)-1]

	if len(conv.Messages) == 1 {
		bh.Deps.Notifier.NewLead(conv.Username, userID, text)
	}

	go bh.completeAndDeliver(settings, userID, text, history)
}

// completeAndDeliver - отложенная часть конвейера: генерация ответа, пауза и
// доставка. Выполняется в собственной горутине с собственной границей ошибок;
// отмены и ограничения числа одновременных прогонов нет - начатый прогон
// всегда доходит до конца или завершается со своей ошибкой.
func (bh *BotHandler) completeAndDeliver(settings config.Settings, userID, text string, history []models.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("completeAndDeliver: восстановлено после паники для %s: %v", userID, rec)
		}
	}()

	ctx := context.Background()

	reply, err := bh.Deps.LLM.Complete(ctx, llm.Options{
		APIKey:       settings.OpenAIAPIKey,
		Model:        settings.OpenAIModel,
		BaseURL:      settings.OpenAIBaseURL,
		SystemPrompt: settings.SystemPrompt,
	}, text, history)
	if err != nil {
		// Сбой LLM не роняет конвейер: пользователь получает запасной ответ.
		log.Printf("completeAndDeliver: ошибка генерации ответа для %s: %v", userID, err)
		reply = llm.ApologyReply
	}

	if strings.Contains(reply, bookingPlaceholder) && settings.BookingURL != "" {
		reply = strings.ReplaceAll(reply, bookingPlaceholder, settings.BookingURL)
	}

	// Пауза перед доставкой. Мы уже в отдельной горутине, поэтому ожидание
	// не блокирует обработку других событий.
	bh.sleep(bh.replyDelay())

	err = bh.Deps.Messenger.SendText(ctx, settings.InstagramToken, userID, reply)
	if err != nil {
		log.Printf("completeAndDeliver: ошибка доставки ответа для %s: %v", userID, err)
		if !settings.RecordFailedDeliveries {
			return
		}
		// Неудачная доставка все равно попадает в историю: дашборд должен
		// показывать, что именно пыталась отправить система.
	}

	bh.Deps.Store.AppendMessage(userID, "", reply, models.SenderBot)
}

func (bh *BotHandler) sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
