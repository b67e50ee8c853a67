package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// Notifier отправляет владельцу уведомления о новых лидах в Telegram.
// Nil-экземпляр безопасен: все методы превращаются в no-op, поэтому
// уведомления можно просто не настраивать.
// Notifier sends new-lead alerts to the owner via Telegram.
// A nil instance is safe: every method becomes a no-op, so alerts can simply
// be left unconfigured.
type Notifier struct {
	api         *tgbotapi.BotAPI
	ownerChatID int64
}

// NewNotifier инициализирует Telegram-бота для уведомлений. Если токен или
// chatID владельца не заданы, возвращает (nil, nil) - уведомления выключены.
func NewNotifier(token string, ownerChatID int64) (*Notifier, error) {
	if token == "" || ownerChatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram Bot API: %w", err)
	}

	log.Printf("Уведомления владельцу включены: бот @%s, chatID %d", api.Self.UserName, ownerChatID)
	return &Notifier{api: api, ownerChatID: ownerChatID}, nil
}

// NewLead уведомляет владельца о первом сообщении нового пользователя.
// Ошибка отправки логируется и никогда не влияет на конвейер ответа.
func (n *Notifier) NewLead(username, userID, text string) {
	if n == nil || n.api == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.ownerChatID, fmt.Sprintf(
		"🔥 Новый лид в Instagram: %s (ID %s)\n\nПервое сообщение:\n%s",
		username, userID, text,
	))
	if _, err := n.api.Send(msg); err != nil {
		log.Printf("Notifier.NewLead: ошибка отправки уведомления владельцу: %v", err)
	}
}
