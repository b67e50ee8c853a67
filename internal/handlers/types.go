package handlers

import (
	"context"
	"math/rand"
	"time"

	"InstaSetter/internal/config"
	"InstaSetter/internal/llm"
	"InstaSetter/internal/models"
	"InstaSetter/internal/notify"
	"InstaSetter/internal/session"
)

// Пауза перед отправкой ответа, имитирующая время реакции живого человека.
// Delay before delivering the reply, emulating a human response time.
const (
	minReplyDelay = 2000 * time.Millisecond
	maxReplyDelay = 5000 * time.Millisecond
)

// Completer генерирует ответ ассистента по текущему сообщению и истории
// диалога (история не включает текущее сообщение).
type Completer interface {
	Complete(ctx context.Context, opts llm.Options, current string, history []models.Message) (string, error)
}

// Messenger доставляет текст пользователю Instagram.
type Messenger interface {
	SendText(ctx context.Context, accessToken, recipientID, text string) error
}

// HandlerDependencies содержит все зависимости, необходимые для обработчиков.
// HandlerDependencies contains all dependencies required for handlers.
type HandlerDependencies struct {
	Config    *config.Config
	Store     session.ConversationStore
	LLM       Completer
	Messenger Messenger
	Notifier  *notify.Notifier // nil - уведомления владельцу выключены / nil - owner alerts disabled
}

// BotHandler инкапсулирует обработку вебхука и конвейер ответа.
// BotHandler encapsulates webhook handling and the reply pipeline.
type BotHandler struct {
	Deps HandlerDependencies

	// replyDelay переопределяется в тестах, чтобы не ждать реальную паузу.
	replyDelay func() time.Duration
}

// NewBotHandler создает новый экземпляр BotHandler.
// NewBotHandler creates a new instance of BotHandler.
func NewBotHandler(deps HandlerDependencies) *BotHandler {
	if deps.Config == nil || deps.Store == nil || deps.LLM == nil || deps.Messenger == nil {
		// Это критическая ошибка конфигурации, приложение не сможет работать корректно.
		// This is a critical configuration error; the application cannot work correctly.
		panic("Не все зависимости для BotHandler были предоставлены.")
	}
	return &BotHandler{
		Deps:       deps,
		replyDelay: randomReplyDelay,
	}
}

// randomReplyDelay возвращает равномерно распределенную паузу из [min, max].
func randomReplyDelay() time.Duration {
	spread := int64(maxReplyDelay - minReplyDelay)
	return minReplyDelay + time.Duration(rand.Int63n(spread+1))
}
