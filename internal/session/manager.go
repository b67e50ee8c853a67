package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"InstaSetter/internal/models"
)

// ConversationStore - абстракция над реестром диалогов. Конвейер ответа и
// админ-API работают только через этот интерфейс, чтобы хранилище можно было
// заменить без изменения обработчиков.
// ConversationStore - abstraction over the conversation registry. The reply
// pipeline and the admin API work only through this interface so the backend
// can be swapped without touching the handlers.
type ConversationStore interface {
	// AppendMessage находит или создает диалог для userID, добавляет в него
	// сообщение и возвращает копию обновленного диалога.
	AppendMessage(userID, usernameHint, text, sender string) models.Conversation
	// ListConversations возвращает все диалоги, отсортированные по времени
	// последней активности (самые свежие - первыми).
	ListConversations() []models.Conversation
}

// Manager хранит диалоги в памяти процесса. Вся история теряется при
// перезапуске - это осознанное ограничение текущей версии. Размер реестра
// ничем не ограничен: диалоги никогда не удаляются и не вытесняются.
// Manager keeps conversations in process memory. All history is lost on
// restart - a deliberate limitation of the current version. The registry is
// unbounded: conversations are never deleted or evicted.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation // Ключ: userID / Key: userID
	order         []string                        // userID в порядке создания, для детерминированной сортировки / userIDs in creation order, for deterministic sorting
	now           func() time.Time
}

// NewManager создает и возвращает новый экземпляр Manager.
// NewManager creates and returns a new instance of Manager.
func NewManager() *Manager {
	return &Manager{
		conversations: make(map[string]*models.Conversation),
		now:           time.Now,
	}
}

// AppendMessage добавляет сообщение в диалог пользователя, создавая диалог при
// первом обращении. Поиск и создание выполняются под одной блокировкой, чтобы
// конкурентные события одного пользователя не породили два диалога.
// Если usernameHint пуст, имя выводится из последних шести символов userID.
func (m *Manager) AppendMessage(userID, usernameHint, text, sender string) models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()

	conv, exists := m.conversations[userID]
	if !exists {
		conv = &models.Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Username:  usernameOrDefault(usernameHint, userID),
			Status:    models.StatusActive,
			CreatedAt: ts,
		}
		m.conversations[userID] = conv
		m.order = append(m.order, userID)
	}

	conv.Messages = append(conv.Messages, models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: ts,
	})
	conv.LastActivity = ts

	return copyConversation(conv)
}

// ListConversations возвращает копии всех диалогов, самые активные - первыми.
// При равном времени активности порядок определяется порядком создания.
func (m *Manager) ListConversations() []models.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]models.Conversation, 0, len(m.order))
	for _, userID := range m.order {
		list = append(list, copyConversation(m.conversations[userID]))
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivity.After(list[j].LastActivity)
	})
	return list
}

// copyConversation возвращает копию диалога с собственным слайсом сообщений,
// чтобы вызывающие не могли изменить внутреннее состояние реестра.
func copyConversation(conv *models.Conversation) models.Conversation {
	cp := *conv
	cp.Messages = make([]models.Message, len(conv.Messages))
	copy(cp.Messages, conv.Messages)
	return cp
}

func usernameOrDefault(hint, userID string) string {
	if hint != "" {
		return hint
	}
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "user_" + suffix
}
