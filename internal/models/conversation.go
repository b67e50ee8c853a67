package models

import "time"

// Отправитель сообщения. / Message sender.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Статус диалога. В текущей версии диалоги не закрываются,
// поэтому поддерживается только одно значение.
const StatusActive = "active"

// Message - одно сообщение внутри диалога.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"` // SenderUser или SenderBot
	Timestamp time.Time `json:"timestamp"`
}

// Conversation - история переписки с одним пользователем Instagram.
// Сообщения хранятся в порядке добавления, который совпадает с хронологическим.
// Conversation - message history with a single Instagram user.
// Messages are stored in append order, which matches chronological order.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"` // ID пользователя на стороне Instagram, уникальный ключ
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}
