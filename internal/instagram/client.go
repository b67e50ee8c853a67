package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API-адрес Instagram Graph API.
const defaultGraphBaseURL = "https://graph.instagram.com/v21.0"

const requestTimeout = 15 * time.Second

// sendRequest - тело запроса отправки текстового сообщения.
type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

// PageProfile - идентификация аккаунта, к которому привязан токен доступа.
// Возвращается пробой соединения для эндпоинта test-connection.
type PageProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// StatusError описывает не-2xx ответ Graph API вместе с кодом статуса.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("instagram: Graph API вернул статус %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode возвращает код статуса апстрима.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client - клиент отправки сообщений через Instagram Graph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option настраивает Client при создании.
type Option func(*Client)

// WithBaseURL подменяет адрес Graph API (используется в тестах).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient создает новый клиент Graph API.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultGraphBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText отправляет текстовый ответ пользователю Instagram. Ошибка
// возвращается вызывающему: повторных попыток клиент не делает, решение
// остается за конвейером.
func (c *Client) SendText(ctx context.Context, accessToken, recipientID, text string) error {
	if accessToken == "" {
		return fmt.Errorf("instagram: токен доступа не задан")
	}

	payload, err := json.Marshal(sendRequest{
		Recipient: recipient{ID: recipientID},
		Message:   message{Text: text},
	})
	if err != nil {
		return fmt.Errorf("instagram: ошибка подготовки запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/me/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("instagram: ошибка создания HTTP-запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instagram: ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("Instagram Graph API вернул ошибку отправки: статус %d, тело: %s", resp.StatusCode, string(buf))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(buf)}
	}
	return nil
}

// PageIdentity запрашивает идентификацию аккаунта по токену доступа.
// Используется эндпоинтом test-connection как живая проверка токена.
func (c *Client) PageIdentity(ctx context.Context, accessToken string) (PageProfile, error) {
	var profile PageProfile
	if accessToken == "" {
		return profile, fmt.Errorf("instagram: токен доступа не задан")
	}

	endpoint := c.baseURL + "/me?fields=id,username&access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return profile, fmt.Errorf("instagram: ошибка создания HTTP-запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return profile, fmt.Errorf("instagram: ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return profile, &StatusError{StatusCode: resp.StatusCode, Body: string(buf)}
	}

	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return profile, fmt.Errorf("instagram: ошибка разбора ответа: %w", err)
	}
	return profile, nil
}
