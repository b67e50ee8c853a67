package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"InstaSetter/internal/config"
	"InstaSetter/internal/instagram"
	"InstaSetter/internal/llm"
	"InstaSetter/internal/session"
)

// IdentityProber проверяет токен Instagram живым запросом идентификации аккаунта.
type IdentityProber interface {
	PageIdentity(ctx context.Context, accessToken string) (instagram.PageProfile, error)
}

// CompletionProber проверяет доступность LLM тривиальным запросом.
type CompletionProber interface {
	Probe(ctx context.Context, opts llm.Options) error
}

// ApiDependencies содержит зависимости для обработчиков API.
// ApiDependencies contains dependencies for the API handlers.
type ApiDependencies struct {
	Config    *config.Config
	Store     session.ConversationStore
	Instagram IdentityProber
	LLM       CompletionProber

	// HTTPClient используется для HEAD-проверки страницы записи.
	// Если nil, создается клиент с таймаутом 10 секунд.
	HTTPClient *http.Client
}

// apiHandler связывает зависимости с обработчиками маршрутов.
type apiHandler struct {
	deps ApiDependencies
}

// SetupRoutes настраивает все маршруты админ-API для дашборда.
// SetupRoutes configures all admin API routes for the dashboard.
func SetupRoutes(r chi.Router, deps ApiDependencies) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	h := &apiHandler{deps: deps}

	r.Get("/api/health", h.GetHealth)
	r.Get("/api/status", h.GetStatus)
	r.Get("/api/conversations", h.GetConversations)
	r.Get("/api/conversations/export", h.ExportConversations)
	r.Get("/api/booking-qr", h.GetBookingQR)
	r.Post("/api/config", h.UpdateConfig)
	r.Post("/api/test-connection", h.TestConnection)
}
