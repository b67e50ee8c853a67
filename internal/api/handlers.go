package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"InstaSetter/internal/config"
)

// jsonResponse - вспомогательная структура для стандартного ответа API.
type jsonResponse struct {
	Status  string      `json:"status"` // "success" или "error"
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Вспомогательные функции для JSON-ответов ---

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonResponse{Status: "error", Message: message})
}

func writeJSONSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(jsonResponse{Status: "success", Message: message, Data: data})
}

// GetHealth - проверка живости процесса. Всегда 200, пока процесс работает.
func (h *apiHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statusReport - признаки подключенности сервисов. Это чистая функция от
// конфигурации: живых запросов статус не делает (для них есть test-connection).
type statusReport struct {
	Instagram  bool `json:"instagram"`
	LLM        bool `json:"llm"`
	BookingURL bool `json:"bookingUrl"`
}

// GetStatus возвращает признаки подключенности для дашборда.
func (h *apiHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	settings := h.deps.Config.Snapshot()
	writeJSONSuccess(w, "Status retrieved successfully", statusReport{
		Instagram:  settings.InstagramToken != "",
		LLM:        settings.OpenAIAPIKey != "",
		BookingURL: settings.BookingURL != "",
	})
}

// GetConversations возвращает все диалоги, самые активные - первыми.
func (h *apiHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	writeJSONSuccess(w, "Conversations retrieved successfully", h.deps.Store.ListConversations())
}

// UpdateConfig применяет частичное обновление настроек из тела запроса.
// Отсутствующие поля сохраняют прежние значения; неизвестные ключи
// игнорируются. Замена происходит атомарно, под блокировкой конфигурации.
func (h *apiHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	applied := h.deps.Config.Apply(patch)
	if len(applied) == 0 {
		writeJSONSuccess(w, "No recognized settings in request, nothing updated", nil)
		return
	}
	writeJSONSuccess(w, fmt.Sprintf("Updated settings: %s", strings.Join(applied, ", ")), nil)
}
