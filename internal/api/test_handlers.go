package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"InstaSetter/internal/config"
	"InstaSetter/internal/llm"
)

// testConnectionRequest - запрос живой проверки соединения. Конфигурация в
// теле - кандидат: дашборд проверяет еще не сохраненные значения, поэтому
// патч накладывается на снимок текущих настроек, не трогая их.
type testConnectionRequest struct {
	Service string               `json:"service"`
	Config  config.SettingsPatch `json:"config"`
}

// httpStatusCoder реализуется ошибками апстримов, несущими код статуса.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// TestConnection выполняет живую проверку одного из внешних сервисов с
// настройками-кандидатами и возвращает человекочитаемый результат с учетом
// конкретного кода статуса.
func (h *apiHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	candidate := h.deps.Config.Snapshot().Merged(req.Config)
	log.Printf("TestConnection: живая проверка сервиса '%s'", req.Service)

	switch req.Service {
	case "instagram":
		h.testInstagram(w, r, candidate)
	case "llm":
		h.testLLM(w, r, candidate)
	case "booking":
		h.testBooking(w, candidate)
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown service %q: expected instagram, llm or booking", req.Service))
	}
}

func (h *apiHandler) testInstagram(w http.ResponseWriter, r *http.Request, candidate config.Settings) {
	if candidate.InstagramToken == "" {
		writeJSONError(w, http.StatusBadRequest, "Instagram access token is not configured")
		return
	}

	profile, err := h.deps.Instagram.PageIdentity(r.Context(), candidate.InstagramToken)
	if err != nil {
		switch status, ok := upstreamStatusCode(err); {
		case ok && status == http.StatusUnauthorized:
			writeJSONError(w, http.StatusBadGateway, "Instagram access token is invalid or expired")
		case ok && status == http.StatusForbidden:
			writeJSONError(w, http.StatusBadGateway, "Instagram token is missing required messaging permissions")
		case ok:
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Instagram API returned status %d", status))
		default:
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Instagram API is unreachable: %v", err))
		}
		return
	}
	writeJSONSuccess(w, fmt.Sprintf("Connected to Instagram account @%s", profile.Username), profile)
}

func (h *apiHandler) testLLM(w http.ResponseWriter, r *http.Request, candidate config.Settings) {
	if candidate.OpenAIAPIKey == "" {
		writeJSONError(w, http.StatusBadRequest, "LLM API key is not configured")
		return
	}

	err := h.deps.LLM.Probe(r.Context(), llm.Options{
		APIKey:  candidate.OpenAIAPIKey,
		Model:   candidate.OpenAIModel,
		BaseURL: candidate.OpenAIBaseURL,
	})
	if err != nil {
		switch status, ok := upstreamStatusCode(err); {
		case ok && status == http.StatusUnauthorized:
			writeJSONError(w, http.StatusBadGateway, "LLM API key is invalid")
		case ok && status == http.StatusNotFound:
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Model %q was not found at this endpoint", candidate.OpenAIModel))
		case ok && status == http.StatusTooManyRequests:
			writeJSONError(w, http.StatusBadGateway, "LLM provider is rate limiting this key")
		case ok:
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("LLM endpoint returned status %d", status))
		default:
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("LLM endpoint is unreachable: %v", err))
		}
		return
	}
	writeJSONSuccess(w, fmt.Sprintf("LLM endpoint responded, model %q is available", candidate.OpenAIModel), nil)
}

func (h *apiHandler) testBooking(w http.ResponseWriter, candidate config.Settings) {
	if candidate.BookingURL == "" {
		writeJSONError(w, http.StatusBadRequest, "Booking URL is not configured")
		return
	}
	if _, err := url.ParseRequestURI(candidate.BookingURL); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Booking URL is not a valid URL")
		return
	}

	resp, err := h.deps.HTTPClient.Head(candidate.BookingURL)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Booking page is unreachable: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Booking page returned status %d", resp.StatusCode))
		return
	}
	writeJSONSuccess(w, fmt.Sprintf("Booking page responded with status %d", resp.StatusCode), nil)
}

func upstreamStatusCode(err error) (int, bool) {
	var coder httpStatusCoder
	if !errors.As(err, &coder) {
		return 0, false
	}
	return coder.HTTPStatusCode(), true
}
