package config

import (
	"log"
	"os"
	"strconv"
	"sync"
)

// Значения по умолчанию для LLM-провайдера.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// Settings - изменяемая часть конфигурации. Дашборд может переписать эти поля
// через админ-API в любой момент, поэтому обработчики никогда не читают их
// напрямую: в начале каждого прогона конвейера берется снимок через Snapshot.
// Settings - the mutable part of the configuration. The dashboard can
// overwrite these fields via the admin API at any time, so handlers never
// read them directly: each pipeline run takes a snapshot via Snapshot.
type Settings struct {
	InstagramToken         string `json:"instagramToken"`
	VerifyToken            string `json:"verifyToken"`
	AppSecret              string `json:"appSecret"`
	OpenAIAPIKey           string `json:"openaiApiKey"`
	OpenAIModel            string `json:"openaiModel"`
	OpenAIBaseURL          string `json:"openaiBaseUrl"`
	BookingURL             string `json:"bookingUrl"`
	SystemPrompt           string `json:"systemPrompt"`
	RecordFailedDeliveries bool   `json:"recordFailedDeliveries"`
}

// SettingsPatch - частичное обновление настроек от дашборда. nil-поля не
// затрагиваются (неглубокое слияние). Неизвестные JSON-ключи игнорируются.
type SettingsPatch struct {
	InstagramToken         *string `json:"instagramToken"`
	VerifyToken            *string `json:"verifyToken"`
	AppSecret              *string `json:"appSecret"`
	OpenAIAPIKey           *string `json:"openaiApiKey"`
	OpenAIModel            *string `json:"openaiModel"`
	OpenAIBaseURL          *string `json:"openaiBaseUrl"`
	BookingURL             *string `json:"bookingUrl"`
	SystemPrompt           *string `json:"systemPrompt"`
	RecordFailedDeliveries *bool   `json:"recordFailedDeliveries"`
}

// Merged возвращает копию настроек с примененным патчем, не изменяя исходные.
// Используется эндпоинтом проверки соединения для сборки настроек-кандидатов.
func (s Settings) Merged(p SettingsPatch) Settings {
	merged := s
	if p.InstagramToken != nil {
		merged.InstagramToken = *p.InstagramToken
	}
	if p.VerifyToken != nil {
		merged.VerifyToken = *p.VerifyToken
	}
	if p.AppSecret != nil {
		merged.AppSecret = *p.AppSecret
	}
	if p.OpenAIAPIKey != nil {
		merged.OpenAIAPIKey = *p.OpenAIAPIKey
	}
	if p.OpenAIModel != nil {
		merged.OpenAIModel = *p.OpenAIModel
	}
	if p.OpenAIBaseURL != nil {
		merged.OpenAIBaseURL = *p.OpenAIBaseURL
	}
	if p.BookingURL != nil {
		merged.BookingURL = *p.BookingURL
	}
	if p.SystemPrompt != nil {
		merged.SystemPrompt = *p.SystemPrompt
	}
	if p.RecordFailedDeliveries != nil {
		merged.RecordFailedDeliveries = *p.RecordFailedDeliveries
	}
	return merged
}

// Fields возвращает имена полей, которые патч изменил бы. Используется для
// сообщения в ответе админ-API.
func (p SettingsPatch) Fields() []string {
	var fields []string
	if p.InstagramToken != nil {
		fields = append(fields, "instagramToken")
	}
	if p.VerifyToken != nil {
		fields = append(fields, "verifyToken")
	}
	if p.AppSecret != nil {
		fields = append(fields, "appSecret")
	}
	if p.OpenAIAPIKey != nil {
		fields = append(fields, "openaiApiKey")
	}
	if p.OpenAIModel != nil {
		fields = append(fields, "openaiModel")
	}
	if p.OpenAIBaseURL != nil {
		fields = append(fields, "openaiBaseUrl")
	}
	if p.BookingURL != nil {
		fields = append(fields, "bookingUrl")
	}
	if p.SystemPrompt != nil {
		fields = append(fields, "systemPrompt")
	}
	if p.RecordFailedDeliveries != nil {
		fields = append(fields, "recordFailedDeliveries")
	}
	return fields
}

// Config хранит все конфигурационные параметры приложения. Статические поля
// читаются один раз при старте; Settings защищены мьютексом и обновляются
// целиком (атомарная замена снимка), чтобы прогон конвейера не увидел
// наполовину обновленную конфигурацию.
type Config struct {
	AppEnv        string
	Port          string
	TelegramToken string // Токен бота для уведомлений владельцу; пустой - уведомления выключены
	OwnerChatID   int64

	mu       sync.RWMutex
	settings Settings
}

// LoadConfig загружает конфигурацию из переменных окружения.
// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("ENV"),
		Port:          os.Getenv("PORT"),
		TelegramToken: os.Getenv("TELEGRAM_APITOKEN"),
		settings: Settings{
			InstagramToken:         os.Getenv("INSTAGRAM_TOKEN"),
			VerifyToken:            os.Getenv("IG_VERIFY_TOKEN"),
			AppSecret:              os.Getenv("IG_APP_SECRET"),
			OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:            os.Getenv("OPENAI_MODEL"),
			OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
			BookingURL:             os.Getenv("BOOKING_URL"),
			SystemPrompt:           os.Getenv("SYSTEM_PROMPT"),
			RecordFailedDeliveries: true,
		},
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.settings.OpenAIModel == "" {
		cfg.settings.OpenAIModel = DefaultOpenAIModel
	}
	if cfg.settings.OpenAIBaseURL == "" {
		cfg.settings.OpenAIBaseURL = DefaultOpenAIBaseURL
	}

	if raw := os.Getenv("RECORD_FAILED_DELIVERIES"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			log.Printf("Предупреждение: некорректное значение RECORD_FAILED_DELIVERIES ('%s'): %v. Используется true.", raw, err)
		} else {
			cfg.settings.RecordFailedDeliveries = v
		}
	}

	if raw := os.Getenv("OWNER_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Printf("Предупреждение: не удалось прочитать OWNER_CHAT_ID: %v. Уведомления владельцу выключены.", err)
		} else {
			cfg.OwnerChatID = id
		}
	}

	if cfg.settings.InstagramToken == "" {
		log.Println("Предупреждение: INSTAGRAM_TOKEN не установлен. Отправка ответов работать не будет.")
	}
	if cfg.settings.VerifyToken == "" {
		log.Println("Предупреждение: IG_VERIFY_TOKEN не установлен. Верификация вебхука будет отклоняться.")
	}
	if cfg.settings.AppSecret == "" {
		log.Println("Критическая ошибка: IG_APP_SECRET не установлен. Все входящие вебхуки будут отклонены по подписи.")
	}
	if cfg.settings.OpenAIAPIKey == "" {
		log.Println("Предупреждение: OPENAI_API_KEY не установлен. Генерация ответов работать не будет.")
	}
	if cfg.settings.BookingURL == "" {
		log.Println("Предупреждение: BOOKING_URL не установлен. Плейсхолдер ссылки на запись заменяться не будет.")
	}

	log.Println("Конфигурация загружена.")
	return cfg, nil
}

// Snapshot возвращает копию текущих настроек. Конвейер берет снимок один раз
// в начале обработки события и дальше работает только с ним.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Apply применяет патч к настройкам, заменяя снимок целиком под блокировкой.
// Возвращает имена обновленных полей.
func (c *Config) Apply(p SettingsPatch) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = c.settings.Merged(p)
	return p.Fields()
}
