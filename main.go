package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"InstaSetter/internal/api"
	"InstaSetter/internal/config"
	"InstaSetter/internal/handlers"
	"InstaSetter/internal/instagram"
	"InstaSetter/internal/llm"
	"InstaSetter/internal/notify"
	"InstaSetter/internal/session"
)

func main() {
	// --- Блок инициализации ---
	if err := godotenv.Load(); err != nil {
		log.Println("Предупреждение: не удалось загрузить файл .env. Переменные окружения должны быть установлены иным способом.")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Критическая ошибка: не удалось загрузить конфигурацию: %v", err)
	}

	notifier, err := notify.NewNotifier(cfg.TelegramToken, cfg.OwnerChatID)
	if err != nil {
		// Уведомления - вспомогательная функция, без них можно работать.
		log.Printf("Предупреждение: не удалось инициализировать уведомления владельцу: %v", err)
		notifier = nil
	}
	if notifier == nil {
		log.Println("Уведомления владельцу выключены (TELEGRAM_APITOKEN или OWNER_CHAT_ID не заданы).")
	}

	store := session.NewManager()
	llmClient := llm.NewClient()
	igClient := instagram.NewClient()

	botHandler := handlers.NewBotHandler(handlers.HandlerDependencies{
		Config:    cfg,
		Store:     store,
		LLM:       llmClient,
		Messenger: igClient,
		Notifier:  notifier,
	})

	// --- Настройка роутера и Middleware ---
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Маршруты вебхука Instagram.
	router.Get("/webhook", botHandler.HandleWebhookVerify)
	router.Post("/webhook", botHandler.HandleWebhookEvent)

	// Админ-API для дашборда.
	api.SetupRoutes(router, api.ApiDependencies{
		Config:    cfg,
		Store:     store,
		Instagram: igClient,
		LLM:       llmClient,
	})

	log.Printf("Запуск HTTP-сервера на порту %s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("КРИТИЧЕСКАЯ ОШИБКА: не удалось запустить HTTP-сервер: %v", err)
	}
}
