package main

import (
	"context"
	"log"
	"time"

	"github.com/ideagen/backend/internal/ai"
	"github.com/ideagen/backend/internal/chat"
	"github.com/ideagen/backend/internal/config"
	"github.com/ideagen/backend/internal/db"
	"github.com/ideagen/backend/internal/httpapi"
	"github.com/ideagen/backend/internal/idea"
	"github.com/ideagen/backend/internal/models"
	"github.com/ideagen/backend/internal/store/rabbitmq"
	"github.com/ideagen/backend/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	db.AutoMigrate(gdb,
		&models.User{},
		&idea.Idea{},
		&chat.Session{},
		&chat.Message{},
	)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	// Provider registry (route by AI_PROVIDER)
	params := ai.Params{
		MaxOutputTokens: cfg.ModelMaxOutputTokens,
		Temperature:     cfg.ModelTemperature,
		TopP:            cfg.ModelTopP,
		ContextWindow:   cfg.ModelContextWindow,
	}
	timeout := time.Duration(cfg.ModelTimeoutSeconds) * time.Second

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, params, timeout), nil
	})
	reg.Register("openrouter", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel, params, timeout), nil
	})

	base, err := reg.Get(context.Background(), cfg.AIProvider)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}
	provider := ai.WithRetry(base, cfg.ModelRetryAttempts, time.Duration(cfg.ModelRetryDelayMs)*time.Millisecond)

	ideaRepo := idea.NewRepo(gdb)
	ideaSvc := idea.NewService(ideaRepo, provider, rds, time.Duration(cfg.IdeaSummaryCacheTTLMinutes)*time.Minute)

	repo := chat.NewRepo(gdb)
	sessions := chat.NewSessionManager(repo, ideaSvc)
	limits := chat.Limits{
		MaxTokensPerMessage: cfg.MaxTokensPerMessage,
		MaxCharsPerMessage:  cfg.MaxCharsPerMessage,
		MaxTokensPerChat:    cfg.MaxTokensPerChat,
		MaxHistoryMessages:  cfg.MaxHistoryMessages,
		MaxInitialMessages:  cfg.MaxInitialMessages,
		MaxResponseLength:   cfg.MaxResponseLength,
	}
	chatSvc := chat.NewService(repo, sessions, provider, ideaSvc, limits)

	// Event publishing is best-effort; the API runs without rabbit.
	var events chat.EventPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("[server] rabbit unavailable, chat events disabled: %v", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}
	sender := chat.NewInstrumentedSender(chatSvc, events)

	r := httpapi.NewRouter(gdb, cfg, chatSvc, sender, ideaSvc)

	log.Printf("[server] listening addr=%s provider=%s", cfg.Addr, cfg.AIProvider)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
