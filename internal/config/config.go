package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr      string
	DBDriver  string
	DBDSN     string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ (chat event pipeline; empty URL disables publishing)
	RabbitURL   string
	RabbitQueue string

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string

	// model call behaviour
	ModelTimeoutSeconds  int
	ModelRetryAttempts   int
	ModelRetryDelayMs    int
	ModelMaxOutputTokens int
	ModelTemperature     float64
	ModelTopP            float64
	ModelContextWindow   int

	// chat limits
	MaxTokensPerMessage int
	MaxCharsPerMessage  int
	MaxTokensPerChat    int
	MaxHistoryMessages  int
	MaxInitialMessages  int
	MaxResponseLength   int

	IdeaSummaryCacheTTLMinutes int
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	return Config{
		Addr:      getEnv("ADDR", ":8080"),
		DBDriver:  getEnv("DB_DRIVER", "sqlite"),
		DBDSN:     getEnv("DB_DSN", "file:ideagen.db?cache=shared"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: getEnv("RABBIT_QUEUE", "chat_events"),

		AIProvider:        getEnv("AI_PROVIDER", "ollama"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),

		ModelTimeoutSeconds:  getEnvInt("MODEL_TIMEOUT_SECONDS", 60),
		ModelRetryAttempts:   getEnvInt("MODEL_RETRY_ATTEMPTS", 3),
		ModelRetryDelayMs:    getEnvInt("MODEL_RETRY_DELAY_MS", 1000),
		ModelMaxOutputTokens: getEnvInt("MODEL_MAX_OUTPUT_TOKENS", 300),
		ModelTemperature:     getEnvFloat("MODEL_TEMPERATURE", 0.7),
		ModelTopP:            getEnvFloat("MODEL_TOP_P", 0.9),
		ModelContextWindow:   getEnvInt("MODEL_CONTEXT_WINDOW", 2048),

		MaxTokensPerMessage: getEnvInt("CHAT_MAX_TOKENS_PER_MESSAGE", 1000),
		MaxCharsPerMessage:  getEnvInt("CHAT_MAX_CHARS_PER_MESSAGE", 1000),
		MaxTokensPerChat:    getEnvInt("CHAT_MAX_TOKENS_PER_CHAT", 10000),
		MaxHistoryMessages:  getEnvInt("CHAT_MAX_HISTORY_MESSAGES", 3),
		MaxInitialMessages:  getEnvInt("CHAT_MAX_INITIAL_MESSAGES", 10),
		MaxResponseLength:   getEnvInt("CHAT_MAX_RESPONSE_LENGTH", 100000),

		IdeaSummaryCacheTTLMinutes: getEnvInt("IDEA_SUMMARY_CACHE_TTL_MINUTES", 1440),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
