package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Telegram    TelegramConfig
	Redis       RedisConfig
	NATS        NATSConfig
	SMS         SMSConfig
	Agent       AgentConfig
	Sessions    SessionConfig
	Sweep       SweepConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	DSN string
}

// TelegramConfig пустой токен отключает push резидентам
type TelegramConfig struct {
	Token string
}

// RedisConfig пустой URL: real-time только внутри процесса
type RedisConfig struct {
	URL string
}

// NATSConfig пустой URL: события и команды шлагбауму не публикуются
type NATSConfig struct {
	URL string
}

type SMSConfig struct {
	MailerSendKey string
	From          string
}

type AgentConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type SessionConfig struct {
	Timeout time.Duration
}

type SweepConfig struct {
	ExpireVisitsInterval time.Duration
	ExpiringSoonInterval time.Duration
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	return FromEnv()
}

// FromEnv читает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	var errs []string
	duration := func(key string, fallback time.Duration) time.Duration {
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			return fallback
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, value))
			return fallback
		}
		return d
	}

	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		HTTP: HTTPConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			DSN: os.Getenv("DB_DSN"),
		},
		Telegram: TelegramConfig{
			Token: os.Getenv("TELEGRAM_TOKEN"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
		SMS: SMSConfig{
			MailerSendKey: os.Getenv("MAILERSEND_API_KEY"),
			From:          os.Getenv("SMS_FROM"),
		},
		Agent: AgentConfig{
			SigningKey: os.Getenv("AGENT_SIGNING_KEY"),
			TokenTTL:   duration("AGENT_TOKEN_TTL", time.Minute),
		},
		Sessions: SessionConfig{
			Timeout: duration("SESSION_TIMEOUT", 15*time.Minute),
		},
		Sweep: SweepConfig{
			ExpireVisitsInterval: duration("EXPIRE_VISITS_INTERVAL", 10*time.Minute),
			ExpiringSoonInterval: duration("EXPIRING_SOON_INTERVAL", 30*time.Minute),
		},
	}

	// Проверяем обязательные поля
	if cfg.Database.DSN == "" {
		errs = append(errs, "DB_DSN is required but not set")
	}
	if cfg.IsProduction() && cfg.Agent.SigningKey == "" {
		errs = append(errs, "AGENT_SIGNING_KEY is required in production")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
