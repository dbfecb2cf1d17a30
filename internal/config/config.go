package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr     string
	SQLitePath     string
	ImageDomain    string
	R2Endpoint     string
	R2Region       string
	R2Bucket       string
	R2AccessKey    string
	R2SecretKey    string
	WorkerCount    int
	FetchTimeout   time.Duration
	SignTTL        time.Duration
	PhashThreshold int
	BotToken       string
	OperatorChatID int64
}

func Load() Config {
	return Config{
		ListenAddr:     envOrDefault("LISTEN_ADDR", ":8080"),
		SQLitePath:     envOrDefault("SQLITE_PATH", "./mediacache.db"),
		ImageDomain:    strings.TrimSpace(os.Getenv("IMAGE_DOMAIN")),
		R2Endpoint:     strings.TrimSpace(os.Getenv("R2_ENDPOINT")),
		R2Region:       envOrDefault("R2_REGION", "auto"),
		R2Bucket:       strings.TrimSpace(os.Getenv("R2_BUCKET")),
		R2AccessKey:    strings.TrimSpace(os.Getenv("R2_ACCESS_KEY_ID")),
		R2SecretKey:    strings.TrimSpace(os.Getenv("R2_SECRET_ACCESS_KEY")),
		WorkerCount:    envInt("WORKER_COUNT", 4),
		FetchTimeout:   envDuration("FETCH_TIMEOUT", 45*time.Second),
		SignTTL:        envDuration("SIGN_TTL", time.Hour),
		PhashThreshold: envInt("PHASH_THRESHOLD", 10),
		BotToken:       strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		OperatorChatID: envInt64("OPERATOR_CHAT_ID", 0),
	}
}

func (c Config) HasR2() bool {
	return c.R2Endpoint != "" && c.R2Bucket != "" && c.R2AccessKey != "" && c.R2SecretKey != ""
}

func (c Config) HasTelegram() bool {
	return c.BotToken != "" && c.OperatorChatID != 0
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
