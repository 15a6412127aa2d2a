package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Credentials is one per-product credential record issued by the
// conferencing vendor.
type Credentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	SecretToken  string `yaml:"secret_token"`
}

// Config holds all runtime configuration for the service.
type Config struct {
	Port    string
	GinMode string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// NATS (optional; empty disables cross-instance broadcast)
	NatsURL string

	// Inference (OpenAI-compatible endpoint)
	InferenceBaseURL   string
	InferenceAPIKey    string
	CompletionModel    string
	EmbeddingModel     string
	InferenceTimeoutMS int

	// RTMS ingestion
	// Media mask bits: audio=1 video=2 share=4 transcript=8 chat=16, all=32.
	MediaSubscribeMask int
	EnableFillers      bool
	AudioSendRateMS    int // ms per audio frame, default 20
	VideoFPS           int // default 25

	// Credentials keyed by product (meeting, webinar, videosdk,
	// contactcenter, phone). The "default" entry applies to any
	// product without its own record.
	Credentials map[string]Credentials

	// Retention
	RetentionDays         int
	RetentionCronSchedule string

	// Live clients
	ClientRegisterTimeoutSeconds int

	// Server
	ServerShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment and the optional
// credentials YAML file.
func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Database
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/rtms_ingest?sslmode=disable"),
		DBMaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdleTime: getEnvIntOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 5),
		DBConnMaxLifetime: getEnvIntOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// NATS
		NatsURL: getEnvOrDefault("NATS_URL", ""),

		// Inference
		InferenceBaseURL:   getEnvOrDefault("INFERENCE_BASE_URL", "https://api.openai.com/v1"),
		InferenceAPIKey:    getEnvOrDefault("INFERENCE_API_KEY", ""),
		CompletionModel:    getEnvOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		EmbeddingModel:     getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		InferenceTimeoutMS: getEnvIntOrDefault("INFERENCE_TIMEOUT_MS", 30000),

		// RTMS
		MediaSubscribeMask: getEnvIntOrDefault("MEDIA_SUBSCRIBE_MASK", 8+16), // transcript|chat
		EnableFillers:      getEnvBoolOrDefault("ENABLE_FILLERS", false),
		AudioSendRateMS:    getEnvIntOrDefault("AUDIO_SEND_RATE_MS", 20),
		VideoFPS:           getEnvIntOrDefault("VIDEO_FPS", 25),

		// Retention
		RetentionDays:         getEnvIntOrDefault("RETENTION_DAYS", 90),
		RetentionCronSchedule: getEnvOrDefault("RETENTION_CRON_SCHEDULE", "0 3 * * *"),

		// Live clients
		ClientRegisterTimeoutSeconds: getEnvIntOrDefault("CLIENT_REGISTER_TIMEOUT_SECONDS", 15),

		// Server
		ServerShutdownTimeoutSeconds: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "off"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),
	}

	creds, err := loadCredentials(getEnvOrDefault("CREDENTIALS_FILE", ""))
	if err != nil {
		log.Printf("Failed to load credentials file: %v", err)
	}
	AppConfig.Credentials = creds
}

// loadCredentials reads per-product credentials. Environment variables
// CLIENT_ID / CLIENT_SECRET / SECRET_TOKEN act as the "default"
// shorthand applying to all products; a YAML file may add or override
// per-product records.
func loadCredentials(path string) (map[string]Credentials, error) {
	creds := make(map[string]Credentials)

	if id := os.Getenv("CLIENT_ID"); id != "" {
		creds["default"] = Credentials{
			ClientID:     id,
			ClientSecret: os.Getenv("CLIENT_SECRET"),
			SecretToken:  os.Getenv("SECRET_TOKEN"),
		}
	}

	if path == "" {
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fileCreds map[string]Credentials
	if err := yaml.Unmarshal(data, &fileCreds); err != nil {
		return creds, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for product, c := range fileCreds {
		creds[strings.ToLower(product)] = c
	}

	return creds, nil
}

// CredentialsFor resolves the credential record for a product,
// falling back to the meeting record and then the default shorthand.
func (c *Config) CredentialsFor(product string) (Credentials, bool) {
	if creds, ok := c.Credentials[strings.ToLower(product)]; ok {
		return creds, true
	}
	if creds, ok := c.Credentials["meeting"]; ok {
		return creds, true
	}
	creds, ok := c.Credentials["default"]
	return creds, ok
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}
