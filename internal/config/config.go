package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// AI evaluation
	AIProvider     string `envconfig:"AI_PROVIDER" default:"gemini"` // "gemini" or "openai"
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	GeminiSABase64 string `envconfig:"GEMINI_SA_BASE64"`
	GeminiSAPath   string `envconfig:"GEMINI_SA_PATH"`
	GCPLocation    string `envconfig:"GCP_LOCATION" default:"europe-west1"`
	GCPProjectID   string `envconfig:"GCP_PROJECT_ID"`

	// Azure AI Speech (TTS for exam prompts, pronunciation STT for answers)
	AzureAISpeechKey   string `envconfig:"AZURE_AI_SPEECH_KEY"`
	AzureServiceRegion string `envconfig:"AZURE_SERVICE_REGION"`
	AzureSpeechVoice   string `envconfig:"AZURE_SPEECH_VOICE" default:"en-US-JennyNeural"`

	// Azure OpenAI Whisper (transcription fallback)
	AzureWhisperEndpoint string `envconfig:"AZURE_WHISPER_ENDPOINT"`
	AzureWhisperKey      string `envconfig:"AZURE_WHISPER_KEY"`

	// Redis (tutor reply queue)
	RedisURL string `envconfig:"REDIS_URL"`

	// Database (accounts, archived exam reports)
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Cloudflare R2 (public prompt audio and illustrations)
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Google Cloud Storage (private retention of answer recordings)
	GCSRecordingsBucket string `envconfig:"GCS_RECORDINGS_BUCKET"`

	// Pub/Sub (report archive pipeline)
	PubSubTopic        string `envconfig:"PUBSUB_REPORTS_TOPIC" default:"exam-reports"`
	PubSubSubscription string `envconfig:"PUBSUB_REPORTS_SUBSCRIPTION" default:"exam-reports-archiver"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cfg, nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
