package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/config"
	"github.com/E1venking/Kuleli-English-Centre/internal/handler/http"
	"github.com/E1venking/Kuleli-English-Centre/internal/logger"
	"github.com/E1venking/Kuleli-English-Centre/internal/repository"
	"github.com/E1venking/Kuleli-English-Centre/internal/server"
	"github.com/E1venking/Kuleli-English-Centre/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting exam service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Gemini client (topic generation, evaluation, illustrations)
	var geminiClient *client.GeminiClient
	if cfg.GeminiSABase64 != "" {
		saJSON, err := base64.StdEncoding.DecodeString(cfg.GeminiSABase64)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode GEMINI_SA_BASE64")
		} else {
			var sa struct {
				ProjectID string `json:"project_id"`
			}
			if err := json.Unmarshal(saJSON, &sa); err == nil && sa.ProjectID != "" {
				geminiClient, err = client.NewGeminiClientWithCredentials(ctx, sa.ProjectID, cfg.GCPLocation, saJSON)
				if err != nil {
					log.Error().Err(err).Msg("Failed to initialize Gemini client")
				} else {
					log.Info().Str("project_id", sa.ProjectID).Msg("Gemini client initialized")
				}
			} else {
				log.Error().Msg("Could not extract project_id from service account JSON")
			}
		}
	} else if cfg.GCPProjectID != "" {
		geminiClient, err = client.NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPLocation)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini client")
		}
	} else {
		log.Warn().Msg("No Gemini credentials, skipping Gemini initialization")
	}

	// Initialize flash-lite client (low-latency tutor replies)
	var flashLiteClient *client.GeminiFlashLiteClient
	if cfg.GeminiSAPath != "" {
		flashLiteClient, err = client.NewGeminiFlashLiteClient(ctx, cfg.GeminiSAPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize flash-lite client")
		} else {
			log.Info().Msg("Flash-lite client initialized")
		}
	}

	// Initialize OpenAI client (alternative evaluation provider)
	var openaiClient *client.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		openaiClient = client.NewOpenAIClient(cfg.OpenAIAPIKey)
	}

	// Initialize Azure Speech client (TTS and pronunciation assessment)
	var azureSpeechClient *client.AzureSpeechClient
	if cfg.AzureAISpeechKey != "" && cfg.AzureServiceRegion != "" {
		azureSpeechClient = client.NewAzureSpeechClient(cfg.AzureAISpeechKey, cfg.AzureServiceRegion)
	} else {
		log.Warn().Msg("Azure Speech not configured, prompts fall back to local playback")
	}

	// Initialize Whisper client (transcription fallback)
	var whisperClient *client.AzureWhisperClient
	if cfg.AzureWhisperEndpoint != "" && cfg.AzureWhisperKey != "" {
		whisperClient = client.NewAzureWhisperClient(cfg.AzureWhisperEndpoint, cfg.AzureWhisperKey)
	}

	// Initialize Redis client
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			log.Info().Msg("Redis client initialized")
		}
	}

	// Initialize Cloudflare R2 client (public prompt audio and illustrations)
	var cloudflareClient *client.CloudflareClient
	if cfg.CloudflareAccessKeyID != "" && cfg.CloudflareSecretKey != "" && cfg.CloudflareR2Endpoint != "" && cfg.CloudflareBucketName != "" {
		cloudflareClient, err = client.NewCloudflareClient(ctx,
			cfg.CloudflareAccessKeyID,
			cfg.CloudflareSecretKey,
			cfg.CloudflareR2Endpoint,
			cfg.CloudflareBucketName,
			cfg.CloudflarePublicURL,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Cloudflare client")
		} else {
			log.Info().Msg("Cloudflare R2 client initialized")
		}
	} else {
		log.Warn().Msg("Cloudflare configuration missing, skipping R2 initialization")
	}

	// Initialize GCS client (private retention of answer recordings)
	var storageClient *client.StorageClient
	if cfg.GCSRecordingsBucket != "" {
		storageClient, err = client.NewStorageClient(ctx, cfg.GCSRecordingsBucket)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize storage client")
		}
	}

	// Initialize Pub/Sub client (report archive pipeline)
	var pubsubClient *client.PubSubClient
	if cfg.GCPProjectID != "" && cfg.PubSubTopic != "" {
		pubsubClient, err = client.NewPubSubClient(ctx, cfg.GCPProjectID, cfg.PubSubTopic)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client")
		} else {
			pubsubClient.WithSubscription(cfg.PubSubSubscription)
			log.Info().Str("topic", cfg.PubSubTopic).Msg("Pub/Sub client initialized")
		}
	}

	// Initialize Postgres client
	var postgresClient *client.PostgresClient
	if cfg.DatabaseURL != "" {
		postgresClient, err = client.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Postgres client")
		} else {
			log.Info().Msg("Postgres client initialized")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, skipping Postgres initialization")
	}

	// Initialize repositories
	userRepo := repository.NewPostgresUserRepository(postgresClient)
	reportRepo := repository.NewPostgresReportRepository(postgresClient)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	archiveService := service.NewArchiveService(pubsubClient, reportRepo, log)
	evaluationService := service.NewEvaluationService(cfg.AIProvider, geminiClient, openaiClient, azureSpeechClient, whisperClient, log)
	synthesisService := service.NewSynthesisService(azureSpeechClient, cloudflareClient, cfg.AzureSpeechVoice, log)
	topicService := service.NewTopicService(geminiClient, cloudflareClient, log)

	examService := service.NewExamService(service.ExamServiceDeps{
		Evaluator:   evaluationService,
		Synthesizer: synthesisService,
		Topics:      topicService,
		Illustrator: topicService,
		Archive:     archiveService,
		Recordings:  storageClient,
		Logger:      log,
	})

	var analyzer service.ChatProvider
	var replier service.Replier
	switch {
	case cfg.AIProvider == "openai" && openaiClient != nil:
		analyzer = openaiClient
		replier = openaiClient
	case geminiClient != nil:
		analyzer = geminiClient
		replier = geminiClient
	}
	if flashLiteClient != nil {
		replier = flashLiteClient
	}
	tutorService := service.NewTutorService(replier, analyzer, redisClient, log)
	writingService := service.NewWritingService(analyzer, log)

	// Initialize handlers
	healthHandler := http.NewHealthHandler(log, redisClient, postgresClient)
	authHandler := http.NewAuthHandler(log, authService)
	examHandler := http.NewExamHandler(log, examService)
	tutorHandler := http.NewTutorHandler(log, tutorService)
	writingHandler := http.NewWritingHandler(log, writingService)
	reportsHandler := http.NewReportsHandler(log, reportRepo)

	// Session event stream
	sessionHub := server.NewSessionHub(examService, log)
	examService.SetBroadcaster(sessionHub)

	// Archive worker
	go func() {
		if err := archiveService.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Archive worker stopped")
		}
	}()

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(cfg, log,
		healthHandler, authHandler, examHandler, tutorHandler, writingHandler, reportsHandler,
		sessionHub, authService,
	)

	// Start server
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().Str("http_addr", cfg.HTTPAddress()).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	examService.Close()

	// Close clients
	if geminiClient != nil {
		geminiClient.Close()
	}
	if flashLiteClient != nil {
		flashLiteClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if postgresClient != nil {
		postgresClient.Close()
	}
	if storageClient != nil {
		storageClient.Close()
	}
	if pubsubClient != nil {
		pubsubClient.Close()
	}

	log.Info().Msg("Server stopped")
}
