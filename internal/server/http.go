package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/config"
	httphandler "github.com/E1venking/Kuleli-English-Centre/internal/handler/http"
	"github.com/E1venking/Kuleli-English-Centre/internal/middleware"
	"github.com/E1venking/Kuleli-English-Centre/internal/service"
)

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	authHandler *httphandler.AuthHandler,
	examHandler *httphandler.ExamHandler,
	tutorHandler *httphandler.TutorHandler,
	writingHandler *httphandler.WritingHandler,
	reportsHandler *httphandler.ReportsHandler,
	sessionHub *SessionHub,
	authService *service.AuthService,
) *HTTPServer {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (public)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	// Session event stream
	r.Get("/ws/exam/{sessionID}", sessionHub.HandleSession)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Protected endpoints (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authService))

			// Exam session lifecycle
			r.Post("/exam/sessions", examHandler.CreateSession)
			r.Route("/exam/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", examHandler.GetSession)
				r.Delete("/", examHandler.CloseSession)
				r.Post("/start", examHandler.Start)
				r.Post("/playback-finished", examHandler.PlaybackFinished)
				r.Post("/begin-speaking", examHandler.BeginSpeaking)
				r.Post("/audio", examHandler.AppendAudio)
				r.Post("/stop-speaking", examHandler.StopSpeaking)
				r.Post("/skip", examHandler.Skip)
				r.Post("/finish", examHandler.Finish)
				r.Post("/next-part", examHandler.NextPart)
				r.Get("/report", examHandler.Report)
			})

			// Practice conversation (2-step async pattern)
			r.Post("/tutor/sessions", tutorHandler.CreateSession)
			r.Post("/tutor/sessions/{sessionID}/say", tutorHandler.Say)
			r.Get("/tutor/sessions/{sessionID}/transcript", tutorHandler.Transcript)
			r.Get("/tutor/events", tutorHandler.GetEvent)

			// Writing evaluation
			r.Post("/writing/evaluate", writingHandler.Evaluate)

			// Archived reports
			r.Get("/reports", reportsHandler.List)
			r.Get("/reports/{sessionID}", reportsHandler.GetBySession)
		})
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
