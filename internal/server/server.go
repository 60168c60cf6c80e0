package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gkobilansky/abgoat/internal/analysis"
	"github.com/gkobilansky/abgoat/internal/metrics"
	"github.com/gkobilansky/abgoat/internal/store"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	store     store.Store
	runner    *analysis.Runner
	logger    zerolog.Logger
	metrics   *metrics.Recorder
	port      int
	token     string
	tokenFile string
	router    *chi.Mux
	startTime time.Time
}

type Options struct {
	Port int
	// TokenFile, when set, receives the API token on Start.
	TokenFile string
	// Token overrides the generated API token.
	Token string
}

func New(s store.Store, runner *analysis.Runner, logger zerolog.Logger, rec *metrics.Recorder, opts Options) *Server {
	token := opts.Token
	if token == "" {
		token = generateToken()
	}
	srv := &Server{
		store:     s,
		runner:    runner,
		logger:    logger,
		metrics:   rec,
		port:      opts.Port,
		token:     token,
		tokenFile: opts.TokenFile,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	// Public endpoints
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/b", s.handleBeacon)
	s.router.Options("/b", s.handlePreflight)
	s.router.Post("/o", s.handleObservation)
	s.router.Options("/o", s.handlePreflight)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metricsHandler())
	}

	// API endpoints (protected)
	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/experiments", s.handleListExperiments)
		r.Get("/experiments/{name}/report", s.handleReport)
		r.Get("/experiments/{name}/history", s.handleHistory)
		r.Get("/experiments/{name}/sequential", s.handleSequential)
		r.Post("/correct", s.handleCorrect)
		r.Get("/plan", s.handlePlan)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn().Err(err).Str("path", s.tokenFile).Msg("failed to write token file")
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("abgoat listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("generate token: %v", err))
	}
	return hex.EncodeToString(bytes)
}
