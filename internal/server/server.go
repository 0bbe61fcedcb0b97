package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/facade"
	"github.com/aristath/trust-engine/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Facade    *facade.Facade
	Scheduler *scheduler.Scheduler
	DevMode   bool
}

// Server exposes the Facade's operation surface over HTTP.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	facade *facade.Facade
	sched  *scheduler.Scheduler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		facade: cfg.Facade,
		sched:  cfg.Scheduler,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.handleCreateAccount)
			r.Post("/{accountID}/rules", s.handleCreateRule)
			r.Post("/{accountID}/deposit", s.handleDeposit)
			r.Post("/{accountID}/withdraw", s.handleWithdraw)
			r.Get("/{accountID}/overview", s.handleAccountOverview)
			r.Get("/{accountID}/trades", s.handleListTrades)
		})

		r.Route("/vehicles", func(r chi.Router) {
			r.Post("/", s.handleCreateVehicle)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Post("/", s.handleCreateTrade)
			r.Get("/{tradeID}", s.handleTradeDetail)
			r.Post("/{tradeID}/fund", s.handleFundTrade)
			r.Post("/{tradeID}/submit", s.handleSubmitTrade)
			r.Post("/{tradeID}/modify-stop", s.handleModifyStop)
			r.Post("/{tradeID}/modify-target", s.handleModifyTarget)
			r.Post("/{tradeID}/cancel", s.handleCancelTrade)
			r.Post("/{tradeID}/close", s.handleCloseTrade)
			r.Post("/{tradeID}/sync", s.handleSyncTrade)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
