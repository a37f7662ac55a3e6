// Package http exposes the issuer management API and the token-gated
// recipient signing API over gorilla/mux.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/auth"
	"github.com/signato/signato/internal/ratelimit"
	"github.com/signato/signato/internal/usecase"
)

// Server represents the HTTP server
type Server struct {
	addr   string
	server *http.Server
	logger *logrus.Logger
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	CORSOrigin     string
	MaxUploadBytes int64
}

// NewServer creates a new HTTP server
func NewServer(
	config ServerConfig,
	issuerUseCase *usecase.IssuerUseCase,
	signingUseCase *usecase.SigningUseCase,
	jwtService *auth.JWTService,
	limiter ratelimit.Limiter,
	logger *logrus.Logger,
) *Server {
	issuerHandler := NewIssuerHandler(issuerUseCase, config.MaxUploadBytes)
	signingHandler := NewSigningHandler(signingUseCase)

	router := mux.NewRouter()
	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware(config.CORSOrigin))
	router.Use(recoveryMiddleware(logger))

	issuerRoutes := router.PathPrefix("/api/v1/documents").Subrouter()
	issuerRoutes.Use(authMiddleware(jwtService))
	issuerHandler.RegisterRoutes(issuerRoutes)

	signingRoutes := router.PathPrefix("/api/v1/sign").Subrouter()
	signingRoutes.Use(rateLimitMiddleware(limiter, logger))
	signingHandler.RegisterRoutes(signingRoutes)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return &Server{
		addr:   ":" + config.Port,
		logger: logger,
		server: &http.Server{
			Addr:         ":" + config.Port,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Handler exposes the routing tree, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithField("addr", s.addr).Info("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
