// Package api provides the HTTP API server for the moderation service.
//
// Two surfaces share one router: the public label protocol under /xrpc
// (query, subscribe, ack, keys) and the authenticated admin surface under
// /api/v1 (scan submission, review workflow).
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/scan"
	"github.com/chorusfm/moderation-server/internal/service"
	"github.com/chorusfm/moderation-server/internal/store"
	"github.com/chorusfm/moderation-server/internal/stream"
	"github.com/chorusfm/moderation-server/internal/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store         *store.Store
	orchestrator  *scan.Orchestrator
	reviewService *service.Review
	authority     *labels.Authority
	streamHandler *stream.Handler
	validator     *validation.Validator
	reviewKey     string
	router        *chi.Mux
	api           huma.API
	logger        *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	st *store.Store,
	orchestrator *scan.Orchestrator,
	reviewService *service.Review,
	authority *labels.Authority,
	streamHandler *stream.Handler,
	reviewKey string,
	logger *slog.Logger,
) *Server {
	router := chi.NewRouter()

	humaConfig := huma.DefaultConfig("Chorus Moderation API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"moderationKey": {
			Type: "apiKey",
			In:   "header",
			Name: "X-Moderation-Key",
		},
	}

	s := &Server{
		store:         st,
		orchestrator:  orchestrator,
		reviewService: reviewService,
		authority:     authority,
		streamHandler: streamHandler,
		validator:     validation.New(),
		reviewKey:     reviewKey,
		router:        router,
		logger:        logger,
	}

	// chi panics if middleware is added after any route is registered, and
	// humachi.New registers the docs/openapi routes, so install middleware
	// first.
	s.setupMiddleware()

	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	// The label protocol is public and consumed cross-origin by app clients.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID", "X-Moderation-Key"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerLabelRoutes()
	s.registerScanRoutes()
	s.registerReviewRoutes()

	// The subscription stream is a raw SSE handler; huma's typed
	// request/response model does not fit a long-lived event stream.
	s.router.Get("/xrpc/com.atproto.label.subscribeLabels", s.streamHandler.ServeHTTP)
}

// authenticate checks the shared moderation key with a constant-time compare.
func (s *Server) authenticate(key string) error {
	if s.reviewKey == "" {
		return errors.Unauthorized("moderation key auth is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.reviewKey)) != 1 {
		return errors.Unauthorized("invalid moderation key")
	}
	return nil
}
