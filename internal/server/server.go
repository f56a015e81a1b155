// Package server exposes a viewer session over HTTP for the map UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/store"
	"github.com/sells-group/mapbiomas-cli/internal/viewer"
)

const maxBodyBytes = 16 << 20

// Config tunes the HTTP layer.
type Config struct {
	// AllowedOrigins for CORS. Default: any origin.
	AllowedOrigins []string
	// LayerCacheSize caps cached layers. Default: 256.
	LayerCacheSize int
	// LayerCacheTTL bounds how long a published tile URL is reused.
	// Default: 30m.
	LayerCacheTTL time.Duration
	// Lang is the fallback language for class names. Default: pt-BR.
	Lang language.Tag
}

// Server routes HTTP requests to a viewer session.
type Server struct {
	session *viewer.Session
	cache   *LayerCache
	cfg     Config
	log     *zap.Logger
}

// New creates a Server over session.
func New(session *viewer.Session, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.LayerCacheTTL <= 0 {
		cfg.LayerCacheTTL = 30 * time.Minute
	}
	if cfg.Lang == language.Und {
		cfg.Lang = language.BrazilianPortuguese
	}
	return &Server{
		session: session,
		cache:   NewLayerCache(cfg.LayerCacheSize, cfg.LayerCacheTTL),
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "server")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/legend", s.handleLegend)
		r.Get("/years", s.handleYears)
		r.Get("/layers", s.handleLayersQuery)
		r.Post("/layers", s.handleLayersBody)
		r.Post("/areas", s.handleAreas)
		r.Get("/cache/stats", s.handleCacheStats)
		if s.session.Store() != nil {
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
		}
	})
	return r
}

// Run serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors to status codes: validation 400, unknown
// run 404, upstream 502, timeout 504, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *landcover.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run not found"})
	case landcover.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	case landcover.IsUpstream(err):
		s.log.Warn("upstream failure", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) lang(r *http.Request) language.Tag {
	if q := r.URL.Query().Get("lang"); q != "" {
		return landcover.MatchLanguage(q)
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		return landcover.MatchLanguage(tags[0].String())
	}
	return s.cfg.Lang
}
