package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbparse/internal/api/middlewares"
	"github.com/markdave123-py/kbparse/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// Router builds the /api routes over the given services.
func Router(cfg *config.Config, docs handlers.DocumentParsing, ingest handlers.BackgroundParsing, emb handlers.EmbeddingConfigurator, log *zap.Logger) http.Handler {
	docHandler := handlers.NewDocumentHandler(docs, ingest, log)
	kbHandler := handlers.NewKnowledgebaseHandler(docs, ingest, log)
	embHandler := handlers.NewEmbeddingHandler(emb)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

		// Synchronous parses can take minutes; everything else is short.
		api.Post("/documents/{id}/parse", docHandler.Parse)

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(60 * time.Second))
			short.Post("/documents/{id}/parse/async", docHandler.ParseAsync)
			short.Get("/documents/{id}/parse/progress", docHandler.Progress)
			short.Get("/tasks/{id}", docHandler.Task)

			short.Post("/knowledgebases/{id}/batch-parse", kbHandler.StartBatch)
			short.Get("/knowledgebases/{id}/batch-parse/progress", kbHandler.BatchProgress)
			short.Get("/knowledgebases/{id}/parse/progress", kbHandler.Progress)

			short.Get("/system/embedding", embHandler.Get)
			short.Put("/system/embedding", embHandler.Set)
			short.Post("/system/embedding/test", embHandler.Test)
		})
	})
	return r
}

// NewServer builds and wires all routes.
func NewServer(a *App) *Server {
	log := a.log.Named("http")
	httpSrv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           Router(a.cfg, a.Documents, a.Ingest, a.Embeddings, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
