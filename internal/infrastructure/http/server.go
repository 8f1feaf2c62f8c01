// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// PDFServiceChecker reports on the optional remote PDF extraction service.
type PDFServiceChecker interface {
	PDFServiceHealthy(ctx context.Context) (configured, healthy bool)
}

// Config configures the listener.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// Deps are the use cases and backends the API exposes. Models and PDF may be nil.
type Deps struct {
	Query  *usecases.QueryUseCase
	Ingest *usecases.IngestUseCase
	Store  ports.VectorStore
	Models ports.ModelManager
	PDF    PDFServiceChecker
	Log    *logger.Logger
}

// Server is the HTTP server for the query API.
type Server struct {
	query  *usecases.QueryUseCase
	ingest *usecases.IngestUseCase
	store  ports.VectorStore
	models ports.ModelManager
	pdf    PDFServiceChecker
	log    *logger.Logger
	cfg    Config
	engine *gin.Engine
}

// NewServer creates a new HTTP server and registers its routes.
func NewServer(deps Deps, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = usecases.DefaultMaxFileBytes
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		query:  deps.Query,
		ingest: deps.Ingest,
		store:  deps.Store,
		models: deps.Models,
		pdf:    deps.PDF,
		log:    log.With("component", "http"),
		cfg:    cfg,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.log))
	r.Use(CORS(s.cfg.CORSOrigins))
	// multipart bodies beyond this spill to disk
	r.MaxMultipartMemory = 8 << 20

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/files", s.handleUpload)
		api.GET("/files", s.handleListFiles)
		api.GET("/files/:id", s.handleGetFile)
		api.DELETE("/files/:id", s.handleDeleteFile)
		api.GET("/files/:id/chunks", s.handleChunks)

		api.POST("/ask", s.handleAsk)
		api.GET("/ask/stream", s.handleAskStream)
		api.GET("/history", s.handleHistory)

		api.GET("/models", s.handleListModels)
		api.POST("/models/pull", s.handlePullModel)
	}
	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		// no WriteTimeout: answers are streamed
	}

	s.log.Info("docrag server starting", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("docrag server stopped")
	return nil
}
