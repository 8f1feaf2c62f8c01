// Package app wires configuration into adapters, use cases and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/0xcro3dile/docrag/internal/adapters/filewatcher"
	"github.com/0xcro3dile/docrag/internal/adapters/loader"
	"github.com/0xcro3dile/docrag/internal/adapters/parser"
	"github.com/0xcro3dile/docrag/internal/config"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
	httpserver "github.com/0xcro3dile/docrag/internal/infrastructure/http"
	"github.com/0xcro3dile/docrag/internal/platform/keylock"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// App holds every wired component.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	Store    ports.VectorStore
	Parser   *parser.Registry
	Embedder ports.EmbeddingService
	LLM      ports.LLMService
	Models   ports.ModelManager // nil unless an Ollama backend is configured
	Loader   *loader.DiskLoader
	Ingest   *usecases.IngestUseCase
	Query    *usecases.QueryUseCase

	closers []io.Closer
}

// New builds the application from cfg. Call Close when done.
func New(cfg config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Cfg: cfg, Log: log}

	store, err := wireStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store)

	embedder, cache, err := wireEmbedder(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.Embedder = embedder
	if cache != nil {
		a.closers = append(a.closers, cache)
	}

	a.LLM, a.Models, err = wireLLM(cfg.LLM, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init llm: %w", err)
	}

	chunker, err := usecases.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.Window)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Parser = parser.NewDefault(parser.Options{
		PDFServiceURL: cfg.Parser.PDFServiceURL,
		MaxDOCXBytes:  cfg.Parser.MaxDOCXBytes,
		Log:           log,
	})
	a.Loader = loader.NewDiskLoader(a.Parser, cfg.Ingest.MaxFileBytes)

	locks := keylock.New()
	a.Ingest = usecases.NewIngestUseCase(a.Parser, chunker, a.Embedder, a.Store, locks, log, usecases.IngestConfig{
		MaxFileBytes: cfg.Ingest.MaxFileBytes,
		Workers:      cfg.Ingest.Workers,
	})
	retriever := usecases.NewRetriever(a.Embedder, a.Store, usecases.RetrieverConfig{
		DefaultK:     cfg.Retrieval.DefaultK,
		MaxK:         cfg.Retrieval.MaxK,
		MinScore:     cfg.Retrieval.MinScore,
		EmbedTimeout: cfg.Retrieval.EmbedTimeout,
	})
	synth := usecases.NewSynthesizer(a.LLM, usecases.SynthesizerConfig{
		MaxContextChars: cfg.Synthesis.MaxContextChars,
		Timeout:         cfg.LLM.Timeout,
		Generate: ports.GenerateOptions{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		},
	})
	a.Query = usecases.NewQueryUseCase(retriever, synth, a.Store, locks, log)

	log.Debug("application wired",
		"store", cfg.Store.Driver,
		"embedding", a.Embedder.Model(),
		"llm", a.LLM.Name(),
		"cache", cfg.Cache.Backend,
	)
	return a, nil
}

// Server builds the HTTP API over the wired use cases.
func (a *App) Server() *httpserver.Server {
	return httpserver.NewServer(httpserver.Deps{
		Query:  a.Query,
		Ingest: a.Ingest,
		Store:  a.Store,
		Models: a.Models,
		PDF:    a.Parser,
		Log:    a.Log,
	}, httpserver.Config{
		Addr:            a.Cfg.Server.Addr,
		CORSOrigins:     a.Cfg.Server.CORSOrigins,
		ReadTimeout:     a.Cfg.Server.ReadTimeout,
		ShutdownTimeout: a.Cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  a.Cfg.Ingest.MaxFileBytes,
	})
}

// Watcher builds the directory watch use case over the configured extensions.
func (a *App) Watcher() (*usecases.WatchUseCase, func() error, error) {
	w, err := filewatcher.NewFSNotifyWatcher(a.Parser.SupportedFormats(), a.Cfg.Watch.Debounce, a.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init file watcher: %w", err)
	}
	return usecases.NewWatchUseCase(w, a.Loader, a.Ingest, a.Log), w.Stop, nil
}

// Serve runs the API server and, when watch.dir is set, the directory watcher,
// until ctx is cancelled or either fails.
func (a *App) Serve(ctx context.Context) error {
	var (
		watch *usecases.WatchUseCase
		dir   = a.Cfg.Watch.Dir
	)
	if dir != "" {
		w, stop, err := a.Watcher()
		if err != nil {
			return err
		}
		defer stop()
		watch = w
	}

	g, ctx := errgroup.WithContext(ctx)
	srv := a.Server()
	g.Go(func() error { return srv.Start(ctx) })
	if watch != nil {
		g.Go(func() error {
			if err := watch.Run(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// Close releases the store and cache connections and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.Log.Sync()
	return errors.Join(errs...)
}
