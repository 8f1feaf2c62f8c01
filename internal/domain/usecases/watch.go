package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// WatchUseCase keeps the index in sync with a directory on disk.
// A created or modified file replaces the version previously ingested from
// the same path; a removed file is deleted from the index.
type WatchUseCase struct {
	watcher ports.FileWatcher
	loader  ports.DocumentLoader
	ingest  *IngestUseCase
	log     *logger.Logger

	mu     sync.Mutex
	byPath map[string]string // source path -> file ID
}

func NewWatchUseCase(watcher ports.FileWatcher, loader ports.DocumentLoader, ingest *IngestUseCase, log *logger.Logger) *WatchUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &WatchUseCase{
		watcher: watcher,
		loader:  loader,
		ingest:  ingest,
		log:     log.With("component", "watch"),
		byPath:  make(map[string]string),
	}
}

// Run indexes files already present in dir, then follows changes until ctx
// is cancelled.
func (uc *WatchUseCase) Run(ctx context.Context, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := uc.restore(ctx); err != nil {
		return err
	}
	if err := uc.scan(ctx, dir); err != nil {
		return err
	}

	events, err := uc.watcher.Watch(ctx, dir)
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	uc.log.Info("watching directory", "dir", dir)

	for ev := range events {
		uc.Handle(ctx, ev)
	}
	return ctx.Err()
}

// Handle applies one file event to the index.
func (uc *WatchUseCase) Handle(ctx context.Context, ev ports.FileEvent) {
	log := uc.log.With("path", ev.Path, "op", ev.Operation.String())
	switch ev.Operation {
	case ports.FileDeleted:
		if err := uc.forget(ctx, ev.Path); err != nil {
			log.Warn("removing watched file", "error", err)
		}
	case ports.FileCreated, ports.FileModified:
		file, err := uc.replace(ctx, ev.Path)
		if err != nil {
			log.Warn("ingesting watched file", "error", err)
			return
		}
		log.Debug("watched file indexed", "file_id", file.ID)
	}
}

func (uc *WatchUseCase) replace(ctx context.Context, path string) (*entities.File, error) {
	up, err := uc.loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := uc.forget(ctx, path); err != nil {
		return nil, err
	}
	file, err := uc.ingest.Ingest(ctx, *up)
	if file != nil {
		uc.mu.Lock()
		uc.byPath[path] = file.ID
		uc.mu.Unlock()
	}
	return file, err
}

func (uc *WatchUseCase) forget(ctx context.Context, path string) error {
	uc.mu.Lock()
	id, ok := uc.byPath[path]
	delete(uc.byPath, path)
	uc.mu.Unlock()
	if !ok {
		return nil
	}
	err := uc.ingest.Delete(ctx, id)
	if errors.Is(err, entities.ErrNotFound) {
		return nil
	}
	return err
}

// restore rebuilds the path index from files ingested by earlier runs.
func (uc *WatchUseCase) restore(ctx context.Context) error {
	files, err := uc.ingest.Files(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for _, f := range files {
		if f.SourcePath != "" {
			uc.byPath[f.SourcePath] = f.ID
		}
	}
	return nil
}

func (uc *WatchUseCase) scan(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	supported := make(map[string]bool)
	for _, ext := range uc.ingest.SupportedFormats() {
		supported[ext] = true
	}
	for _, e := range entries {
		if e.IsDir() || !supported[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		uc.mu.Lock()
		_, known := uc.byPath[path]
		uc.mu.Unlock()
		if known {
			continue
		}
		uc.Handle(ctx, ports.FileEvent{Path: path, Operation: ports.FileCreated})
	}
	return nil
}
