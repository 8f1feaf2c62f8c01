// Package filewatcher provides file system monitoring adapters.
// Clean Architecture: Adapter implementing ports.FileWatcher.
package filewatcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// DefaultDebounce is how long a path must be quiet before its change is reported.
const DefaultDebounce = 300 * time.Millisecond

// FSNotifyWatcher implements ports.FileWatcher using fsnotify.
//
// Bursts of create/write notifications for one path are coalesced into a
// single event once the path has been quiet for the debounce interval.
// Removals are reported immediately and cancel any pending change.
type FSNotifyWatcher struct {
	watcher    *fsnotify.Watcher
	extensions map[string]bool // lower-case, with leading dot
	debounce   time.Duration
	log        *logger.Logger
	stopOnce   sync.Once
}

// NewFSNotifyWatcher creates a watcher that reports only files whose
// extension is in extensions. A non-positive debounce selects DefaultDebounce.
func NewFSNotifyWatcher(extensions []string, debounce time.Duration, log *logger.Logger) (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if len(extensions) == 0 {
		extensions = []string{".pdf", ".txt", ".md"}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.Nop()
	}

	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	return &FSNotifyWatcher{
		watcher:    w,
		extensions: exts,
		debounce:   debounce,
		log:        log.With("component", "filewatcher"),
	}, nil
}

// pending is a change waiting for its path to go quiet.
type pending struct {
	op       ports.FileOperation
	deadline time.Time
}

// Watch starts monitoring dir and emits events.
// The channel is closed when ctx is done or the watcher is stopped.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan ports.FileEvent, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	out := make(chan ports.FileEvent, 100)
	go w.loop(ctx, out)
	return out, nil
}

func (w *FSNotifyWatcher) loop(ctx context.Context, out chan<- ports.FileEvent) {
	defer close(out)

	queue := make(map[string]*pending)
	tick := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer tick.Stop()

	emit := func(ev ports.FileEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.extensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			op, ok := operation(event.Op)
			if !ok {
				continue
			}
			if op == ports.FileDeleted {
				delete(queue, event.Name)
				if !emit(ports.FileEvent{Path: event.Name, Operation: op}) {
					return
				}
				continue
			}
			if p, seen := queue[event.Name]; seen {
				// a create followed by writes is still a create
				p.deadline = time.Now().Add(w.debounce)
				continue
			}
			queue[event.Name] = &pending{op: op, deadline: time.Now().Add(w.debounce)}

		case now := <-tick.C:
			for path, p := range queue {
				if now.Before(p.deadline) {
					continue
				}
				delete(queue, path)
				if !emit(ports.FileEvent{Path: path, Operation: p.op}) {
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// operation maps an fsnotify op onto a file operation. A rename is the
// removal of the old name; the new name arrives as a create.
func operation(op fsnotify.Op) (ports.FileOperation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return ports.FileCreated, true
	case op.Has(fsnotify.Write):
		return ports.FileModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ports.FileDeleted, true
	}
	return 0, false
}

// Stop stops the watcher. It is safe to call more than once.
func (w *FSNotifyWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() { err = w.watcher.Close() })
	return err
}

// Extensions returns the watched extensions.
func (w *FSNotifyWatcher) Extensions() []string {
	out := make([]string, 0, len(w.extensions))
	for e := range w.extensions {
		out = append(out, e)
	}
	return out
}
