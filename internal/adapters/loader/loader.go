// Package loader provides document loading adapters.
package loader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// ContentTyper maps a file name onto a registered content type.
// The parser registry implements it.
type ContentTyper interface {
	ContentTypeFor(filename string) string
}

// DiskLoader reads local files into uploads for the ingestion pipeline.
type DiskLoader struct {
	types    ContentTyper
	maxBytes int64
}

// NewDiskLoader creates a loader. types may be nil; maxBytes <= 0 disables
// the size check.
func NewDiskLoader(types ContentTyper, maxBytes int64) *DiskLoader {
	return &DiskLoader{types: types, maxBytes: maxBytes}
}

// Load reads the document at path.
func (l *DiskLoader) Load(ctx context.Context, path string) (*entities.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	file, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, entities.E(entities.KindNotFound, "load", err)
		}
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, entities.Errorf(entities.KindInvalidInput, "load", "%s is not a regular file", path)
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return nil, entities.Errorf(entities.KindInvalidInput, "load", "%s is %d bytes, limit is %d", path, info.Size(), l.maxBytes)
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &entities.Upload{
		Name:        filepath.Base(abs),
		ContentType: l.contentType(abs, content),
		Data:        content,
		SourcePath:  abs,
	}, nil
}

// contentType prefers the registry, then the system mime table, then sniffing.
func (l *DiskLoader) contentType(path string, content []byte) string {
	if l.types != nil {
		if ct := l.types.ContentTypeFor(path); ct != "" {
			return ct
		}
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
