// Package parser provides document parsing adapters.
// Adapter implementing ports.DocumentParser: a registry that dispatches on
// content type, then on file extension, to one extractor per format.
package parser

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// Extractor turns the raw bytes of one format into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Content types of the built-in formats.
const (
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypePDF      = "application/pdf"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Registry implements ports.DocumentParser.
type Registry struct {
	byType map[string]Extractor
	byExt  map[string]Extractor
	types  map[string]string // extension -> content type

	pdfService *PDFService
}

// Options configures the default registry.
type Options struct {
	// PDFServiceURL, when set, sends PDFs to an external extraction service
	// first and falls back to the built-in reader if it fails.
	PDFServiceURL string
	// MaxDOCXBytes bounds the decompressed document part of a DOCX.
	MaxDOCXBytes  int64
	Log           *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]Extractor),
		byExt:  make(map[string]Extractor),
		types:  make(map[string]string),
	}
}

// NewDefault registers text, markdown, PDF and DOCX.
func NewDefault(opts Options) *Registry {
	r := NewRegistry()
	r.Register(TextExtractor{}, []string{TypeText}, ".txt", ".text")
	r.Register(MarkdownExtractor{}, []string{TypeMarkdown, "text/x-markdown"}, ".md", ".markdown")
	r.Register(DOCXExtractor{MaxXMLBytes: opts.MaxDOCXBytes}, []string{TypeDOCX}, ".docx")

	var pdf Extractor = PDFExtractor{}
	if opts.PDFServiceURL != "" {
		r.pdfService = NewPDFService(opts.PDFServiceURL)
		pdf = &fallback{
			primary:   r.pdfService,
			secondary: pdf,
			log:       opts.Log,
		}
	}
	r.Register(pdf, []string{TypePDF}, ".pdf")
	return r
}

// Register binds an extractor to content types and extensions. The first
// content type is reported by ContentTypeFor.
func (r *Registry) Register(e Extractor, contentTypes []string, exts ...string) {
	for _, ct := range contentTypes {
		r.byType[ct] = e
	}
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		r.byExt[ext] = e
		if len(contentTypes) > 0 {
			r.types[ext] = contentTypes[0]
		}
	}
}

// Parse extracts normalized text. Paragraphs are separated by one blank line.
func (r *Registry) Parse(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	e, ok := r.lookup(contentType, filename)
	if !ok {
		return "", entities.Errorf(entities.KindUnsupportedFormat, "parse",
			"no parser for %q (content type %q)", filename, contentType)
	}
	text, err := e.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if entities.KindOf(err) == "" {
			err = entities.E(entities.KindCorruptDocument, "parse "+filename, err)
		}
		return "", err
	}
	return Normalize(text), nil
}

func (r *Registry) lookup(contentType, filename string) (Extractor, bool) {
	if ct := mediaType(contentType); ct != "" {
		if e, ok := r.byType[ct]; ok {
			return e, true
		}
	}
	e, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return e, ok
}

// PDFServiceHealthy reports whether a PDF service is configured and, if so,
// whether it answers its health check.
func (r *Registry) PDFServiceHealthy(ctx context.Context) (configured, healthy bool) {
	if r.pdfService == nil {
		return false, false
	}
	return true, r.pdfService.Healthy(ctx)
}

// ContentTypeFor returns the registered content type for filename's extension.
func (r *Registry) ContentTypeFor(filename string) string {
	return r.types[strings.ToLower(filepath.Ext(filename))]
}

// SupportedFormats returns the registered extensions, sorted.
func (r *Registry) SupportedFormats() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// fallback tries primary and, on any error, secondary.
type fallback struct {
	primary   Extractor
	secondary Extractor
	log       *logger.Logger
}

func (f *fallback) Extract(ctx context.Context, data []byte) (string, error) {
	text, err := f.primary.Extract(ctx, data)
	if err == nil {
		return text, nil
	}
	if f.log != nil {
		f.log.Warn("primary extractor failed, using fallback", "error", err)
	}
	text, err2 := f.secondary.Extract(ctx, data)
	if err2 != nil {
		return "", fmt.Errorf("%w (primary: %v)", err2, err)
	}
	return text, nil
}
