package entities

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell user-correctable input
// problems apart from backend outages.
type ErrorKind string

const (
	KindUnsupportedFormat  ErrorKind = "unsupported_format"
	KindCorruptDocument    ErrorKind = "corrupt_document"
	KindEmptyDocument      ErrorKind = "empty_document"
	KindModelUnavailable   ErrorKind = "model_unavailable"
	KindSynthesisBackend   ErrorKind = "synthesis_backend_error"
	KindNoDocumentsIndexed ErrorKind = "no_documents_indexed"
	KindStoreIntegrity     ErrorKind = "store_integrity"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidInput       ErrorKind = "invalid_input"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ErrCorruptDocument    = &Error{Kind: KindCorruptDocument}
	ErrEmptyDocument      = &Error{Kind: KindEmptyDocument}
	ErrModelUnavailable   = &Error{Kind: KindModelUnavailable}
	ErrSynthesisBackend   = &Error{Kind: KindSynthesisBackend}
	ErrNoDocumentsIndexed = &Error{Kind: KindNoDocumentsIndexed}
	ErrStoreIntegrity     = &Error{Kind: KindStoreIntegrity}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// Error is a classified domain error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error. A nil err still yields an error carrying the kind.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Transient reports whether the error comes from a backend that may recover,
// so the caller can retry with backoff.
func (k ErrorKind) Transient() bool {
	return k == KindModelUnavailable || k == KindSynthesisBackend
}
