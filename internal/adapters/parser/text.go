package parser

import (
	"context"
	"unicode/utf8"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// TextExtractor reads UTF-8 plain text.
type TextExtractor struct{}

func (TextExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", entities.Errorf(entities.KindCorruptDocument, "parse text", "content is not valid UTF-8")
	}
	return string(data), nil
}
