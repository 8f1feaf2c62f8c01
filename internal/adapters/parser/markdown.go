package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// MarkdownExtractor renders Markdown to plain text. Each block (paragraph,
// heading, list item, code block) becomes one paragraph; inline markup is
// dropped.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", entities.Errorf(entities.KindCorruptDocument, "parse markdown", "content is not valid UTF-8")
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var blocks []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindParagraph, ast.KindHeading, ast.KindTextBlock:
			var sb strings.Builder
			inlineText(&sb, n, data)
			blocks = append(blocks, sb.String())
			return ast.WalkSkipChildren, nil
		case ast.KindCodeBlock, ast.KindFencedCodeBlock:
			blocks = append(blocks, string(linesOf(n, data)))
			return ast.WalkSkipChildren, nil
		case ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(blocks, "\n\n"), nil
}

func inlineText(sb *strings.Builder, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			switch {
			case v.HardLineBreak():
				sb.WriteByte('\n')
			case v.SoftLineBreak():
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		case *ast.AutoLink:
			sb.Write(v.Label(src))
		case *ast.RawHTML:
		default:
			inlineText(sb, c, src)
		}
	}
}

func linesOf(n ast.Node, src []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
