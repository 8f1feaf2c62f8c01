package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// DefaultMaxDOCXBytes caps the decompressed size of word/document.xml.
const DefaultMaxDOCXBytes = 64 << 20

// DOCXExtractor reads the paragraphs of word/document.xml. MaxXMLBytes
// bounds the decompressed part; zero selects DefaultMaxDOCXBytes.
type DOCXExtractor struct {
	MaxXMLBytes int64
}

func (x DOCXExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", entities.E(entities.KindCorruptDocument, "parse docx", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", entities.Errorf(entities.KindCorruptDocument, "parse docx", "word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", entities.E(entities.KindCorruptDocument, "parse docx", err)
	}
	defer rc.Close()

	limit := x.MaxXMLBytes
	if limit <= 0 {
		limit = DefaultMaxDOCXBytes
	}
	lr := &io.LimitedReader{R: rc, N: limit + 1}
	text, err := docxText(lr)
	if lr.N <= 0 {
		return "", entities.Errorf(entities.KindCorruptDocument, "parse docx", "word/document.xml exceeds %d bytes", limit)
	}
	if err != nil {
		return "", entities.E(entities.KindCorruptDocument, "parse docx", err)
	}
	return text, nil
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var cur strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decoding document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		paragraphs = append(paragraphs, cur.String())
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
