// Package ingest loads patient reports and helpbook PDFs, splits them into
// overlapping chunks with provenance metadata and hands them to an index.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document has no extractable text")
)

// Format enumerates supported document formats.
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatText    Format = "text"
)

// DetectFormat infers a document format from the file name's extension.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".txt", ".md", ".markdown":
		return FormatText
	default:
		return FormatUnknown
	}
}

// Document is one loaded unit of text: a PDF page or a whole text file.
type Document struct {
	Content string
	// Source is the base file name
	Source string
	// Page is zero-based; always 0 for text files
	Page int
}

// LoadFile reads and parses the file at path.
func LoadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Load(filepath.Base(path), data)
}

// Load parses raw file bytes according to the name's extension. PDFs yield
// one document per page with text; text files yield a single document.
func Load(name string, data []byte) ([]Document, error) {
	source := filepath.Base(name)

	var docs []Document
	switch DetectFormat(name) {
	case FormatPDF:
		pages, err := loadPDF(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		for i, text := range pages {
			if strings.TrimSpace(text) == "" {
				continue
			}
			docs = append(docs, Document{Content: text, Source: source, Page: i})
		}
	case FormatText:
		text := normalizeText(string(bytes.ToValidUTF8(data, nil)))
		if strings.TrimSpace(text) != "" {
			docs = append(docs, Document{Content: text, Source: source})
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, source)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}
	return docs, nil
}

// loadPDF returns the plain text of every page, indexed from zero.
func loadPDF(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages[i-1] = normalizeText(text)
	}
	return pages, nil
}

func normalizeText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
