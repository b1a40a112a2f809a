package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultMaxPages bounds how much of a PDF is read
const DefaultMaxPages = 50

// ErrUnsupportedType is returned for uploads that are neither PDF nor text
var ErrUnsupportedType = errors.New("unsupported file type")

// ErrEmptyDocument is returned when an upload yields no text
var ErrEmptyDocument = errors.New("document contains no text")

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".vtt":      true,
	".srt":      true,
	".log":      true,
}

// Extractor turns uploaded files into raw text for inference
type Extractor struct {
	maxPages int
	logger   *zap.Logger
}

// NewExtractor creates an extractor reading at most maxPages PDF pages
func NewExtractor(maxPages int, logger *zap.Logger) *Extractor {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Extractor{
		maxPages: maxPages,
		logger:   logger,
	}
}

// Extract returns the text of an uploaded file. PDFs are read page by page
// with mupdf; caption files lose their timing and cue lines; other
// plain-text formats are returned as is.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return e.extractPDF(ctx, filename, data)
	case textExtensions[ext]:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedType, filename)
		}
		text := string(data)
		if ext == ".vtt" || ext == ".srt" {
			text = stripCaptions(text)
		}
		if text = strings.TrimSpace(text); text == "" {
			return "", ErrEmptyDocument
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount > e.maxPages {
		e.logger.Warn("PDF truncated to page limit",
			zap.String("file", filename),
			zap.Int("total_pages", pageCount),
			zap.Int("max_pages", e.maxPages))
		pageCount = e.maxPages
	}

	pages := make([]string, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			e.logger.Warn("Failed to extract page text",
				zap.String("file", filename),
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", ErrEmptyDocument
	}

	e.logger.Debug("Extracted PDF text",
		zap.String("file", filename),
		zap.Int("pages", len(pages)))

	// Blank line between pages keeps page breaks as paragraph breaks
	return strings.Join(pages, "\n\n"), nil
}
