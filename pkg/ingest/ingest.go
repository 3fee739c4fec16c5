package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Chunk is one extracted text fragment with its position in the document.
type Chunk struct {
	Text         string `json:"text"`
	Filename     string `json:"filename"`
	PageNumber   int    `json:"page_number"`   // 1-based
	SectionIndex int    `json:"section_index"` // 0-based within the page
	SectionTitle string `json:"section_title,omitempty"`
}

type InvalidDocumentError struct {
	Path string
	Err  error
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid document %s: %v", e.Path, e.Err)
}

func (e *InvalidDocumentError) Unwrap() error {
	return e.Err
}

type EmptyExtractionError struct {
	Path string
}

func (e *EmptyExtractionError) Error() string {
	return fmt.Sprintf("no extractable text in %s", e.Path)
}

// Ingestor turns PDF files into ordered chunk sequences.
type Ingestor struct {
	chunkChars   int
	chunkOverlap int
}

type Opt func(*Ingestor)

func WithChunkSize(chars int) Opt {
	return func(i *Ingestor) {
		if chars > 0 {
			i.chunkChars = chars
		}
	}
}

func WithChunkOverlap(overlap int) Opt {
	return func(i *Ingestor) {
		if overlap >= 0 {
			i.chunkOverlap = overlap
		}
	}
}

func New(opts ...Opt) *Ingestor {
	ingestor := &Ingestor{
		chunkChars:   800,
		chunkOverlap: 100,
	}
	for _, opt := range opts {
		opt(ingestor)
	}
	if ingestor.chunkOverlap >= ingestor.chunkChars {
		ingestor.chunkOverlap = ingestor.chunkChars / 2
	}
	return ingestor
}

// Ingest extracts and chunks every page of the PDF at path. Pages that
// yield no text even after block-level retry are skipped; a document with
// zero chunks overall fails with EmptyExtractionError.
func (i *Ingestor) Ingest(ctx context.Context, path string) ([]Chunk, error) {
	pages, err := extractPages(path)
	if err != nil {
		return nil, &InvalidDocumentError{Path: path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := i.chunkPages(filepath.Base(path), pages)
	if len(chunks) == 0 {
		return nil, &EmptyExtractionError{Path: path}
	}

	return chunks, nil
}

// chunkPages turns extracted page texts into the ordered chunk sequence.
func (i *Ingestor) chunkPages(filename string, pages []pageText) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		if page.text == "" {
			slog.Debug("Skipping page with no extractable text", "file", filename, "page", page.number)
			continue
		}

		section := 0
		for _, para := range splitParagraphs(page.text) {
			title := sectionTitle(para)
			for _, text := range chunkText(para, i.chunkChars, i.chunkOverlap) {
				chunks = append(chunks, Chunk{
					Text:         text,
					Filename:     filename,
					PageNumber:   page.number,
					SectionIndex: section,
					SectionTitle: title,
				})
				section++
			}
		}
	}
	return chunks
}

// PageText extracts the raw text of a single 1-based page.
func (i *Ingestor) PageText(_ context.Context, path string, pageNumber int) (string, error) {
	if pageNumber < 1 {
		return "", &InvalidDocumentError{Path: path, Err: fmt.Errorf("page number must be >= 1, got %d", pageNumber)}
	}

	pages, err := extractPages(path)
	if err != nil {
		return "", &InvalidDocumentError{Path: path, Err: err}
	}

	for _, page := range pages {
		if page.number == pageNumber {
			return page.text, nil
		}
	}

	return "", &InvalidDocumentError{Path: path, Err: fmt.Errorf("page %d out of range", pageNumber)}
}

// FileText extracts the raw text of the whole document, pages joined in
// order. Text-free pages contribute nothing.
func (i *Ingestor) FileText(_ context.Context, path string) (string, error) {
	pages, err := extractPages(path)
	if err != nil {
		return "", &InvalidDocumentError{Path: path, Err: err}
	}

	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if page.text == "" {
			continue
		}
		parts = append(parts, page.text)
	}

	return strings.Join(parts, "\n\n"), nil
}

