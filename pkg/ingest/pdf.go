package ingest

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pageText struct {
	number int // 1-based
	text   string
}

// extractPages reads every page of the PDF. When the primary plain-text
// extraction yields nothing for a page, it retries with row-level
// extraction before giving up on that page.
func extractPages(path string) (pages []pageText, err error) {
	// The parser panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := reader.NumPage()
	for number := 1; number <= total; number++ {
		page := reader.Page(number)
		if page.V.IsNull() {
			pages = append(pages, pageText{number: number})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil || strings.TrimSpace(text) == "" {
			text = extractByRows(page, number)
		}

		pages = append(pages, pageText{number: number, text: strings.TrimSpace(text)})
	}

	return pages, nil
}

// extractByRows is the block-level fallback: words grouped per visual row,
// rows joined top to bottom.
func extractByRows(page pdf.Page, number int) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		slog.Debug("Row-level extraction failed", "page", number, "error", err)
		return ""
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, word := range row.Content {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(word.S)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
