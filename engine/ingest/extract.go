package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the text of one source page. Plain-text documents are a single
// page.
type Page struct {
	Number int
	Text   string
}

// ExtractText reads the document at path and returns its text per page.
// PDFs are parsed page by page; anything else is read as plain text.
func ExtractText(path string) ([]Page, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}

func extractPDF(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not lose the document.
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// joinPages concatenates page texts, used by the whole-document fallback.
func joinPages(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}
