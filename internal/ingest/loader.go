package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// maxChapterLineLen bounds the length of a line accepted as a chapter heading.
const maxChapterLineLen = 100

// Loader reads long-form source material and chunks it page by page.
type Loader struct {
	splitter *Splitter
}

// NewLoader creates a loader that chunks with the given splitter.
func NewLoader(splitter *Splitter) *Loader {
	if splitter == nil {
		splitter = NewSplitter()
	}
	return &Loader{splitter: splitter}
}

// LoadAndChunkSource reads a PDF (one page per PDF page) or a text file
// (pages separated by form feeds) and returns its chunks with page and chapter metadata.
// A missing path yields an error wrapping port.ErrSourceNotFound.
func (l *Loader) LoadAndChunkSource(path string) ([]domain.Chunk, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load source %s: %w", path, port.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	var (
		pages []string
		err   error
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err = readPDFPages(path)
	} else {
		pages, err = readTextPages(path)
	}
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	for i, page := range pages {
		pageNumber := i + 1
		chapter := detectChapter(page)

		for _, text := range l.splitter.Split(page) {
			meta := domain.ChunkMetadata{
				Source:     path,
				PageNumber: &pageNumber,
			}
			if chapter != "" {
				ch := chapter
				meta.Chapter = &ch
			}
			chunks = append(chunks, domain.Chunk{Text: text, Metadata: meta})
		}
	}

	slog.Info("source chunked", "path", path, "pages", len(pages), "chunks", len(chunks))
	return chunks, nil
}

// detectChapter returns the first short line mentioning a chapter, or "".
func detectChapter(page string) string {
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) >= maxChapterLineLen {
			continue
		}
		if strings.Contains(strings.ToLower(line), "chapter") {
			return line
		}
	}
	return ""
}

func readTextPages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return strings.Split(string(data), "\f"), nil
}

func readPDFPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf page text extraction failed", "path", path, "page", i, "error", err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
