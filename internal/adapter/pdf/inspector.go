// Package pdf implements the page inspector and renderer ports on real PDF
// libraries: digitorus/pdf for reading page geometry, pdfcpu for stamping
// field overlays into the final document.
package pdf

import (
	"bytes"
	"fmt"

	pdflib "github.com/digitorus/pdf"

	"github.com/signato/signato/internal/ports"
)

// Inspector reads page count and MediaBox geometry from PDF bytes
type Inspector struct {
	// PageLimit rejects sources with more pages; zero means no limit
	PageLimit int
}

// NewInspector creates a PDF inspector
func NewInspector(pageLimit int) *Inspector {
	return &Inspector{PageLimit: pageLimit}
}

// Inspect parses the PDF and returns its page dimensions in points
func (i *Inspector) Inspect(data []byte) (info *ports.PDFInfo, err error) {
	// the underlying parser panics on malformed structures
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	n := reader.NumPage()
	if n < 1 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if i.PageLimit > 0 && n > i.PageLimit {
		return nil, fmt.Errorf("PDF has %d pages, limit is %d", n, i.PageLimit)
	}

	pages := make([]ports.PageSize, 0, n)
	for p := 1; p <= n; p++ {
		box := mediaBox(reader.Page(p).V)
		if box.IsNull() || box.Len() < 4 {
			return nil, fmt.Errorf("page %d has no MediaBox", p)
		}
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("page %d has degenerate MediaBox", p)
		}
		pages = append(pages, ports.PageSize{Width: w, Height: h})
	}

	return &ports.PDFInfo{PageCount: n, Pages: pages}, nil
}

// mediaBox resolves the MediaBox for a page, walking up the page tree since
// the entry is inheritable
func mediaBox(v pdflib.Value) pdflib.Value {
	for !v.IsNull() {
		if box := v.Key("MediaBox"); !box.IsNull() {
			return box
		}
		v = v.Key("Parent")
	}
	return pdflib.Value{}
}

var _ ports.PageInspector = (*Inspector)(nil)
