package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/signato/signato/internal/ports"
)

// Inspector is a ports.PageInspector with a fixed page layout, for tests and
// dev mode where no real PDF parsing is wanted
type Inspector struct {
	Info ports.PDFInfo
}

// NewInspector creates an inspector reporting pages US Letter pages in points
func NewInspector(pageCount int) *Inspector {
	pages := make([]ports.PageSize, pageCount)
	for i := range pages {
		pages[i] = ports.PageSize{Width: 612, Height: 792}
	}
	return &Inspector{Info: ports.PDFInfo{PageCount: pageCount, Pages: pages}}
}

func (i *Inspector) Inspect(data []byte) (*ports.PDFInfo, error) {
	info := i.Info
	return &info, nil
}

// Renderer is a deterministic ports.Renderer: it serializes the overlay plan
// into a canonical trailer appended to the source bytes. Identical inputs
// always produce identical output, which the composition retry tests rely on.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(ctx context.Context, source []byte, overlays []ports.Overlay) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(source)
	for _, o := range overlays {
		imageSum := sha256.Sum256(o.Image)
		fmt.Fprintf(&buf, "\n%%overlay p=%d x=%.4f y=%.4f w=%.4f h=%.4f kind=%s text=%q img=%x",
			o.Page, o.X, o.Y, o.Width, o.Height, o.Kind, o.Text, imageSum[:8])
	}
	return buf.Bytes(), nil
}
