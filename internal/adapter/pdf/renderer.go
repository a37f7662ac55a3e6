package pdf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// Renderer stamps field overlays into the source PDF using pdfcpu watermarks.
// Overlays arrive in a canonical order with absolute point coordinates, so the
// same plan always produces the same stamp sequence.
type Renderer struct {
	conf *model.Configuration
}

// NewRenderer creates a pdfcpu-backed renderer
func NewRenderer() *Renderer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Renderer{conf: conf}
}

// Render merges overlays into the source PDF and returns the final bytes
func (r *Renderer) Render(ctx context.Context, source []byte, overlays []ports.Overlay) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byPage := make(map[int][]*model.Watermark)
	for _, o := range overlays {
		wm, err := r.watermark(o)
		if err != nil {
			return nil, err
		}
		if wm == nil {
			continue
		}
		byPage[o.Page+1] = append(byPage[o.Page+1], wm)
	}

	if len(byPage) == 0 {
		return append([]byte(nil), source...), nil
	}

	var buf bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(source), &buf, byPage, r.conf); err != nil {
		return nil, fmt.Errorf("failed to stamp overlays: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) watermark(o ports.Overlay) (*model.Watermark, error) {
	switch o.Kind {
	case domain.FieldTypeSignature, domain.FieldTypeInitialMark:
		if len(o.Image) == 0 {
			return nil, fmt.Errorf("%s overlay has no image", o.Kind)
		}
		wm, err := api.ImageWatermarkForReader(bytes.NewReader(o.Image), r.imageDesc(o), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s overlay: %w", o.Kind, err)
		}
		return wm, nil

	case domain.FieldTypeText, domain.FieldTypeDate:
		if o.Text == "" {
			return nil, nil
		}
		wm, err := api.TextWatermark(o.Text, r.textDesc(o), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s overlay: %w", o.Kind, err)
		}
		return wm, nil

	case domain.FieldTypeCheckbox:
		if o.Text == "" {
			return nil, nil
		}
		wm, err := api.TextWatermark("X", r.textDesc(o), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("failed to build checkbox overlay: %w", err)
		}
		return wm, nil

	default:
		return nil, fmt.Errorf("unknown overlay kind %q", o.Kind)
	}
}

// textDesc anchors the stamp at the bottom-left corner of the field box and
// sizes the font to the box height
func (r *Renderer) textDesc(o ports.Overlay) string {
	points := int(o.Height * 0.8)
	if points < 6 {
		points = 6
	}
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, points:%d, scale:1 abs, rot:0, op:1, fillc:#000000",
		o.X, o.Y, points)
}

func (r *Renderer) imageDesc(o ports.Overlay) string {
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:1 abs, rot:0, op:1", o.X, o.Y)
}

var _ ports.Renderer = (*Renderer)(nil)
