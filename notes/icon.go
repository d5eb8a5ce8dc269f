// CLAUDE:SUMMARY Builds the sticky-note icon appearance: embedded PNG decoded into RGB + SMask image XObjects wrapped in a form.
package notes

import (
	"bytes"
	_ "embed"
	"fmt"
	"image/color"
	"image/png"

	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

//go:embed icon.png
var iconPNG []byte

// buildIconXObject registers the icon as a form XObject: an RGB image
// with a soft mask for transparency, wrapped in a transform that maps
// the image into the form's bounding box with PDF's bottom-left origin.
func buildIconXObject(ctx *model.Context) (*types.IndirectRef, error) {
	img, err := png.Decode(bytes.NewReader(iconPNG))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb = append(rgb, c.R, c.G, c.B)
			alpha = append(alpha, c.A)
		}
	}

	maskRef, err := newImageStream(ctx, types.Dict{
		"Type":             types.Name("XObject"),
		"Subtype":          types.Name("Image"),
		"Width":            types.Integer(w),
		"Height":           types.Integer(h),
		"ColorSpace":       types.Name("DeviceGray"),
		"BitsPerComponent": types.Integer(8),
	}, alpha)
	if err != nil {
		return nil, fmt.Errorf("icon mask: %w", err)
	}

	imgRef, err := newImageStream(ctx, types.Dict{
		"Type":             types.Name("XObject"),
		"Subtype":          types.Name("Image"),
		"Width":            types.Integer(w),
		"Height":           types.Integer(h),
		"ColorSpace":       types.Name("DeviceRGB"),
		"BitsPerComponent": types.Integer(8),
		"SMask":            *maskRef,
	}, rgb)
	if err != nil {
		return nil, fmt.Errorf("icon image: %w", err)
	}

	content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", w, h)
	return newImageStream(ctx, types.Dict{
		"Type":      types.Name("XObject"),
		"Subtype":   types.Name("Form"),
		"BBox":      types.NewNumberArray(0, 0, float64(w), float64(h)),
		"Resources": types.Dict{"XObject": types.Dict{"Im0": *imgRef}},
	}, []byte(content))
}

func newImageStream(ctx *model.Context, d types.Dict, content []byte) (*types.IndirectRef, error) {
	sd := types.StreamDict{
		Dict:           d,
		Content:        content,
		FilterPipeline: []types.PDFFilter{{Name: filter.Flate}},
	}
	sd.InsertName("Filter", filter.Flate)
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return ctx.IndRefForNewObject(sd)
}
