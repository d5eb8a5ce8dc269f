// CLAUDE:SUMMARY Per-image render orchestration: resolve dimensions, rasterize via the backend, crop, splice results back into the tree.
// Package svgproc normalizes embedded vector content in an HTML tree.
// Top-level inline SVGs become data-URI images, data-URI SVG and VSDX
// payloads are rasterized through a render backend, and the resulting
// PNGs are spliced back into the originating nodes. Every failure is
// per-image: a document never fails because one image could not be
// converted, unless strict mode says otherwise.
package svgproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/net/html"

	"github.com/hazyhaar/printpipe/browser"
	"github.com/hazyhaar/printpipe/markup"
)

// Renderer rasterizes content at an exact viewport size.
type Renderer interface {
	ConvertToPNG(ctx context.Context, req browser.Request) ([]byte, error)
}

// DiagramConverter converts VSDX archives to PNG. Available is probed
// once by the implementation and cached for the process lifetime.
type DiagramConverter interface {
	Available() bool
	ToPNG(ctx context.Context, data []byte) ([]byte, error)
}

// Config configures the image pipeline.
type Config struct {
	// HeightAdjustPx is extra render height compensating for bottom-edge
	// clipping in the screenshot path; the excess is cropped off the
	// result. Range [0, 1000], default 100.
	HeightAdjustPx int

	// ScaleFactor mirrors the backend's device scale factor so the crop
	// math operates in physical pixels. Default 1.0.
	ScaleFactor float64

	// Strict makes a failed image conversion fail the whole document.
	// Default is best effort: log, keep the original node, continue.
	Strict bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HeightAdjustPx == 0 {
		c.HeightAdjustPx = 100
	}
	if c.HeightAdjustPx < 0 || c.HeightAdjustPx > 1000 {
		c.Logger.Warn("svgproc: height adjust out of range, using default",
			"value", c.HeightAdjustPx)
		c.HeightAdjustPx = 100
	}
	if c.ScaleFactor <= 0 {
		c.ScaleFactor = 1.0
	}
}

// Stats counts what one Process pass did.
type Stats struct {
	InlineReplaced int
	Scanned        int
	Converted      int
	Skipped        int
	Failed         int
}

// Processor runs the image pipeline over parsed documents.
type Processor struct {
	cfg      Config
	renderer Renderer
	diagrams DiagramConverter
}

// New creates a Processor. diagrams may be nil when no office-suite
// converter exists in the deployment; VSDX payloads are then skipped.
func New(cfg Config, r Renderer, diagrams DiagramConverter) *Processor {
	cfg.defaults()
	return &Processor{cfg: cfg, renderer: r, diagrams: diagrams}
}

// Process rewrites every convertible image in doc. Inline SVGs are first
// normalized to data URIs so a single scan covers both forms.
func (p *Processor) Process(ctx context.Context, doc *markup.Document) (Stats, error) {
	var st Stats

	n, err := ReplaceInlineSVGs(doc)
	if err != nil {
		return st, fmt.Errorf("svgproc: inline replacement: %w", err)
	}
	st.InlineReplaced = n

	images := ScanDataURIImages(doc)
	st.Scanned = len(images)

	for _, img := range images {
		if err := p.processOne(ctx, img); err != nil {
			if errors.Is(err, errSkipped) {
				st.Skipped++
				continue
			}
			st.Failed++
			if p.cfg.Strict {
				return st, fmt.Errorf("svgproc: %s image: %w", img.ContentType, err)
			}
			p.cfg.Logger.Warn("svgproc: image conversion failed, keeping original",
				"content_type", img.ContentType, "error", err)
			continue
		}
		st.Converted++
	}
	return st, nil
}

// errSkipped marks a non-error skip (unavailable converter, unchanged
// output) so stats can separate skips from failures.
var errSkipped = errors.New("svgproc: skipped")

func (p *Processor) processOne(ctx context.Context, img Image) error {
	if img.IsDiagram() {
		return p.processDiagram(ctx, img)
	}
	return p.processSVG(ctx, img)
}

func (p *Processor) processDiagram(ctx context.Context, img Image) error {
	if p.diagrams == nil || !p.diagrams.Available() {
		return errSkipped
	}
	png, err := p.diagrams.ToPNG(ctx, img.Payload)
	if err != nil {
		return err
	}
	markup.SetAttr(img.Node, "src",
		"data:image/png;base64,"+base64.StdEncoding.EncodeToString(png))
	return nil
}

func (p *Processor) processSVG(ctx context.Context, img Image) error {
	dims, svg, err := ResolveDimensions(img.Payload)
	if err != nil {
		return err
	}

	png, err := p.renderer.ConvertToPNG(ctx, browser.Request{
		Content: svg,
		Width:   dims.Width,
		Height:  dims.Height + p.cfg.HeightAdjustPx,
	})
	if err != nil {
		return err
	}

	if p.cfg.HeightAdjustPx > 0 {
		png, err = p.cropBottom(png)
		if err != nil {
			return fmt.Errorf("crop: %w", err)
		}
	}

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	if src, _ := markup.Attr(img.Node, "src"); src == uri {
		// Backend produced a byte-identical result; nothing to splice.
		return errSkipped
	}

	markup.SetAttr(img.Node, "src", uri)
	p.propagateWidth(img.Node, dims.Width)
	return nil
}

// cropBottom removes the extra render height, scaled to physical pixels.
func (p *Processor) cropBottom(png []byte) ([]byte, error) {
	im, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	b := im.Bounds()
	cut := int(math.Round(float64(p.cfg.HeightAdjustPx) * p.cfg.ScaleFactor))
	if cut <= 0 || cut >= b.Dy() {
		return png, nil
	}
	cropped := imaging.Crop(im, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Max.Y-cut))
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// propagateWidth pins the resolved width on the image node so the PDF
// layout keeps the original vector size instead of the raster's.
func (p *Processor) propagateWidth(n *html.Node, width int) {
	markup.SetAttr(n, "width", strconv.Itoa(width))
	widthDecl := fmt.Sprintf("width: %dpx", width)
	if style, ok := markup.Attr(n, "style"); ok && strings.TrimSpace(style) != "" {
		markup.SetAttr(n, "style", strings.TrimRight(strings.TrimSpace(style), ";")+"; "+widthDecl)
	} else {
		markup.SetAttr(n, "style", widthDecl)
	}
}
