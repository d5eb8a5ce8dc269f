// CLAUDE:SUMMARY HTML to PDF through headless Chrome print-to-PDF, with post-hoc attachment embedding via pdfcpu.
// Package engine renders serialized HTML to PDF. Chrome's print-to-PDF
// converts <a href> elements into /Link annotations with /URI actions,
// which the note post-processor depends on; file:// targets become
// clickable links to the embedded files. Files themselves are embedded
// after printing, Chrome cannot attach them.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrRender is returned when the print-to-PDF call fails.
var ErrRender = errors.New("engine: render failed")

// Config configures the PDF engine.
type Config struct {
	// Bin is the Chrome executable path. Empty = rod launcher default.
	Bin string

	// Timeout bounds one render. Default 60s.
	Timeout time.Duration

	// Paper size in inches. Default A4 (8.27 x 11.69).
	PaperWidth  float64
	PaperHeight float64

	// MarginInches applies to all four sides. Default 0.4.
	MarginInches float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.PaperWidth <= 0 {
		c.PaperWidth = 8.27
	}
	if c.PaperHeight <= 0 {
		c.PaperHeight = 11.69
	}
	if c.MarginInches <= 0 {
		c.MarginInches = 0.4
	}
}

// Options are per-render settings.
type Options struct {
	// BaseURL resolves relative resource references; injected as a
	// <base> element when set.
	BaseURL string

	// Attachments are embedded into the finished PDF. FileName must be
	// a readable path; ID is the name shown in the PDF.
	Attachments []model.Attachment

	// Scale is the print scale factor. Zero means Chrome's default (1.0).
	// Out-of-range values are clamped to Chrome's [0.1, 2] print range.
	Scale float64

	// MediaType selects the CSS media to emulate: "print" (default) or
	// "screen".
	MediaType string
}

// Engine turns HTML into PDF. Safe for sequential use; renders are
// serialized on one browser connection.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates an Engine. The browser connects lazily on first render.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

func (e *Engine) ensureBrowser() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil {
		return e.browser, nil
	}
	l := launcher.New().Headless(true).NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if e.cfg.Bin != "" {
		l = l.Bin(e.cfg.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("engine: launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("engine: connect: %w", err)
	}
	e.browser = b
	e.lnch = l
	return b, nil
}

// Close shuts the browser down. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	if e.lnch != nil {
		e.lnch.Cleanup()
	}
	e.browser = nil
	e.lnch = nil
	return err
}

// ToPDF renders htmlContent and embeds any attachments.
func (e *Engine) ToPDF(ctx context.Context, htmlContent string, opts Options) ([]byte, error) {
	if opts.BaseURL != "" {
		htmlContent = injectBase(htmlContent, opts.BaseURL)
	}

	pdf, err := e.print(ctx, htmlContent, opts)
	if err != nil {
		return nil, err
	}

	if len(opts.Attachments) > 0 {
		pdf, err = embedAttachments(pdf, opts.Attachments, e.cfg.Logger)
		if err != nil {
			return nil, err
		}
	}
	return pdf, nil
}

func (e *Engine) print(ctx context.Context, htmlContent string, opts Options) ([]byte, error) {
	b, err := e.ensureBrowser()
	if err != nil {
		return nil, err
	}

	// A file:// origin lets Chrome fetch sibling file:// resources,
	// which data: pages are not allowed to do.
	tmp, err := os.CreateTemp("", "engine-*.html")
	if err != nil {
		return nil, fmt.Errorf("engine: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(htmlContent); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("engine: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("engine: close temp file: %w", err)
	}

	renderCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	page, err := b.Page(proto.TargetCreateTarget{URL: "file://" + tmp.Name()})
	if err != nil {
		return nil, fmt.Errorf("%w: create page: %w", ErrRender, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.cfg.Logger.Warn("engine: close page", "error", cerr)
		}
	}()
	page = page.Context(renderCtx)

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w: wait load: %w", ErrRender, err)
	}

	if opts.MediaType == "screen" {
		if err := (proto.EmulationSetEmulatedMedia{Media: "screen"}).Call(page); err != nil {
			return nil, fmt.Errorf("%w: emulate media: %w", ErrRender, err)
		}
	}

	m := e.cfg.MarginInches
	req := &proto.PagePrintToPDF{
		PaperWidth:      &e.cfg.PaperWidth,
		PaperHeight:     &e.cfg.PaperHeight,
		MarginTop:       &m,
		MarginBottom:    &m,
		MarginLeft:      &m,
		MarginRight:     &m,
		PrintBackground: true,
	}
	if opts.Scale > 0 {
		scale := math.Min(math.Max(opts.Scale, 0.1), 2)
		req.Scale = &scale
	}
	r, err := page.PDF(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	pdf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read stream: %w", ErrRender, err)
	}
	e.cfg.Logger.Debug("engine: rendered", "bytes", len(pdf), "duration", time.Since(start))
	return pdf, nil
}

func embedAttachments(pdf []byte, atts []model.Attachment, logger *slog.Logger) ([]byte, error) {
	paths := make([]string, 0, len(atts))
	for _, a := range atts {
		paths = append(paths, a.FileName)
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	var buf bytes.Buffer
	if err := api.AddAttachments(bytes.NewReader(pdf), &buf, paths, false, conf); err != nil {
		return nil, fmt.Errorf("engine: embed attachments: %w", err)
	}
	logger.Debug("engine: attachments embedded", "count", len(paths))
	return buf.Bytes(), nil
}

// injectBase places a <base> element at the start of <head>, or
// prepends one when no head exists. The first <base> in a document is
// the one that takes effect, so the caller's base overrides any the
// document already carries.
func injectBase(htmlContent, baseURL string) string {
	tag := fmt.Sprintf(`<base href=%q>`, baseURL)
	if i := findHeadTag(htmlContent); i >= 0 {
		if j := strings.IndexByte(htmlContent[i:], '>'); j >= 0 {
			at := i + j + 1
			return htmlContent[:at] + tag + htmlContent[at:]
		}
	}
	return tag + htmlContent
}

// findHeadTag locates an opening <head> tag, requiring a tag-name
// boundary after the name so <header> does not match.
func findHeadTag(htmlContent string) int {
	lower := strings.ToLower(htmlContent)
	from := 0
	for {
		i := strings.Index(lower[from:], "<head")
		if i < 0 {
			return -1
		}
		i += from
		rest := lower[i+len("<head"):]
		if rest == "" {
			return -1
		}
		switch rest[0] {
		case '>', ' ', '\t', '\r', '\n', '/':
			return i
		}
		from = i + 1
	}
}
