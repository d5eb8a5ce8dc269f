// CLAUDE:SUMMARY Conversion pipeline: HTML in, annotated PDF out, with image rewriting and attachment embedding.
// Package pdfpipe orchestrates a full HTML to PDF conversion. The
// stages run in a fixed order: parse the markup, lift sticky notes out
// of the tree, rewrite SVG and diagram images into raster data URIs,
// resolve attachment links, print through headless Chrome, then write
// the notes back into the finished PDF as native annotations.
package pdfpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/printpipe/attach"
	"github.com/hazyhaar/printpipe/engine"
	"github.com/hazyhaar/printpipe/markup"
	"github.com/hazyhaar/printpipe/notes"
	"github.com/hazyhaar/printpipe/oplog"
	"github.com/hazyhaar/printpipe/svgproc"
)

// PDFEngine prints serialized HTML to PDF.
type PDFEngine interface {
	ToPDF(ctx context.Context, htmlContent string, opts engine.Options) ([]byte, error)
}

// ImageProcessor rewrites SVG and diagram images inside a parsed tree.
type ImageProcessor interface {
	Process(ctx context.Context, doc *markup.Document) (svgproc.Stats, error)
}

// Config tunes the pipeline.
type Config struct {
	// WorkDir is where per-request attachment directories are created.
	// Empty means the system temp dir.
	WorkDir string

	// MaxBodyBytes caps the HTML payload. Values outside [1KiB, 1GiB]
	// fall back to the 50MiB default.
	MaxBodyBytes int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBodyBytes < 1<<10 || c.MaxBodyBytes > 1<<30 {
		if c.MaxBodyBytes != 0 && c.Logger != nil {
			c.Logger.Warn("pdfpipe: max body out of range, using default", "value", c.MaxBodyBytes)
		}
		c.MaxBodyBytes = 50 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request is one conversion.
type Request struct {
	HTML        string
	BaseURL     string  // optional base for relative resource URLs
	Scale       float64 // print scale factor, 0 = default
	MediaType   string  // "print" (default) or "screen"
	Attachments []attach.Upload
}

// Result is a finished conversion with its stage counters.
type Result struct {
	PDF         []byte
	Images      svgproc.Stats
	Notes       int
	Attachments int
}

// Service runs conversions.
type Service struct {
	cfg     Config
	engine  PDFEngine
	images  ImageProcessor
	metrics *Metrics
	events  *oplog.Logger

	// applyNotes is swappable in tests.
	applyNotes func(pdf []byte, ns []notes.Note, log *slog.Logger) ([]byte, error)
}

// New assembles a Service. metrics and events may be nil.
func New(cfg Config, eng PDFEngine, images ImageProcessor, metrics *Metrics, events *oplog.Logger) *Service {
	cfg.defaults()
	return &Service{
		cfg:        cfg,
		engine:     eng,
		images:     images,
		metrics:    metrics,
		events:     events,
		applyNotes: notes.Apply,
	}
}

// MaxBodyBytes returns the configured payload cap.
func (s *Service) MaxBodyBytes() int64 { return s.cfg.MaxBodyBytes }

// Convert runs the full pipeline. Attachments in the request select
// the multipart flavor: referenced files are linked into the document,
// everything else is embedded into the PDF.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	kind := "html"
	if len(req.Attachments) > 0 {
		kind = "html-with-attachments"
	}
	start := time.Now()

	res, err := s.convert(ctx, req)
	s.record(ctx, kind, req, res, time.Since(start), err)
	return res, err
}

func (s *Service) convert(ctx context.Context, req Request) (*Result, error) {
	if req.HTML == "" {
		return nil, fmt.Errorf("pdfpipe: empty document")
	}
	if int64(len(req.HTML)) > s.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("pdfpipe: document exceeds %d bytes", s.cfg.MaxBodyBytes)
	}

	doc, err := markup.Parse(req.HTML)
	if err != nil {
		return nil, fmt.Errorf("pdfpipe: parse: %w", err)
	}

	ns := notes.Extract(doc)

	stats, err := s.images.Process(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("pdfpipe: images: %w", err)
	}

	opts := engine.Options{
		BaseURL:   req.BaseURL,
		Scale:     req.Scale,
		MediaType: req.MediaType,
	}
	if len(req.Attachments) > 0 {
		embedded, cleanup, err := s.stageAttachments(doc, req.Attachments)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		opts.Attachments = embedded
	}

	htmlOut, err := doc.Serialize()
	if err != nil {
		return nil, fmt.Errorf("pdfpipe: serialize: %w", err)
	}

	pdf, err := s.engine.ToPDF(ctx, htmlOut, opts)
	if err != nil {
		return nil, fmt.Errorf("pdfpipe: render: %w", err)
	}

	if len(ns) > 0 {
		pdf, err = s.applyNotes(pdf, ns, s.cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("pdfpipe: annotate: %w", err)
		}
	}

	return &Result{
		PDF:         pdf,
		Images:      stats,
		Notes:       notes.Count(ns),
		Attachments: len(req.Attachments),
	}, nil
}

// stageAttachments writes uploads into a per-request directory,
// rewrites in-document attachment links to the saved copies, and
// returns the files nothing references for embedding into the PDF.
// The cleanup func removes the directory and must run after printing.
func (s *Service) stageAttachments(doc *markup.Document, uploads []attach.Upload) ([]model.Attachment, func(), error) {
	dir, err := os.MkdirTemp(s.cfg.WorkDir, "printpipe-att-*")
	if err != nil {
		return nil, nil, fmt.Errorf("pdfpipe: attachment dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	r := attach.NewResolver(dir)
	if _, err := r.SaveUploads(uploads); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("pdfpipe: save attachments: %w", err)
	}

	referenced := attach.FindReferencedNames(doc)
	r.RewriteLinks(doc)
	return r.BuildUnreferenced(referenced), cleanup, nil
}

func (s *Service) record(ctx context.Context, kind string, req Request, res *Result, d time.Duration, err error) {
	ev := oplog.Event{
		Kind:     kind,
		Success:  err == nil,
		BytesIn:  len(req.HTML),
		Duration: d,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if res != nil {
		ev.BytesOut = len(res.PDF)
		ev.ImagesConverted = res.Images.Converted
		ev.ImagesFailed = res.Images.Failed
		ev.NotesCount = res.Notes
		ev.Attachments = res.Attachments
	}

	if s.metrics != nil {
		s.metrics.observe(kind, ev, d)
	}
	if s.events != nil {
		s.events.Record(ctx, ev)
	}

	log := s.cfg.Logger.With("kind", kind, "duration_ms", d.Milliseconds(), "bytes_in", ev.BytesIn)
	if err != nil {
		log.Error("conversion failed", "error", err)
		return
	}
	log.Info("conversion done",
		"bytes_out", ev.BytesOut,
		"images_converted", ev.ImagesConverted,
		"images_failed", ev.ImagesFailed,
		"notes", ev.NotesCount,
		"attachments", ev.Attachments)
}
