package pdfpipe

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/printpipe/attach"
	"github.com/hazyhaar/printpipe/dbopen"
	"github.com/hazyhaar/printpipe/engine"
	"github.com/hazyhaar/printpipe/markup"
	"github.com/hazyhaar/printpipe/notes"
	"github.com/hazyhaar/printpipe/oplog"
	"github.com/hazyhaar/printpipe/svgproc"
)

type fakeEngine struct {
	html string
	opts engine.Options
	err  error
}

func (f *fakeEngine) ToPDF(_ context.Context, htmlContent string, opts engine.Options) ([]byte, error) {
	f.html = htmlContent
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7 fake"), nil
}

type fakeImages struct {
	stats svgproc.Stats
}

func (f *fakeImages) Process(_ context.Context, _ *markup.Document) (svgproc.Stats, error) {
	return f.stats, nil
}

func newTestService(t *testing.T, eng *fakeEngine) *Service {
	t.Helper()
	s := New(Config{Logger: slog.New(slog.DiscardHandler)}, eng,
		&fakeImages{stats: svgproc.Stats{Converted: 2, Failed: 1}}, nil, nil)
	s.applyNotes = func(pdf []byte, _ []notes.Note, _ *slog.Logger) ([]byte, error) {
		return append(pdf, []byte(" annotated")...), nil
	}
	return s
}

func TestConvertPlainHTML(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestService(t, eng)

	res, err := s.Convert(context.Background(), Request{HTML: "<p>hello</p>"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.HasPrefix(string(res.PDF), "%PDF") {
		t.Errorf("unexpected pdf output %q", res.PDF)
	}
	if res.Images.Converted != 2 || res.Images.Failed != 1 {
		t.Errorf("image stats not propagated: %+v", res.Images)
	}
	if res.Notes != 0 {
		t.Errorf("got %d notes, want 0", res.Notes)
	}
	if !strings.Contains(eng.html, "hello") {
		t.Errorf("engine did not receive the document: %q", eng.html)
	}
}

func TestConvertEmptyDocument(t *testing.T) {
	s := newTestService(t, &fakeEngine{})
	if _, err := s.Convert(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestConvertOversizedDocument(t *testing.T) {
	eng := &fakeEngine{}
	s := New(Config{MaxBodyBytes: 1 << 10, Logger: slog.New(slog.DiscardHandler)},
		eng, &fakeImages{}, nil, nil)

	big := "<p>" + strings.Repeat("x", 2<<10) + "</p>"
	if _, err := s.Convert(context.Background(), Request{HTML: big}); err == nil {
		t.Fatal("expected error for oversized document")
	}
}

func TestConvertWithNotes(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestService(t, eng)

	doc := `<div class="printpipe-note">
		<div class="printpipe-note-username">Alice</div>
		<div class="printpipe-note-text">Review this</div>
	</div><p>body</p>`

	res, err := s.Convert(context.Background(), Request{HTML: doc})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Notes != 1 {
		t.Fatalf("got %d notes, want 1", res.Notes)
	}
	if !strings.HasSuffix(string(res.PDF), "annotated") {
		t.Error("notes were not applied to the pdf")
	}
	if !strings.Contains(eng.html, notes.MarkerPrefix) {
		t.Error("marker link missing from printed document")
	}
}

func TestConvertStagesAttachments(t *testing.T) {
	eng := &fakeEngine{}
	s := New(Config{WorkDir: t.TempDir(), Logger: slog.New(slog.DiscardHandler)},
		eng, &fakeImages{}, nil, nil)
	s.applyNotes = notes.Apply

	doc := `<p>see <a rel="attachment" href="report.txt">the report</a></p>`
	res, err := s.Convert(context.Background(), Request{
		HTML: doc,
		Attachments: []attach.Upload{
			{Name: "report.txt", Reader: strings.NewReader("referenced")},
			{Name: "extra.bin", Reader: strings.NewReader("embedded")},
		},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Attachments != 2 {
		t.Errorf("got %d attachments, want 2", res.Attachments)
	}

	// Referenced file becomes a file:// link, unreferenced one is embedded.
	if !strings.Contains(eng.html, "file://") {
		t.Errorf("link not rewritten: %q", eng.html)
	}
	if len(eng.opts.Attachments) != 1 || eng.opts.Attachments[0].ID != "extra.bin" {
		t.Errorf("unexpected embed list: %+v", eng.opts.Attachments)
	}

	// The staging directory is gone once the conversion returns.
	if _, statErr := os.Stat(eng.opts.Attachments[0].FileName); !os.IsNotExist(statErr) {
		t.Errorf("staging dir not cleaned up: %v", statErr)
	}
}

func TestConvertRecordsToOplog(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(oplog.Schema))
	events := oplog.New(db, slog.New(slog.DiscardHandler))

	eng := &fakeEngine{}
	s := New(Config{Logger: slog.New(slog.DiscardHandler)}, eng, &fakeImages{}, nil, events)

	if _, err := s.Convert(context.Background(), Request{HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("convert: %v", err)
	}

	got, err := events.Recent(context.Background(), "html", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || !got[0].Success {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observe("html", oplog.Event{
		Success:         true,
		BytesIn:         100,
		BytesOut:        500,
		ImagesConverted: 3,
		NotesCount:      2,
		Attachments:     1,
	}, 2*time.Second)
	m.observe("html", oplog.Event{Success: false}, time.Second)

	if got := testutil.ToFloat64(m.conversions.WithLabelValues("html", "ok")); got != 1 {
		t.Errorf("ok conversions: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.conversions.WithLabelValues("html", "error")); got != 1 {
		t.Errorf("error conversions: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.images.WithLabelValues("converted")); got != 3 {
		t.Errorf("images converted: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.notesTotal); got != 2 {
		t.Errorf("notes: got %v, want 2", got)
	}
}
