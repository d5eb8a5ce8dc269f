package svgproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/hazyhaar/printpipe/browser"
	"github.com/hazyhaar/printpipe/markup"
)

type fakeRenderer struct {
	calls []browser.Request
	err   error
}

func (f *fakeRenderer) ConvertToPNG(_ context.Context, req browser.Request) ([]byte, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fakeDiagrams struct {
	available bool
	out       []byte
	err       error
}

func (f *fakeDiagrams) Available() bool { return f.available }
func (f *fakeDiagrams) ToPNG(context.Context, []byte) ([]byte, error) {
	return f.out, f.err
}

func testConfig() Config {
	return Config{Logger: slog.New(slog.DiscardHandler)}
}

func svgDoc(t *testing.T, svg string) *markup.Document {
	t.Helper()
	doc, err := markup.Parse(
		`<p><img src="data:image/svg+xml;base64,` +
			base64.StdEncoding.EncodeToString([]byte(svg)) + `"></p>`)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestProcessConvertsSVG(t *testing.T) {
	doc := svgDoc(t, `<svg width="100vw" height="50vh" viewBox="0 0 800 600"></svg>`)
	r := &fakeRenderer{}
	p := New(testConfig(), r, nil)

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if st.Converted != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v, want 1 converted", st)
	}
	if len(r.calls) != 1 {
		t.Fatalf("render calls = %d, want 1", len(r.calls))
	}
	// Height gains the clip compensation, cropped off afterwards.
	if r.calls[0].Width != 800 || r.calls[0].Height != 300+100 {
		t.Errorf("render viewport = %dx%d, want 800x400", r.calls[0].Width, r.calls[0].Height)
	}

	img := doc.FindAll("img")[0]
	src, _ := markup.Attr(img, "src")
	if !strings.HasPrefix(src, "data:image/png;base64,") {
		t.Errorf("node not rewritten to png: %.60s", src)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(src, "data:image/png;base64,"))
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 800 || b.Dy() != 300 {
		t.Errorf("final raster = %dx%d, want 800x300 (cropped)", b.Dx(), b.Dy())
	}

	if w, _ := markup.Attr(img, "width"); w != "800" {
		t.Errorf("width attribute = %q, want 800", w)
	}
	if style, _ := markup.Attr(img, "style"); !strings.Contains(style, "width: 800px") {
		t.Errorf("style = %q, want width: 800px", style)
	}
}

func TestProcessInlineSVGEndToEnd(t *testing.T) {
	doc, err := markup.Parse(`<div><svg viewBox="0 0 300 150"><rect/></svg></div>`)
	if err != nil {
		t.Fatal(err)
	}
	r := &fakeRenderer{}
	p := New(testConfig(), r, nil)

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if st.InlineReplaced != 1 || st.Converted != 1 {
		t.Fatalf("stats = %+v, want 1 inline replaced and 1 converted", st)
	}
	if r.calls[0].Width != 300 || r.calls[0].Height != 150+100 {
		t.Errorf("render viewport = %dx%d", r.calls[0].Width, r.calls[0].Height)
	}
	// The rendered payload must carry the backfilled size attributes.
	if !strings.Contains(string(r.calls[0].Content), `width="300px"`) {
		t.Errorf("backfilled width missing from rendered payload: %s", r.calls[0].Content)
	}
}

func TestProcessBestEffortKeepsOriginal(t *testing.T) {
	doc := svgDoc(t, `<svg viewBox="0 0 10 10"></svg>`)
	orig, _ := markup.Attr(doc.FindAll("img")[0], "src")

	r := &fakeRenderer{err: errors.New("backend down")}
	p := New(testConfig(), r, nil)

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("best-effort mode returned error: %v", err)
	}
	if st.Failed != 1 || st.Converted != 0 {
		t.Fatalf("stats = %+v, want 1 failed", st)
	}
	if src, _ := markup.Attr(doc.FindAll("img")[0], "src"); src != orig {
		t.Error("failed image was mutated")
	}
}

func TestProcessStrictFailsDocument(t *testing.T) {
	doc := svgDoc(t, `<svg viewBox="0 0 10 10"></svg>`)
	cfg := testConfig()
	cfg.Strict = true
	p := New(cfg, &fakeRenderer{err: errors.New("backend down")}, nil)

	if _, err := p.Process(context.Background(), doc); err == nil {
		t.Error("strict mode swallowed the failure")
	}
}

func TestProcessSkipsUndimensionedImage(t *testing.T) {
	doc := svgDoc(t, `<svg><rect/></svg>`)
	r := &fakeRenderer{}
	p := New(testConfig(), r, nil)

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if st.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed (no dimensions)", st)
	}
	if len(r.calls) != 0 {
		t.Error("renderer was called for an undimensioned image")
	}
}

func TestProcessDiagramUnavailableSkips(t *testing.T) {
	doc, err := markup.Parse(`<img src="data:application/vnd.ms-visio.drawing;base64,` +
		base64.StdEncoding.EncodeToString([]byte("PK\x03\x04data")) + `">`)
	if err != nil {
		t.Fatal(err)
	}
	p := New(testConfig(), &fakeRenderer{}, &fakeDiagrams{available: false})

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if st.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 skipped", st)
	}
}

func TestProcessDiagramConverts(t *testing.T) {
	doc, err := markup.Parse(`<img src="data:application/vnd.ms-visio.drawing;base64,` +
		base64.StdEncoding.EncodeToString([]byte("PK\x03\x04data")) + `">`)
	if err != nil {
		t.Fatal(err)
	}
	p := New(testConfig(), &fakeRenderer{}, &fakeDiagrams{available: true, out: []byte("fakepng")})

	st, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if st.Converted != 1 {
		t.Fatalf("stats = %+v, want 1 converted", st)
	}
	src, _ := markup.Attr(doc.FindAll("img")[0], "src")
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fakepng"))
	if src != want {
		t.Errorf("src = %q, want %q", src, want)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := testConfig()
	c.defaults()
	if c.HeightAdjustPx != 100 {
		t.Errorf("HeightAdjustPx = %d, want 100", c.HeightAdjustPx)
	}
	if c.ScaleFactor != 1.0 {
		t.Errorf("ScaleFactor = %v, want 1.0", c.ScaleFactor)
	}
	c = Config{HeightAdjustPx: 5000, Logger: slog.New(slog.DiscardHandler)}
	c.defaults()
	if c.HeightAdjustPx != 100 {
		t.Errorf("out-of-range HeightAdjustPx not clamped: %d", c.HeightAdjustPx)
	}
}
