package attach

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/printpipe/markup"
)

func TestSaveUploadsUniquifiesNames(t *testing.T) {
	r := NewResolver(t.TempDir())
	files, err := r.SaveUploads([]Upload{
		{Name: "report.txt", Reader: strings.NewReader("one")},
		{Name: "report.txt", Reader: strings.NewReader("two")},
		{Name: "report.txt", Reader: strings.NewReader("three")},
	})
	if err != nil {
		t.Fatal(err)
	}
	// The mapping keeps the last writer per logical name; all three
	// files must exist on disk under distinct names.
	if len(files) != 1 {
		t.Fatalf("mapping size = %d, want 1", len(files))
	}
	for _, want := range []string{"report.txt", "report (1).txt", "report (2).txt"} {
		if _, err := os.Stat(filepath.Join(r.dir, want)); err != nil {
			t.Errorf("expected %q on disk: %v", want, err)
		}
	}
}

func TestSaveUploadsEmptyName(t *testing.T) {
	r := NewResolver(t.TempDir())
	files, err := r.SaveUploads([]Upload{{Name: "  ", Reader: strings.NewReader("x")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := files["attachment.bin"]; !ok {
		t.Errorf("fallback name missing: %v", files)
	}
}

func TestSaveUploadsStripsPathSegments(t *testing.T) {
	r := NewResolver(t.TempDir())
	files, err := r.SaveUploads([]Upload{{Name: "../../etc/passwd", Reader: strings.NewReader("x")}})
	if err != nil {
		t.Fatal(err)
	}
	p, ok := files["passwd"]
	if !ok {
		t.Fatalf("basename not used as key: %v", files)
	}
	if filepath.Dir(p) != mustAbs(t, r.dir) {
		t.Errorf("file escaped the resolver dir: %s", p)
	}
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

func TestFindReferencedNames(t *testing.T) {
	doc, err := markup.Parse(`
		<a rel="attachment" href="files/spec%20sheet.pdf">spec</a>
		<link rel="attachment" href="data.csv">
		<a rel="ATTACHMENT noopener" href="upper.txt">mixed rel</a>
		<a href="plain.txt">no rel</a>
		<a rel="stylesheet" href="style.css">wrong rel</a>`)
	if err != nil {
		t.Fatal(err)
	}
	names := FindReferencedNames(doc)
	for _, want := range []string{"spec sheet.pdf", "data.csv", "upper.txt"} {
		if !names[want] {
			t.Errorf("missing %q in %v", want, names)
		}
	}
	if names["plain.txt"] || names["style.css"] {
		t.Errorf("non-attachment links collected: %v", names)
	}
}

func TestRewriteLinks(t *testing.T) {
	r := NewResolver(t.TempDir())
	if _, err := r.SaveUploads([]Upload{{Name: "doc.pdf", Reader: strings.NewReader("pdf")}}); err != nil {
		t.Fatal(err)
	}
	doc, err := markup.Parse(`<a rel="attachment" href="uploads/doc.pdf">doc</a>` +
		`<a rel="attachment" href="missing.pdf">gone</a>`)
	if err != nil {
		t.Fatal(err)
	}
	r.RewriteLinks(doc)

	links := doc.FindAll("a")
	href0, _ := markup.Attr(links[0], "href")
	if !strings.HasPrefix(href0, "file://") || !strings.HasSuffix(href0, "/doc.pdf") {
		t.Errorf("referenced link not rewritten: %q", href0)
	}
	href1, _ := markup.Attr(links[1], "href")
	if href1 != "missing.pdf" {
		t.Errorf("unknown link was rewritten: %q", href1)
	}
}

func TestBuildUnreferenced(t *testing.T) {
	r := NewResolver(t.TempDir())
	if _, err := r.SaveUploads([]Upload{
		{Name: "linked.pdf", Reader: strings.NewReader("a")},
		{Name: "loose.csv", Reader: strings.NewReader("b")},
	}); err != nil {
		t.Fatal(err)
	}
	atts := r.BuildUnreferenced(map[string]bool{"linked.pdf": true})
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}
	if atts[0].ID != "loose.csv" {
		t.Errorf("ID = %q, want loose.csv", atts[0].ID)
	}
	if filepath.Base(atts[0].FileName) != "loose.csv" {
		t.Errorf("FileName = %q", atts[0].FileName)
	}
}
