package notes

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// markerFixturePDF assembles a one-page PDF carrying a marker /Link and
// an unrelated external /Link, with a hand-computed xref table.
func markerFixturePDF(t *testing.T, markerURI string) []byte {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots [4 0 R 5 0 R] >>",
		"<< /Type /Annot /Subtype /Link /Border [0 0 0] /Rect [100 700 120 720] /A << /S /URI /URI (" + markerURI + ") >> >>",
		"<< /Type /Annot /Subtype /Link /Border [0 0 0] /Rect [100 600 200 620] /A << /S /URI /URI (https://example.com/) >> >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes()
}

// annotCensus reopens a PDF and tallies page-1 annotations by kind.
func annotCensus(t *testing.T, pdf []byte) (texts, links, irts int) {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		t.Fatalf("reopen pdf: %v", err)
	}
	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("page dict: %v", err)
	}
	obj, found := pageDict.Find("Annots")
	if !found {
		return 0, 0, 0
	}
	arr, err := ctx.DereferenceArray(obj)
	if err != nil {
		t.Fatalf("annots array: %v", err)
	}
	for _, entry := range arr {
		d, err := ctx.DereferenceDict(entry)
		if err != nil || d == nil {
			t.Fatalf("annot entry: %v", err)
		}
		st := d.NameEntry("Subtype")
		if st == nil {
			continue
		}
		switch *st {
		case "Text":
			texts++
			if _, found := d.Find("IRT"); found {
				irts++
			}
		case "Link":
			links++
		}
	}
	return texts, links, irts
}

func TestApplyRewritesMarkerIntoReplyChain(t *testing.T) {
	note := Note{
		ID:     "note-1",
		Author: "Admin",
		Title:  "Main Note Title",
		Text:   "Test comment",
		Time:   "2025-10-08 11:24",
		Replies: []Note{{
			ID:     "reply-1",
			Author: "User 1",
			Text:   "Test reply 1",
			Replies: []Note{{
				ID:     "reply-2",
				Author: "User 3",
				Text:   "Test reply to reply 1",
			}},
		}},
	}

	pdf := markerFixturePDF(t, MarkerPrefix+note.ID)
	out, err := Apply(pdf, []Note{note}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	texts, links, irts := annotCensus(t, out)
	if want := Count([]Note{note}); texts != want {
		t.Errorf("text annotations = %d, want %d", texts, want)
	}
	if links != 1 {
		t.Errorf("surviving links = %d, want 1 (the unrelated link)", links)
	}
	// Every annotation except the root carries /IRT.
	if irts != 2 {
		t.Errorf("reply chain entries = %d, want 2", irts)
	}
}

func TestApplyLeavesUnknownMarker(t *testing.T) {
	pdf := markerFixturePDF(t, MarkerPrefix+"never-extracted")
	out, err := Apply(pdf, []Note{{ID: "other", Text: "x"}}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	texts, links, _ := annotCensus(t, out)
	if texts != 0 || links != 2 {
		t.Errorf("texts/links = %d/%d, want 0/2", texts, links)
	}
}

func TestApplyNoNotesPassthrough(t *testing.T) {
	pdf := markerFixturePDF(t, MarkerPrefix+"note-1")
	out, err := Apply(pdf, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out, pdf) {
		t.Error("Apply without notes must not rewrite the document")
	}
}
