// CLAUDE:SUMMARY PDF post-pass: swaps marker /Link annotations for native /Text sticky notes with /IRT reply chains.
package notes

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Apply rewrites every marker /Link annotation in the PDF into a native
// sticky-note annotation tree. Markers whose ID matches no extracted
// note, and all unrelated annotations, are left untouched. A synthesis
// failure for one note never aborts its siblings.
func Apply(pdf []byte, ns []Note, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(ns) == 0 {
		return pdf, nil
	}

	byID := make(map[string]Note, len(ns))
	for _, n := range ns {
		byID[n.ID] = n
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return nil, fmt.Errorf("notes: read pdf: %w", err)
	}

	an := &annotator{ctx: ctx, log: logger}
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if err := an.processPage(pageNr, byID); err != nil {
			return nil, fmt.Errorf("notes: page %d: %w", pageNr, err)
		}
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("notes: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type annotator struct {
	ctx *model.Context
	log *slog.Logger

	iconRef    *types.IndirectRef
	iconFailed bool
}

type pendingNote struct {
	note Note
	rect types.Array
}

func (a *annotator) processPage(pageNr int, byID map[string]Note) error {
	pageDict, pageRef, _, err := a.ctx.PageDict(pageNr, false)
	if err != nil {
		return err
	}

	obj, found := pageDict.Find("Annots")
	if !found {
		return nil
	}
	arr, err := a.ctx.DereferenceArray(obj)
	if err != nil {
		return err
	}

	kept := types.Array{}
	var pending []pendingNote
	for _, entry := range arr {
		d, err := a.ctx.DereferenceDict(entry)
		if err != nil || d == nil {
			kept = append(kept, entry)
			continue
		}
		id, ok := a.markerID(d)
		if !ok {
			kept = append(kept, entry)
			continue
		}
		note, exists := byID[id]
		if !exists {
			kept = append(kept, entry)
			continue
		}
		rect, err := a.annotRect(d)
		if err != nil {
			a.log.Warn("notes: marker without usable rect, dropping", "id", id, "error", err)
			continue
		}
		pending = append(pending, pendingNote{note: note, rect: rect})
	}

	for _, p := range pending {
		if _, err := a.addAnnotation(&kept, *pageRef, p.note, p.rect, nil); err != nil {
			a.log.Warn("notes: annotation synthesis failed, skipping note",
				"id", p.note.ID, "error", err)
		}
	}

	if len(kept) == 0 {
		pageDict.Delete("Annots")
	} else {
		pageDict.Update("Annots", kept)
	}
	return nil
}

// markerID reports whether an annotation is one of our marker links and
// extracts the note ID from its URI action.
func (a *annotator) markerID(d types.Dict) (string, bool) {
	if st := d.NameEntry("Subtype"); st == nil || *st != "Link" {
		return "", false
	}
	actObj, found := d.Find("A")
	if !found {
		return "", false
	}
	act, err := a.ctx.DereferenceDict(actObj)
	if err != nil || act == nil {
		return "", false
	}
	uriObj, found := act.Find("URI")
	if !found {
		return "", false
	}
	o, err := a.ctx.Dereference(uriObj)
	if err != nil {
		return "", false
	}
	var uri string
	switch s := o.(type) {
	case types.StringLiteral:
		v, err := types.StringLiteralToString(s)
		if err != nil {
			return "", false
		}
		uri = v
	case types.HexLiteral:
		v, err := types.HexLiteralToString(s)
		if err != nil {
			return "", false
		}
		uri = v
	default:
		return "", false
	}
	id, ok := strings.CutPrefix(uri, MarkerPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func (a *annotator) annotRect(d types.Dict) (types.Array, error) {
	obj, found := d.Find("Rect")
	if !found {
		return nil, fmt.Errorf("no /Rect")
	}
	arr, err := a.ctx.DereferenceArray(obj)
	if err != nil {
		return nil, err
	}
	if len(arr) != 4 {
		return nil, fmt.Errorf("rect has %d elements", len(arr))
	}
	out := make(types.Array, 4)
	for i, o := range arr {
		v, err := a.ctx.DereferenceNumber(o)
		if err != nil {
			return nil, err
		}
		out[i] = types.Float(v)
	}
	return out, nil
}

// addAnnotation creates one /Text annotation and recurses into replies.
// Replies reuse the parent's rectangle and carry /IRT pointing at the
// just-created parent reference, forming a single-parent chain per
// branch in document order.
func (a *annotator) addAnnotation(annots *types.Array, pageRef types.IndirectRef,
	n Note, rect types.Array, parent *types.IndirectRef) (*types.IndirectRef, error) {

	d := types.Dict{
		"Type":     types.Name("Annot"),
		"Subtype":  types.Name("Text"),
		"Rect":     rect,
		"Contents": pdfText(n.Text),
		"T":        pdfText(n.Author),
		"Name":     types.Name("Comment"),
		"Open":     types.Boolean(false),
		"F":        types.Integer(4), // print
		"P":        pageRef,
	}
	if n.Title != "" {
		d["Subj"] = pdfText(n.Title)
	}
	if date := formatPDFDate(n.Time); date != "" {
		d["CreationDate"] = types.StringLiteral(date)
		d["M"] = types.StringLiteral(date)
	}
	if parent != nil {
		d["IRT"] = *parent
		d["RT"] = types.Name("R")
	}
	if ap := a.iconAppearance(); ap != nil {
		d["AP"] = types.Dict{"N": *ap}
	}

	ref, err := a.ctx.IndRefForNewObject(d)
	if err != nil {
		return nil, err
	}
	*annots = append(*annots, *ref)

	for _, reply := range n.Replies {
		if _, err := a.addAnnotation(annots, pageRef, reply, rect, ref); err != nil {
			a.log.Warn("notes: reply synthesis failed, skipping",
				"id", reply.ID, "error", err)
		}
	}
	return ref, nil
}

// iconAppearance returns the shared icon form XObject, built lazily on
// first use. Build failure disables the icon for the whole document and
// annotations degrade to the viewer's default rendering.
func (a *annotator) iconAppearance() *types.IndirectRef {
	if a.iconRef != nil || a.iconFailed {
		return a.iconRef
	}
	ref, err := buildIconXObject(a.ctx)
	if err != nil {
		a.log.Warn("notes: icon appearance unavailable", "error", err)
		a.iconFailed = true
		return nil
	}
	a.iconRef = ref
	return ref
}

// pdfText encodes a string as a UTF-16BE hex literal. Hex form needs no
// escaping and carries any Unicode content.
func pdfText(s string) types.HexLiteral {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 0, 2+len(u)*2)
	b = append(b, 0xFE, 0xFF)
	for _, v := range u {
		b = append(b, byte(v>>8), byte(v))
	}
	return types.HexLiteral(hex.EncodeToString(b))
}

var noteTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// formatPDFDate converts a note timestamp to the PDF date string form
// D:YYYYMMDDHHMMSS. Empty or unparseable input returns "": the date
// fields are omitted rather than guessed.
func formatPDFDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range noteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return "D:" + t.Format("20060102150405")
		}
	}
	return ""
}
