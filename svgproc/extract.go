// CLAUDE:SUMMARY Finds embeddable vector content in an HTML tree: inline top-level SVGs and base64 data-URI images.
package svgproc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/printpipe/markup"
)

// Raster types are never SVG candidates, whatever their payload holds.
var rasterDenylist = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Diagram content types handed to the office-suite converter.
var diagramTypes = map[string]bool{
	"application/vnd.ms-visio.drawing": true,
	"application/vnd.visio":            true,
}

// SkipReason explains why a data URI was not selected for conversion.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipNotDataURI
	SkipRasterType
	SkipBadBase64
	SkipBinaryContent
	SkipNotXML
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipNotDataURI:
		return "not_data_uri"
	case SkipRasterType:
		return "raster_type"
	case SkipBadBase64:
		return "bad_base64"
	case SkipBinaryContent:
		return "binary_content"
	case SkipNotXML:
		return "not_xml"
	default:
		return "unknown"
	}
}

// Image is one discovered convertible image reference.
type Image struct {
	ContentType string
	Payload     []byte
	Node        *html.Node
}

// IsDiagram reports whether the payload goes through the office-suite
// converter instead of the browser.
func (im Image) IsDiagram() bool {
	return diagramTypes[im.ContentType]
}

// ReplaceInlineSVGs rewrites every top-level inline <svg> element as an
// <img> carrying the serialized markup as a base64 data URI. Width and
// height attributes are carried over so layout survives the rewrite.
// Nested SVGs stay inside their parent's serialized payload. Returns the
// number of elements rewritten; running it again on its own output is a
// no-op.
func ReplaceInlineSVGs(doc *markup.Document) (int, error) {
	replaced := 0
	for _, n := range doc.FindAll("svg") {
		if markup.HasAncestor(n, func(a *html.Node) bool {
			return a.Type == html.ElementNode && a.Data == "svg"
		}) {
			continue
		}
		src, err := markup.Render(n)
		if err != nil {
			return replaced, err
		}
		uri := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(src))
		attrs := []string{"src", uri}
		if w, ok := markup.Attr(n, "width"); ok {
			attrs = append(attrs, "width", w)
		}
		if h, ok := markup.Attr(n, "height"); ok {
			attrs = append(attrs, "height", h)
		}
		markup.Replace(n, markup.NewElement("img", attrs...))
		replaced++
	}
	return replaced, nil
}

// ScanDataURIImages walks all <img> nodes and returns those whose src is
// a base64 data URI holding convertible content. Detection is
// deliberately permissive: anything outside the raster denylist that
// decodes to NUL-free, well-formed XML is treated as a vector candidate,
// because real-world producers routinely mislabel SVG MIME types.
// Diagram types skip the XML check, their payload is a ZIP archive.
func ScanDataURIImages(doc *markup.Document) []Image {
	var out []Image
	for _, n := range doc.FindAll("img") {
		src, ok := markup.Attr(n, "src")
		if !ok {
			continue
		}
		img, reason := classifyDataURI(src)
		if reason != SkipNone {
			continue
		}
		img.Node = n
		out = append(out, img)
	}
	return out
}

func classifyDataURI(src string) (Image, SkipReason) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return Image{}, SkipNotDataURI
	}
	ct, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return Image{}, SkipNotDataURI
	}
	ct = strings.TrimSpace(strings.ToLower(ct))
	if rasterDenylist[ct] {
		return Image{}, SkipRasterType
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, SkipBadBase64
	}
	if diagramTypes[ct] {
		return Image{ContentType: ct, Payload: raw}, SkipNone
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return Image{}, SkipBinaryContent
	}
	if !wellFormedXML(raw) {
		return Image{}, SkipNotXML
	}
	return Image{ContentType: ct, Payload: raw}, SkipNone
}

// wellFormedXML tokenizes the payload to the end and requires at least one
// element. Bare character data tokenizes cleanly, so EOF alone is not enough.
func wellFormedXML(raw []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return sawElement
		}
		if err != nil {
			return false
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
}
