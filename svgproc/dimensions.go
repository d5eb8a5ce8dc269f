// CLAUDE:SUMMARY Resolves exact pixel dimensions for an SVG payload and rewrites its root tag when sizes are backfilled.
package svgproc

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/hazyhaar/printpipe/cssunit"
)

const svgNamespace = "http://www.w3.org/2000/svg"

// ErrNoDimensions is returned when neither explicit size attributes nor
// a viewBox yield a usable pixel size.
var ErrNoDimensions = errors.New("svgproc: cannot determine dimensions")

// Dims is a resolved pixel size.
type Dims struct {
	Width  int
	Height int
}

var attrReCache = map[string]*regexp.Regexp{}

func attrRe(name string) *regexp.Regexp {
	if re, ok := attrReCache[name]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)(^|[\s"'])` + name + `\s*=\s*("([^"]*)"|'([^']*)')`)
	attrReCache[name] = re
	return re
}

// svgRootTag locates the opening <svg ...> tag. Quote-aware so a '>'
// inside an attribute value does not end the tag early.
func svgRootTag(svg []byte) (start, end int, ok bool) {
	lower := make([]byte, len(svg))
	for i, c := range svg {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	for i := 0; i+4 <= len(lower); i++ {
		if lower[i] != '<' || string(lower[i+1:i+4]) != "svg" {
			continue
		}
		if i+4 < len(lower) {
			c := lower[i+4]
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '>' && c != '/' {
				continue
			}
		}
		var quote byte
		for j := i; j < len(svg); j++ {
			c := svg[j]
			switch {
			case quote != 0:
				if c == quote {
					quote = 0
				}
			case c == '"' || c == '\'':
				quote = c
			case c == '>':
				return i, j + 1, true
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

func tagAttr(tag []byte, name string) (string, bool) {
	m := attrRe(name).FindSubmatch(tag)
	if m == nil {
		return "", false
	}
	if m[3] != nil {
		return string(m[3]), true
	}
	return string(m[4]), true
}

// setTagAttr replaces an existing attribute value or appends the
// attribute before the tag's closing bracket.
func setTagAttr(tag []byte, name, value string) []byte {
	re := attrRe(name)
	if loc := re.FindSubmatchIndex(tag); loc != nil {
		out := make([]byte, 0, len(tag)+len(value))
		out = append(out, tag[:loc[0]]...)
		out = append(out, tag[loc[2]:loc[3]]...)
		out = append(out, name...)
		out = append(out, `="`...)
		out = append(out, value...)
		out = append(out, '"')
		out = append(out, tag[loc[1]:]...)
		return out
	}
	closeAt := len(tag) - 1
	if closeAt >= 1 && tag[closeAt-1] == '/' {
		closeAt--
	}
	out := make([]byte, 0, len(tag)+len(name)+len(value)+4)
	out = append(out, tag[:closeAt]...)
	out = append(out, ' ')
	out = append(out, name...)
	out = append(out, `="`...)
	out = append(out, value...)
	out = append(out, '"')
	out = append(out, tag[closeAt:]...)
	return out
}

func resolveAxis(val string, vb float64, vbOK bool) (int, error) {
	if val == "" {
		return 0, nil
	}
	num, unit, ok := cssunit.SplitLength(val)
	if !ok {
		// Malformed size attribute: treat as absent, the viewBox may
		// still provide the axis.
		return 0, nil
	}
	var vbPtr *float64
	if vbOK {
		vbPtr = &vb
	}
	px, err := cssunit.Resolve(num, unit, vbPtr)
	if err != nil {
		return 0, err
	}
	return px, nil
}

// ResolveDimensions computes the pixel width and height of an SVG
// payload. Explicit width/height attributes are resolved through the
// unit table, with vw/vh/% measured against the viewBox. Axes left
// unresolved are backfilled from the viewBox and written back into the
// root tag so downstream rendering receives an unambiguous size. The
// root tag also gains an xmlns declaration when missing, standalone
// rendering requires one.
//
// Returns the dimensions and the (possibly rewritten) payload. A
// relative unit without a viewBox errors; a payload where either axis
// stays unresolved returns ErrNoDimensions.
func ResolveDimensions(svg []byte) (Dims, []byte, error) {
	start, end, ok := svgRootTag(svg)
	if !ok {
		return Dims{}, nil, fmt.Errorf("svgproc: no <svg> root element")
	}
	tag := svg[start:end]

	wStr, _ := tagAttr(tag, "width")
	hStr, _ := tagAttr(tag, "height")
	vbStr, _ := tagAttr(tag, "viewBox")
	vbW, vbH, vbOK := cssunit.ParseViewBox(vbStr)

	width, err := resolveAxis(wStr, vbW, vbOK)
	if err != nil {
		return Dims{}, nil, fmt.Errorf("svgproc: width %q: %w", wStr, err)
	}
	height, err := resolveAxis(hStr, vbH, vbOK)
	if err != nil {
		return Dims{}, nil, fmt.Errorf("svgproc: height %q: %w", hStr, err)
	}

	changed := false
	if width <= 0 && vbOK {
		width = int(math.Ceil(vbW))
		tag = setTagAttr(tag, "width", fmt.Sprintf("%dpx", width))
		changed = true
	}
	if height <= 0 && vbOK {
		height = int(math.Ceil(vbH))
		tag = setTagAttr(tag, "height", fmt.Sprintf("%dpx", height))
		changed = true
	}
	if width <= 0 || height <= 0 {
		return Dims{}, nil, ErrNoDimensions
	}

	if _, ok := tagAttr(tag, "xmlns"); !ok {
		tag = setTagAttr(tag, "xmlns", svgNamespace)
		changed = true
	}

	out := svg
	if changed {
		out = make([]byte, 0, len(svg)+len(tag))
		out = append(out, svg[:start]...)
		out = append(out, tag...)
		out = append(out, svg[end:]...)
	}
	return Dims{Width: width, Height: height}, out, nil
}
