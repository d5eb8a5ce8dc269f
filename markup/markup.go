// CLAUDE:SUMMARY Parsed HTML document wrapper over x/net/html: fragment detection, round-trip serialization, tree queries and mutation.
// Package markup wraps golang.org/x/net/html with the document handling the
// conversion pipeline needs: parse once, mutate in place, serialize back.
// A fragment input serializes back to a fragment (body contents only); a
// full document keeps its structure and any leading XML declaration.
package markup

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is an in-memory HTML tree plus the parse-time facts needed to
// round-trip it: whether the input was a full document and its XML
// declaration, if any.
type Document struct {
	Root *html.Node

	fullDocument bool
	xmlDecl      string
}

// Parse builds a Document from raw HTML. The parser normalizes fragments
// into a full html/head/body tree; Serialize undoes that for fragments.
func Parse(s string) (*Document, error) {
	xmlDecl := extractXMLDecl(s)
	full := isFullDocument(s)

	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("markup: parse: %w", err)
	}
	clearLeadingPIComment(root)

	return &Document{Root: root, fullDocument: full, xmlDecl: xmlDecl}, nil
}

// Serialize renders the tree back to HTML text. Full documents render
// whole (with the original XML declaration restored); fragments render
// as the body's inner HTML.
func (d *Document) Serialize() (string, error) {
	var sb strings.Builder
	if d.fullDocument {
		sb.WriteString(d.xmlDecl)
		if err := html.Render(&sb, d.Root); err != nil {
			return "", fmt.Errorf("markup: render: %w", err)
		}
		return sb.String(), nil
	}

	body := d.FindFirst("body")
	if body == nil {
		if err := html.Render(&sb, d.Root); err != nil {
			return "", fmt.Errorf("markup: render: %w", err)
		}
		return sb.String(), nil
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", fmt.Errorf("markup: render: %w", err)
		}
	}
	return sb.String(), nil
}

// FindAll returns all element nodes with the given tag name, in document
// order.
func (d *Document) FindAll(tag string) []*html.Node {
	var out []*html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// FindFirst returns the first element with the given tag name, or nil.
func (d *Document) FindFirst(tag string) *html.Node {
	var found *html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if found == nil && n.Type == html.ElementNode && n.Data == tag {
			found = n
		}
		return found == nil
	})
	return found
}

// FindAllClass returns all element nodes carrying the given class.
func (d *Document) FindAllClass(class string) []*html.Node {
	var out []*html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if HasClass(n, class) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Walk visits n and its subtree depth-first. Returning false from fn
// prunes the subtree below the current node.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Attr returns the value of the named attribute and whether it is set.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether the element's class attribute contains the
// given class token.
func HasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, f := range strings.Fields(v) {
		if f == class {
			return true
		}
	}
	return false
}

// HasAncestor reports whether any ancestor of n satisfies pred.
func HasAncestor(n *html.Node, pred func(*html.Node) bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if pred(p) {
			return true
		}
	}
	return false
}

// Replace swaps old for repl in the tree. old must have a parent.
func Replace(old, repl *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(repl, old)
	parent.RemoveChild(old)
}

// NewElement creates a detached element node with the given tag and
// attribute pairs (key, value, key, value, ...).
func NewElement(tag string, attrs ...string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// NewText creates a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Render serializes a single node subtree to HTML text.
func Render(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", fmt.Errorf("markup: render node: %w", err)
	}
	return sb.String(), nil
}

// Text collects the concatenated, whitespace-trimmed text content of a
// node subtree, with single spaces between text runs.
func Text(n *html.Node) string {
	var sb strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			t := strings.TrimSpace(c.Data)
			if t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		return true
	})
	return sb.String()
}

// DirectChildren returns the element children of n, without descending.
func DirectChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// extractXMLDecl returns a leading <?xml ...?> declaration, if present.
func extractXMLDecl(s string) string {
	t := strings.TrimLeft(s, "\uFEFF \t\r\n")
	if strings.HasPrefix(t, "<?xml") {
		if end := strings.Index(t, "?>"); end != -1 {
			return t[:end+2]
		}
	}
	return ""
}

// isFullDocument reports whether the input is a complete HTML document
// (doctype or <html> root) rather than a fragment. Leading BOM,
// whitespace, comments and processing instructions are skipped.
func isFullDocument(s string) bool {
	i := 0
	n := len(s)
	if strings.HasPrefix(s, "\uFEFF") {
		i = len("\uFEFF")
	}
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			return false
		}
		switch {
		case strings.HasPrefix(s[i:], "<!--"):
			end := strings.Index(s[i+4:], "-->")
			if end == -1 {
				return false
			}
			i += 4 + end + 3
		case strings.HasPrefix(s[i:], "<?"):
			end := strings.Index(s[i+2:], "?>")
			if end == -1 {
				return false
			}
			i += 2 + end + 2
		case len(s[i:]) >= 9 && strings.EqualFold(s[i:i+9], "<!doctype"):
			return true
		case s[i] == '<':
			rest := s[i+1:]
			if len(rest) >= 4 && strings.EqualFold(rest[:4], "html") {
				if len(rest) == 4 {
					return true
				}
				if c := rest[4]; isSpace(c) || c == '>' || c == '/' {
					return true
				}
			}
			// Some other tag: keep scanning in case doctype/html follows.
			i++
			for i < n && s[i] != '<' {
				i++
			}
		default:
			i++
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f'
}

// clearLeadingPIComment removes a leading <!--?xml ... ?--> comment node
// some parsers leave behind when fed an XML declaration.
func clearLeadingPIComment(root *html.Node) {
	var first *html.Node
	Walk(root, func(n *html.Node) bool {
		if first == nil && n.Type == html.CommentNode {
			first = n
		}
		return first == nil
	})
	if first != nil && strings.HasPrefix(strings.TrimSpace(first.Data), "?xml") {
		if first.Parent != nil {
			first.Parent.RemoveChild(first)
		}
	}
}
