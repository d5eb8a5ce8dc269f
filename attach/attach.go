// CLAUDE:SUMMARY Matches uploaded files against rel="attachment" links, rewrites hrefs to file:// URIs, embeds the rest.
// Package attach resolves uploaded files against attachment links in the
// document. Referenced files get their links rewritten to local file://
// URIs so the PDF engine turns them into clickable file annotations;
// unreferenced files are embedded into the PDF afterwards.
package attach

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/net/html"

	"github.com/hazyhaar/printpipe/markup"
)

// Upload is one incoming file: a logical name and its content stream.
type Upload struct {
	Name   string
	Reader io.Reader
}

// Resolver owns one request's attachment directory. The directory is
// caller-provided and request-scoped; the caller removes it after the
// PDF is produced.
type Resolver struct {
	dir   string
	files map[string]string // basename -> absolute saved path
}

// NewResolver creates a Resolver writing into dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir, files: map[string]string{}}
}

// SaveUploads persists uploads under their basenames. Name collisions
// uniquify as "name (1).ext", "name (2).ext" and so on; an empty name
// falls back to "attachment.bin". Returns the basename-to-path mapping,
// keyed by the original (pre-uniquified) basename.
func (r *Resolver) SaveUploads(uploads []Upload) (map[string]string, error) {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, fmt.Errorf("attach: create dir: %w", err)
	}
	for _, up := range uploads {
		name := path.Base(strings.TrimSpace(up.Name))
		if name == "" || name == "." || name == "/" {
			name = "attachment.bin"
		}
		dst := filepath.Join(r.dir, name)
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i := 1; ; i++ {
			if _, err := os.Stat(dst); os.IsNotExist(err) {
				break
			}
			dst = filepath.Join(r.dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		}
		f, err := os.Create(dst)
		if err != nil {
			return nil, fmt.Errorf("attach: save %q: %w", name, err)
		}
		if _, err := io.Copy(f, up.Reader); err != nil {
			f.Close()
			return nil, fmt.Errorf("attach: write %q: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("attach: close %q: %w", name, err)
		}
		abs, err := filepath.Abs(dst)
		if err != nil {
			return nil, fmt.Errorf("attach: abs path: %w", err)
		}
		r.files[name] = abs
	}
	return r.files, nil
}

// FindReferencedNames collects the basenames of files referenced by
// <a rel="attachment"> and <link rel="attachment"> elements.
func FindReferencedNames(doc *markup.Document) map[string]bool {
	names := map[string]bool{}
	forEachAttachmentLink(doc, func(n *html.Node, href string) {
		if name := hrefBasename(href); name != "" {
			names[name] = true
		}
	})
	return names
}

// RewriteLinks replaces attachment hrefs whose basename matches a saved
// upload with an absolute file:// URI. Links to unknown names are left
// alone.
func (r *Resolver) RewriteLinks(doc *markup.Document) {
	forEachAttachmentLink(doc, func(n *html.Node, href string) {
		saved, ok := r.files[hrefBasename(href)]
		if !ok {
			return
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(saved)}
		markup.SetAttr(n, "href", u.String())
	})
}

// BuildUnreferenced returns embedding records for every saved upload
// not referenced in the document, deduplicated by path.
func (r *Resolver) BuildUnreferenced(referenced map[string]bool) []model.Attachment {
	var out []model.Attachment
	seen := map[string]bool{}
	for name, p := range r.files {
		if referenced[name] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, model.Attachment{ID: name, FileName: p})
	}
	return out
}

func forEachAttachmentLink(doc *markup.Document, fn func(*html.Node, string)) {
	for _, tag := range []string{"a", "link"} {
		for _, n := range doc.FindAll(tag) {
			rel, ok := markup.Attr(n, "rel")
			if !ok || !hasRelAttachment(rel) {
				continue
			}
			href, ok := markup.Attr(n, "href")
			if !ok {
				continue
			}
			fn(n, href)
		}
	}
}

func hasRelAttachment(rel string) bool {
	for _, tok := range strings.Fields(rel) {
		if strings.EqualFold(tok, "attachment") {
			return true
		}
	}
	return false
}

// hrefBasename extracts the percent-decoded final path segment.
func hrefBasename(href string) string {
	if s, err := url.PathUnescape(href); err == nil {
		href = s
	}
	name := path.Base(href)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
