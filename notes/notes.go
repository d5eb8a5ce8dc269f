// CLAUDE:SUMMARY Sticky-note markup extraction: parses note trees out of HTML and plants link markers for the PDF pass.
// Package notes turns structured note markup embedded in HTML into
// native PDF sticky-note annotations. It runs in two phases around the
// PDF engine: Extract pulls note trees out of the document and replaces
// them with invisible link markers, Apply rewrites the resulting /Link
// annotations in the PDF into /Text annotations with reply chains.
package notes

import (
	stdhtml "html"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/printpipe/markup"
)

// Note markup class names. A note element may nest further note
// elements, which become replies.
const (
	ClassNote     = "printpipe-note"
	ClassTime     = "printpipe-note-time"
	ClassUsername = "printpipe-note-username"
	ClassText     = "printpipe-note-text"
	ClassTitle    = "printpipe-note-title"
)

// MarkerPrefix is the URI scheme prefix of marker links. The PDF engine
// turns these into /Link annotations whose URI carries the note ID.
const MarkerPrefix = "https://printpipe.note/"

// Note is one sticky annotation with its nested replies.
type Note struct {
	ID      string
	Author  string
	Title   string
	Text    string
	Time    string
	Replies []Note
}

var stripMarkup = bluemonday.StrictPolicy()

// Extract finds all top-level note elements, parses them into Note
// trees and replaces each with a 20x20 invisible link marker. Field
// values come from direct children only; deeper descendants belong to
// nested replies or unrelated markup.
func Extract(doc *markup.Document) []Note {
	var out []Note
	for _, n := range doc.FindAllClass(ClassNote) {
		if markup.HasAncestor(n, func(a *html.Node) bool {
			return markup.HasClass(a, ClassNote)
		}) {
			continue
		}
		note := parseNote(n)
		out = append(out, note)

		marker := markup.NewElement("a",
			"href", MarkerPrefix+note.ID,
			"style", "display: inline-block; width: 20px; height: 20px; overflow: hidden;")
		marker.AppendChild(markup.NewText("N"))
		markup.Replace(n, marker)
	}
	return out
}

func parseNote(n *html.Node) Note {
	note := Note{ID: uuid.NewString()}
	for _, child := range markup.DirectChildren(n) {
		switch {
		case markup.HasClass(child, ClassNote):
			note.Replies = append(note.Replies, parseNote(child))
		case markup.HasClass(child, ClassTime):
			note.Time = fieldText(child)
		case markup.HasClass(child, ClassUsername):
			note.Author = fieldText(child)
		case markup.HasClass(child, ClassText):
			note.Text = fieldText(child)
		case markup.HasClass(child, ClassTitle):
			note.Title = fieldText(child)
		}
	}
	return note
}

// fieldText flattens a field node to plain text: tags stripped, entities
// decoded, whitespace collapsed.
func fieldText(n *html.Node) string {
	raw, err := markup.Render(n)
	if err != nil {
		return markup.Text(n)
	}
	clean := stripMarkup.Sanitize(raw)
	return strings.Join(strings.Fields(stdhtml.UnescapeString(clean)), " ")
}

// Count returns the total number of annotations a note tree produces,
// the note itself plus all transitive replies.
func Count(ns []Note) int {
	total := 0
	for _, n := range ns {
		total += 1 + Count(n.Replies)
	}
	return total
}
