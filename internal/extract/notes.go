package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// noteLocations are tried in priority order; the first that yields any text wins
var noteLocations = []func(doc *html.Node) []*html.Node{
	func(doc *html.Node) []*html.Node {
		return findAll(doc, func(n *html.Node) bool { return hasClass(n, "chapter-notes") })
	},
	func(doc *html.Node) []*html.Node {
		if n := findFirst(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && attr(n, "id") == "notes" }); n != nil {
			return []*html.Node{n}
		}
		return nil
	},
	func(doc *html.Node) []*html.Node {
		return findAll(doc, func(n *html.Node) bool { return hasClass(n, "notes") })
	},
	paragraphsBeforeTable,
}

// extractNotes returns the chapter notes as paragraphs, without duplicates
func extractNotes(doc *html.Node) []string {
	for _, locate := range noteLocations {
		var notes []string
		seen := make(map[string]bool)
		for _, container := range locate(doc) {
			for _, text := range paragraphs(container) {
				key := noteKey(text)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				notes = append(notes, text)
			}
		}
		if len(notes) > 0 {
			return notes
		}
	}
	return nil
}

// paragraphs splits a notes container into its p/li blocks, or returns its
// whole text when it has none
func paragraphs(n *html.Node) []string {
	if isElement(n, "p", "li") {
		return nonEmpty(textOf(n))
	}
	blocks := findAll(n, func(c *html.Node) bool { return isElement(c, "p", "li") })
	if len(blocks) == 0 {
		return nonEmpty(textOf(n))
	}
	var out []string
	for _, b := range blocks {
		out = append(out, nonEmpty(textOf(b))...)
	}
	return out
}

// paragraphsBeforeTable collects the paragraphs printed between the chapter
// heading and the first table
func paragraphsBeforeTable(doc *html.Node) []*html.Node {
	var out []*html.Node
	inside, done := false, false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if done {
			return
		}
		switch {
		case isElement(n, "table"):
			done = true
			return
		case isElement(n, "h1", "h2", "h3"):
			inside = true
			return
		case inside && isElement(n, "p"):
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// noteKey is the comparison form of a note: NFC, collapsed whitespace,
// case-folded
func noteKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFC.String(text)), " "))
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
