package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// SectionRef is a link from the sections index to one section page
type SectionRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChapterRef is a link from a section page to one chapter page
type ChapterRef struct {
	ID        string `json:"id"` // Two-digit chapter number
	SectionID string `json:"section_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

var (
	sectionIDRe     = regexp.MustCompile(`(?i)section\s*([ivxlc]+|\d+)\b`)
	chapterTextRe   = regexp.MustCompile(`(?i)chapter\s*(\d{1,2})\b`)
	chapterHrefIDRe = regexp.MustCompile(`(?i)(?:chapter|ch)[-_/=]?(\d{1,2})(?:\D|$)`)
)

// LinkExtractor finds section and chapter links in index pages
type LinkExtractor struct {
	sectionPattern *regexp.Regexp
	chapterPattern *regexp.Regexp
}

// NewLinkExtractor compiles the patterns that identify section and chapter
// links. A link qualifies when its href or its text matches.
func NewLinkExtractor(sectionPattern, chapterPattern string) (*LinkExtractor, error) {
	sp, err := regexp.Compile(sectionPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid section link pattern: %w", err)
	}
	cp, err := regexp.Compile(chapterPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid chapter link pattern: %w", err)
	}
	return &LinkExtractor{sectionPattern: sp, chapterPattern: cp}, nil
}

// Sections lists the section pages linked from the sections index
func (l *LinkExtractor) Sections(htmlContent, pageURL string) ([]SectionRef, error) {
	links, err := l.links(htmlContent, pageURL, l.sectionPattern)
	if err != nil {
		return nil, err
	}
	var refs []SectionRef
	for i, link := range links {
		id := ""
		if m := sectionIDRe.FindStringSubmatch(link.text); m != nil {
			id = strings.ToUpper(m[1])
		} else if m := sectionIDRe.FindStringSubmatch(link.href); m != nil {
			id = strings.ToUpper(m[1])
		} else {
			id = fmt.Sprintf("%d", i+1)
		}
		refs = append(refs, SectionRef{ID: id, Title: link.text, URL: link.url})
	}
	return refs, nil
}

// Chapters lists the chapter pages linked from a section page. Links whose
// chapter number cannot be determined are skipped.
func (l *LinkExtractor) Chapters(htmlContent, pageURL, sectionID string) ([]ChapterRef, error) {
	links, err := l.links(htmlContent, pageURL, l.chapterPattern)
	if err != nil {
		return nil, err
	}
	var refs []ChapterRef
	for _, link := range links {
		id := ""
		if m := chapterTextRe.FindStringSubmatch(link.text); m != nil {
			id = m[1]
		} else if m := chapterHrefIDRe.FindStringSubmatch(link.href); m != nil {
			id = m[1]
		}
		if id == "" {
			continue
		}
		if len(id) == 1 {
			id = "0" + id
		}
		refs = append(refs, ChapterRef{ID: id, SectionID: sectionID, Title: link.text, URL: link.url})
	}
	return refs, nil
}

type link struct {
	href string
	url  string
	text string
}

// links returns matching anchors in document order, deduplicated by URL
func (l *LinkExtractor) links(htmlContent, pageURL string, pattern *regexp.Regexp) ([]link, error) {
	doc, err := parseHTML(htmlContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	seen := make(map[string]bool)
	var out []link
	for _, a := range findAll(doc, func(n *html.Node) bool { return isElement(n, "a") }) {
		href := attr(a, "href")
		text := textOf(a)
		if !pattern.MatchString(href) && !pattern.MatchString(text) {
			continue
		}
		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] || resolved == base.String() {
			continue
		}
		seen[resolved] = true
		out = append(out, link{href: href, url: resolved, text: text})
	}
	return out, nil
}
