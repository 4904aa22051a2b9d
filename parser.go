package coursedeck

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Labels scanned from the cover section's text. Each regex is independent;
// authors who skip the convention simply get no metadata.
var (
	subjectPattern  = regexp.MustCompile(`学科[：:]\s*([^\s，,；;]+)`)
	gradePattern    = regexp.MustCompile(`年级[：:]\s*([^\s，,；;]+)`)
	semesterPattern = regexp.MustCompile(`学期[：:]\s*([^\s，,；;]+)`)
	authorPattern   = regexp.MustCompile(`作者[：:]\s*([^\s，,；;]+)`)
	unitPattern     = regexp.MustCompile(`单位[：:]\s*([^\s，,；;]+)`)
	versionPattern  = regexp.MustCompile(`教材版本[：:]\s*([^\s，,；;]+)`)
)

// ParseHTML parses a courseware HTML document into a Courseware.
//
// It never fails for malformed-but-parseable input: garbage degrades to a
// single synthetic page addressing body. Audio references are rewritten
// through the supplied resolver before the document text is preserved, so the
// resolver must be populated by the caller first; a nil resolver leaves
// references untouched.
func ParseHTML(htmlText, filename string, assets *AssetResolver) *Courseware {
	if assets != nil {
		htmlText = assets.RewriteAudio(htmlText)
	}

	cw := &Courseware{
		Title:    strings.TrimSuffix(path.Base(filename), path.Ext(filename)),
		FullHTML: htmlText,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		cw.Pages = []Page{{ID: "page-0", Title: cw.Title, SectionSelector: "body", Index: 0}}
		return cw
	}

	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		cw.Title = title
	}

	sections := doc.Find("section, [data-section]")
	if sections.Length() == 0 {
		cw.Pages = []Page{{ID: "page-0", Title: cw.Title, SectionSelector: "body", Index: 0}}
	} else {
		cw.Pages = extractPages(sections)
		cw.Metadata = extractMetadata(sections.First())
	}

	// Preserve the original text byte-for-byte when it is already a complete
	// document. Re-serializing through the DOM can re-escape script content
	// and break embedded JavaScript.
	if !isCompleteDocument(htmlText) {
		cw.FullHTML = serializeDocument(doc, htmlText)
	}

	return cw
}

// extractPages maps each section element, in document order, to a Page.
func extractPages(sections *goquery.Selection) []Page {
	pages := make([]Page, 0, sections.Length())
	sections.Each(func(i int, s *goquery.Selection) {
		id := s.AttrOr("id", "")
		dataSection := s.AttrOr("data-section", "")

		pageID := id
		if pageID == "" {
			pageID = dataSection
		}
		if pageID == "" {
			pageID = fmt.Sprintf("page-%d", i)
		}

		title := strings.TrimSpace(s.AttrOr("data-title", ""))
		if title == "" {
			title = strings.TrimSpace(s.Find("h1, h2, h3").First().Text())
		}
		if title == "" {
			title = fmt.Sprintf("第%d页", i+1)
		}

		pages = append(pages, Page{
			ID:              pageID,
			Title:           title,
			SectionSelector: sectionSelector(s, id, dataSection),
			Index:           i,
		})
	})
	return pages
}

// sectionSelector builds a CSS selector locating the section within the full
// document. The positional fallback counts same-tag element siblings only, so
// the result is re-derivable from the DOM alone.
func sectionSelector(s *goquery.Selection, id, dataSection string) string {
	if id != "" {
		return "#" + id
	}
	if dataSection != "" {
		return fmt.Sprintf("[data-section=%q]", dataSection)
	}

	node := s.Get(0)
	position := 1
	for sib := node.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == node.Data {
			position++
		}
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", node.Data, position)
}

// extractMetadata scans the cover section's text for labelled key:value
// fields. Returns nil when no label matches.
func extractMetadata(cover *goquery.Selection) *Metadata {
	text := cover.Text()

	meta := &Metadata{}
	found := false
	assign := func(pattern *regexp.Regexp, dst *string) {
		if m := pattern.FindStringSubmatch(text); m != nil {
			*dst = m[1]
			found = true
		}
	}
	assign(subjectPattern, &meta.Subject)
	assign(gradePattern, &meta.Grade)
	assign(semesterPattern, &meta.Semester)
	assign(authorPattern, &meta.Author)
	assign(unitPattern, &meta.Unit)
	assign(versionPattern, &meta.Version)

	if !found {
		return nil
	}
	return meta
}

// isCompleteDocument reports whether the text already begins with a doctype
// or <html> tag, ignoring leading whitespace and case.
func isCompleteDocument(htmlText string) bool {
	head := strings.ToLower(strings.TrimSpace(htmlText))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// serializeDocument renders the parsed document with a doctype prepended.
// Falls back to the raw text if rendering fails.
func serializeDocument(doc *goquery.Document, raw string) string {
	if len(doc.Nodes) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc.Nodes[0]); err != nil {
		return raw
	}
	return "<!DOCTYPE html>\n" + buf.String()
}

// CourseName derives the course segment of a semantic URL from a manifest
// file path: the base name with its extension stripped.
func CourseName(filePath string) string {
	return strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
}
