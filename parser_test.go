package coursedeck

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTMLSections(t *testing.T) {
	doc := `<!DOCTYPE html>
<html>
<head><title>光的折射</title></head>
<body>
<section id="cover"><h1>封面</h1></section>
<section data-section="intro" data-title="引入"><p>text</p></section>
<section><h2>实验</h2></section>
</body>
</html>`

	cw := ParseHTML(doc, "lesson.html", nil)
	require.Len(t, cw.Pages, 3)

	assert.Equal(t, "光的折射", cw.Title)
	assert.Equal(t, "cover", cw.Pages[0].ID)
	assert.Equal(t, "#cover", cw.Pages[0].SectionSelector)
	assert.Equal(t, "封面", cw.Pages[0].Title)

	assert.Equal(t, "intro", cw.Pages[1].ID)
	assert.Equal(t, `[data-section="intro"]`, cw.Pages[1].SectionSelector)
	assert.Equal(t, "引入", cw.Pages[1].Title)

	assert.Equal(t, "page-2", cw.Pages[2].ID)
	assert.Equal(t, "section:nth-of-type(3)", cw.Pages[2].SectionSelector)
	assert.Equal(t, "实验", cw.Pages[2].Title)
}

func TestParseHTMLPageIndexInvariant(t *testing.T) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>t</title></head><body>")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, "<section id=\"s%d\"></section>", i)
	}
	b.WriteString("</body></html>")

	cw := ParseHTML(b.String(), "t.html", nil)
	require.Len(t, cw.Pages, 7)
	for i, p := range cw.Pages {
		assert.Equal(t, i, p.Index)
	}
}

func TestParseHTMLSectionless(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		filename  string
		wantTitle string
	}{
		{
			name:      "plain document",
			html:      "<!DOCTYPE html><html><head><title>Plain</title></head><body><p>hi</p></body></html>",
			filename:  "plain.html",
			wantTitle: "Plain",
		},
		{
			name:      "no title falls back to filename",
			html:      "<!DOCTYPE html><html><head></head><body><p>hi</p></body></html>",
			filename:  "notes.html",
			wantTitle: "notes",
		},
		{
			name:      "garbage input",
			html:      "<<<not really html>>>",
			filename:  "junk.html",
			wantTitle: "junk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cw := ParseHTML(tt.html, tt.filename, nil)
			require.Len(t, cw.Pages, 1)
			assert.Equal(t, "body", cw.Pages[0].SectionSelector)
			assert.Equal(t, 0, cw.Pages[0].Index)
			assert.Equal(t, tt.wantTitle, cw.Title)
		})
	}
}

func TestParseHTMLSelectorUniqueness(t *testing.T) {
	const n = 5
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>sel</title></head><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<section id=\"sec-%d\"><h2>part %d</h2></section>", i, i)
	}
	b.WriteString("</body></html>")
	source := b.String()

	cw := ParseHTML(source, "sel.html", nil)
	require.Len(t, cw.Pages, n)

	// Re-query each produced selector against the original document; each must
	// address exactly one node, all distinct.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, p := range cw.Pages {
		sel := doc.Find(p.SectionSelector)
		require.Equal(t, 1, sel.Length(), "selector %q", p.SectionSelector)
		id := sel.AttrOr("id", "")
		assert.False(t, seen[id], "selector %q resolved to an already-seen node", p.SectionSelector)
		seen[id] = true
	}
}

func TestParseHTMLPreservesOriginalText(t *testing.T) {
	// Script content that DOM re-serialization would escape.
	doc := "<!DOCTYPE html>\n<html><head><title>js</title></head><body>" +
		"<section id=\"a\"></section>" +
		"<script>if (a < b && c > d) { play(); }</script>" +
		"</body></html>"

	cw := ParseHTML(doc, "js.html", nil)
	assert.Equal(t, doc, cw.FullHTML)
}

func TestParseHTMLFragmentGetsDoctype(t *testing.T) {
	cw := ParseHTML("<section id=\"a\"><h1>A</h1></section>", "frag.html", nil)
	assert.True(t, strings.HasPrefix(cw.FullHTML, "<!DOCTYPE html>\n"))
	assert.Contains(t, cw.FullHTML, "<section id=\"a\">")
}

func TestParseHTMLMetadata(t *testing.T) {
	doc := `<!DOCTYPE html><html><head><title>m</title></head><body>
<section id="cover">
<p>学科：物理</p>
<p>年级：八年级</p>
<p>作者：张老师</p>
<p>单位：实验中学</p>
<p>教材版本：人教版</p>
</section>
<section id="s1"></section>
</body></html>`

	cw := ParseHTML(doc, "m.html", nil)
	require.NotNil(t, cw.Metadata)
	assert.Equal(t, "物理", cw.Metadata.Subject)
	assert.Equal(t, "八年级", cw.Metadata.Grade)
	assert.Equal(t, "张老师", cw.Metadata.Author)
	assert.Equal(t, "实验中学", cw.Metadata.Unit)
	assert.Equal(t, "人教版", cw.Metadata.Version)
}

func TestParseHTMLMetadataAbsentWhenNoLabels(t *testing.T) {
	doc := `<!DOCTYPE html><html><head><title>m</title></head><body>
<section id="cover"><h1>没有标签的封面</h1></section>
</body></html>`

	cw := ParseHTML(doc, "m.html", nil)
	assert.Nil(t, cw.Metadata)
}

func TestCourseName(t *testing.T) {
	assert.Equal(t, "a", CourseName("ch1/a.html"))
	assert.Equal(t, "lesson", CourseName("lesson.html"))
	assert.Equal(t, "b", CourseName("deep/nested/b.htm"))
}
