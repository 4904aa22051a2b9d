package coursedeck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetResolverRegisterVariants(t *testing.T) {
	r := NewAssetResolver()
	r.Register("./clip.mp3", "https://example.com/media/clip.mp3")

	for _, spelling := range []string{"./clip.mp3", "clip.mp3"} {
		abs, ok := r.Resolve(spelling)
		require.True(t, ok, "spelling %q", spelling)
		assert.Equal(t, "https://example.com/media/clip.mp3", abs)
	}
}

func TestRewriteAudioOrdering(t *testing.T) {
	const doc = `<!DOCTYPE html><html><body><script>var s = new Audio('./clip.mp3');</script></body></html>`

	// Populating the resolver before parsing yields the absolute URL.
	r := NewAssetResolver()
	r.Register("./clip.mp3", "https://example.com/clip.mp3")
	cw := ParseHTML(doc, "a.html", r)
	assert.Contains(t, cw.FullHTML, `new Audio('https://example.com/clip.mp3')`)

	// Parsing with an empty resolver leaves the relative path unchanged.
	cw = ParseHTML(doc, "a.html", NewAssetResolver())
	assert.Contains(t, cw.FullHTML, `new Audio('./clip.mp3')`)
}

func TestRewriteAudioUnresolvedLeftAlone(t *testing.T) {
	r := NewAssetResolver()
	r.Register("known.mp3", "https://example.com/known.mp3")

	text := `new Audio("known.mp3"); new Audio("other.mp3");`
	got := r.RewriteAudio(text)
	assert.Contains(t, got, `new Audio("https://example.com/known.mp3")`)
	assert.Contains(t, got, `new Audio("other.mp3")`)
}

func TestScanAudioRefs(t *testing.T) {
	text := `new Audio('./a.mp3'); var x = 1; new Audio("b.mp3"); new Audio('./a.mp3');`
	refs := ScanAudioRefs(text)
	assert.Equal(t, []string{"./a.mp3", "b.mp3", "./a.mp3"}, refs)
}
