package coursedeck

import (
	"fmt"
	"regexp"
	"strings"
)

// audioRefPattern matches new Audio('path') / new Audio("path") calls in
// courseware script text. Group 2 is the literal path as written.
var audioRefPattern = regexp.MustCompile(`new Audio\((['"])([^'"]+?\.mp3)(['"])\)`)

// AssetResolver maps literal asset paths, as they appear in courseware source
// text, to absolute URLs. Callers build the resolver before parsing; ParseHTML
// consults it to rewrite audio references inside the preserved document text.
type AssetResolver struct {
	paths map[string]string
}

// NewAssetResolver returns an empty resolver.
func NewAssetResolver() *AssetResolver {
	return &AssetResolver{paths: make(map[string]string)}
}

// Register maps one literal source path to an absolute URL. Both the path as
// written and its "./"-prefixed variant are registered so either spelling in
// the source resolves.
func (r *AssetResolver) Register(literal, absolute string) {
	if literal == "" || absolute == "" {
		return
	}
	trimmed := strings.TrimPrefix(literal, "./")
	r.paths[literal] = absolute
	r.paths[trimmed] = absolute
	r.paths["./"+trimmed] = absolute
}

// Resolve looks up the absolute URL for a literal source path.
func (r *AssetResolver) Resolve(literal string) (string, bool) {
	abs, ok := r.paths[literal]
	return abs, ok
}

// Len returns the number of registered path spellings.
func (r *AssetResolver) Len() int {
	return len(r.paths)
}

// RewriteAudio substitutes every resolvable new Audio("<path>") occurrence in
// htmlText with its absolute URL. Unresolvable paths are left untouched.
func (r *AssetResolver) RewriteAudio(htmlText string) string {
	if r == nil || len(r.paths) == 0 {
		return htmlText
	}
	return audioRefPattern.ReplaceAllStringFunc(htmlText, func(match string) string {
		m := audioRefPattern.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		abs, ok := r.paths[m[2]]
		if !ok {
			return match
		}
		return fmt.Sprintf("new Audio(%s%s%s)", m[1], abs, m[3])
	})
}

// ScanAudioRefs returns the literal audio paths referenced by htmlText, in
// order of appearance, without deduplication.
func ScanAudioRefs(htmlText string) []string {
	matches := audioRefPattern.FindAllStringSubmatch(htmlText, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[2])
	}
	return refs
}
