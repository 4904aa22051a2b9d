package repourl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserRepoURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Parsed
	}{
		{
			name:  "full github url",
			input: "https://github.com/alice/physics",
			want:  &Parsed{Platform: "github", Owner: "alice", Repo: "physics", Branch: "main"},
		},
		{
			name:  "bare host form",
			input: "github.com/alice/physics",
			want:  &Parsed{Platform: "github", Owner: "alice", Repo: "physics", Branch: "main"},
		},
		{
			name:  "platform shorthand",
			input: "gitee/bob/chem",
			want:  &Parsed{Platform: "gitee", Owner: "bob", Repo: "chem", Branch: "main"},
		},
		{
			name:  "explicit branch via tree segment",
			input: "https://github.com/alice/physics/tree/dev",
			want:  &Parsed{Platform: "github", Owner: "alice", Repo: "physics", Branch: "dev"},
		},
		{
			name:  "trailing slash and git suffix",
			input: "https://gitee.com/bob/chem.git/",
			want:  &Parsed{Platform: "gitee", Owner: "bob", Repo: "chem", Branch: "main"},
		},
		{
			name:  "unsupported host",
			input: "https://gitlab.com/alice/physics",
			want:  nil,
		},
		{
			name:  "too few segments",
			input: "github.com/alice",
			want:  nil,
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserRepoURL(tt.input, "main")
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Platform, got.Platform)
			assert.Equal(t, tt.want.Owner, got.Owner)
			assert.Equal(t, tt.want.Repo, got.Repo)
			assert.Equal(t, tt.want.Branch, got.Branch)
			assert.NotEmpty(t, got.RawURL)
		})
	}
}

func TestRawURLRoundTrip(t *testing.T) {
	for _, platform := range []string{PlatformGitHub, PlatformGitee} {
		t.Run(platform, func(t *testing.T) {
			raw := ConvertToRawURL(platform, "alice", "physics", "dev")
			got := ParseRawURL(raw)
			require.NotNil(t, got)
			assert.Equal(t, platform, got.Platform)
			assert.Equal(t, "alice", got.Owner)
			assert.Equal(t, "physics", got.Repo)
			assert.Equal(t, "dev", got.Branch)
			assert.Equal(t, raw, got.RawURL)
		})
	}
}

func TestParseRawURLRejectsOtherShapes(t *testing.T) {
	for _, input := range []string{
		"https://example.com/a/b/c",
		"https://gitee.com/alice/physics/blob/main/",
		"https://raw.githubusercontent.com/alice",
		"",
	} {
		assert.Nil(t, ParseRawURL(input), "input %q", input)
	}
}

func TestCoursewarePathRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		folder    string
		course    string
		pageIndex int
	}{
		{name: "ascii", folder: "ch1", course: "a", pageIndex: 1},
		{name: "chinese segments", folder: "第一章", course: "光的折射", pageIndex: 0},
		{name: "segments with spaces", folder: "unit 1", course: "intro lesson", pageIndex: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := BuildCoursewarePath("github", "alice", "physics", tt.folder, tt.course, tt.pageIndex)
			got := ParseCoursewarePath(path, "main")
			require.NotNil(t, got)
			assert.Equal(t, "github", got.Platform)
			assert.Equal(t, "alice", got.Owner)
			assert.Equal(t, "physics", got.Repo)
			assert.Equal(t, tt.folder, got.Folder)
			assert.Equal(t, tt.course, got.Course)
			require.NotNil(t, got.PageIndex)
			assert.Equal(t, tt.pageIndex, *got.PageIndex)
		})
	}
}

func TestParseCoursewarePathOptionalIndex(t *testing.T) {
	got := ParseCoursewarePath("/github/alice/physics/ch1/a", "main")
	require.NotNil(t, got)
	assert.Nil(t, got.PageIndex)
	assert.Equal(t, "main", got.Branch)

	// Non-numeric index is absent, not an error.
	got = ParseCoursewarePath("/github/alice/physics/ch1/a/latest", "main")
	require.NotNil(t, got)
	assert.Nil(t, got.PageIndex)
}

func TestParseCoursewarePathRejects(t *testing.T) {
	for _, input := range []string{
		"/gitlab/alice/physics/ch1/a",
		"/github/alice/physics/ch1",
		"/github/alice/physics/ch1/a/1/extra",
		"/player/2/0",
		"/",
	} {
		assert.Nil(t, ParseCoursewarePath(input, "main"), "input %q", input)
	}
}

func TestCourseID(t *testing.T) {
	id := CourseID("github", "alice", "physics", "ch1")
	assert.Equal(t, "github/alice/physics/ch1", id)

	parsed := ParseCourseID(id)
	require.NotNil(t, parsed)
	assert.Equal(t, "ch1", parsed.Folder)

	assert.Nil(t, ParseCourseID("github/alice/physics"))
	assert.Nil(t, ParseCourseID("gitlab/a/b/c"))
}

func TestIsLegacyCourseToken(t *testing.T) {
	assert.True(t, IsLegacyCourseToken("0123456789abcdef0123456789abcdef"))
	assert.False(t, IsLegacyCourseToken("0123456789abcdef"))
	assert.False(t, IsLegacyCourseToken("0123456789abcdef0123456789abcdeg"))
	assert.False(t, IsLegacyCourseToken("github/alice/physics/ch1"))
}
