// Package repourl maps between the three URL shapes a courseware repository
// is addressed by: user-supplied repo URLs, raw-content URLs, and semantic
// courseware page paths.
//
// Every function is pure and total: malformed input yields a nil result,
// never a panic or an error. URLs arrive from user typing, stored config and
// route parameters, so callers treat misparses as a branch.
package repourl

import (
	"net/url"
	"strconv"
	"strings"
)

// Supported platforms. No others exist.
const (
	PlatformGitHub = "github"
	PlatformGitee  = "gitee"
)

// Parsed is the structured identity of a repository.
type Parsed struct {
	Platform string
	Owner    string
	Repo     string
	Branch   string
	RawURL   string
}

// CoursewarePath is the decoded form of a semantic courseware page path.
type CoursewarePath struct {
	Platform  string
	Owner     string
	Repo      string
	Branch    string
	Folder    string
	Course    string
	PageIndex *int // nil when absent or non-numeric
}

// IsSupportedPlatform reports whether the token names a supported platform.
func IsSupportedPlatform(platform string) bool {
	return platform == PlatformGitHub || platform == PlatformGitee
}

// ParseUserRepoURL parses a user-supplied repository URL or shorthand into a
// repository identity. Accepted forms:
//
//	https://github.com/owner/repo[/tree/branch]
//	github.com/owner/repo
//	github/owner/repo
//
// and the gitee equivalents. Trailing slashes and a .git suffix are stripped.
// Returns nil for unsupported hosts or insufficient path segments.
func ParseUserRepoURL(input, defaultBranch string) *Parsed {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	input = strings.TrimPrefix(input, "https://")
	input = strings.TrimPrefix(input, "http://")
	input = strings.TrimSuffix(input, "/")
	input = strings.TrimSuffix(input, ".git")

	segments := strings.Split(input, "/")
	if len(segments) < 3 {
		return nil
	}

	platform := platformFromHost(segments[0])
	if platform == "" {
		return nil
	}

	owner, repo := segments[1], segments[2]
	if owner == "" || repo == "" {
		return nil
	}

	branch := defaultBranch
	// Explicit branch from a /tree/<branch> segment.
	if len(segments) >= 5 && segments[3] == "tree" && segments[4] != "" {
		branch = segments[4]
	}

	return &Parsed{
		Platform: platform,
		Owner:    owner,
		Repo:     repo,
		Branch:   branch,
		RawURL:   ConvertToRawURL(platform, owner, repo, branch),
	}
}

// platformFromHost maps a host or shorthand token to a platform name.
func platformFromHost(host string) string {
	switch strings.ToLower(host) {
	case "github.com", PlatformGitHub:
		return PlatformGitHub
	case "gitee.com", PlatformGitee:
		return PlatformGitee
	default:
		return ""
	}
}

// ConvertToRawURL builds the raw content base URL for a repository. The
// result always ends with a trailing slash.
func ConvertToRawURL(platform, owner, repo, branch string) string {
	switch platform {
	case PlatformGitee:
		return "https://gitee.com/" + owner + "/" + repo + "/raw/" + branch + "/"
	default:
		return "https://raw.githubusercontent.com/" + owner + "/" + repo + "/" + branch + "/"
	}
}

// ParseRawURL recognizes the two supported raw-content URL shapes and
// extracts the repository identity. Returns nil for anything else.
func ParseRawURL(rawURL string) *Parsed {
	trimmed := strings.TrimPrefix(rawURL, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimSuffix(trimmed, "/")

	segments := strings.Split(trimmed, "/")
	if len(segments) < 4 {
		return nil
	}

	switch segments[0] {
	case "raw.githubusercontent.com":
		// raw.githubusercontent.com/{owner}/{repo}/{branch}
		owner, repo, branch := segments[1], segments[2], segments[3]
		if owner == "" || repo == "" || branch == "" {
			return nil
		}
		return &Parsed{
			Platform: PlatformGitHub,
			Owner:    owner,
			Repo:     repo,
			Branch:   branch,
			RawURL:   ConvertToRawURL(PlatformGitHub, owner, repo, branch),
		}
	case "gitee.com":
		// gitee.com/{owner}/{repo}/raw/{branch}
		if len(segments) < 5 || segments[3] != "raw" {
			return nil
		}
		owner, repo, branch := segments[1], segments[2], segments[4]
		if owner == "" || repo == "" || branch == "" {
			return nil
		}
		return &Parsed{
			Platform: PlatformGitee,
			Owner:    owner,
			Repo:     repo,
			Branch:   branch,
			RawURL:   ConvertToRawURL(PlatformGitee, owner, repo, branch),
		}
	default:
		return nil
	}
}

// BuildCoursewarePath builds the semantic page path
// /{platform}/{owner}/{repo}/{folder}/{course}[/{pageIndex}] with each
// segment percent-encoded independently.
func BuildCoursewarePath(platform, owner, repo, folder, course string, pageIndex ...int) string {
	parts := []string{platform, owner, repo, folder, course}
	encoded := make([]string, len(parts))
	for i, p := range parts {
		encoded[i] = url.PathEscape(p)
	}
	result := "/" + strings.Join(encoded, "/")
	if len(pageIndex) > 0 {
		result += "/" + strconv.Itoa(pageIndex[0])
	}
	return result
}

// ParseCoursewarePath is the inverse of BuildCoursewarePath. It requires
// exactly five or six path segments and a supported platform token; the
// sixth segment is the page index and a non-numeric value is treated as
// absent, not as an error. Returns nil when the path is not a courseware
// path.
func ParseCoursewarePath(pathname, defaultBranch string) *CoursewarePath {
	segments := splitPath(pathname)
	if len(segments) < 5 || len(segments) > 6 {
		return nil
	}

	platform := segments[0]
	if !IsSupportedPlatform(platform) {
		return nil
	}

	folder, err := url.PathUnescape(segments[3])
	if err != nil {
		folder = segments[3]
	}
	course, err := url.PathUnescape(segments[4])
	if err != nil {
		course = segments[4]
	}

	parsed := &CoursewarePath{
		Platform: platform,
		Owner:    segments[1],
		Repo:     segments[2],
		Branch:   defaultBranch,
		Folder:   folder,
		Course:   course,
	}

	if len(segments) >= 6 {
		if idx, err := strconv.Atoi(segments[5]); err == nil && idx >= 0 {
			parsed.PageIndex = &idx
		}
	}

	return parsed
}

// CourseID builds the stable semantic key platform/owner/repo/folder that
// identifies a course group across repositories.
func CourseID(platform, owner, repo, folder string) string {
	return platform + "/" + owner + "/" + repo + "/" + folder
}

// ParseCourseID splits a semantic course id back into its four components.
// Returns nil when the id does not have exactly four segments or names an
// unsupported platform.
func ParseCourseID(courseID string) *CoursewarePath {
	segments := strings.Split(strings.Trim(courseID, "/"), "/")
	if len(segments) != 4 || !IsSupportedPlatform(segments[0]) {
		return nil
	}
	return &CoursewarePath{
		Platform: segments[0],
		Owner:    segments[1],
		Repo:     segments[2],
		Folder:   segments[3],
	}
}

// IsLegacyCourseToken reports whether the token is a 32-hex-character legacy
// course id.
func IsLegacyCourseToken(token string) bool {
	if len(token) != 32 {
		return false
	}
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// splitPath splits a URL path into non-empty segments.
func splitPath(pathname string) []string {
	raw := strings.Split(strings.Trim(pathname, "/"), "/")
	segments := raw[:0]
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
