// Package coursedeck provides the core courseware document model and the
// HTML parser that slices a courseware document into navigable pages.
package coursedeck

// Page is one navigable unit inside a courseware document.
type Page struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	SectionSelector string `json:"sectionSelector"`
	Index           int    `json:"index"`
}

// Metadata holds optional lesson metadata extracted from the cover section.
// A nil *Metadata means no labelled field was found.
type Metadata struct {
	Subject  string `json:"subject,omitempty"`
	Grade    string `json:"grade,omitempty"`
	Semester string `json:"semester,omitempty"`
	Author   string `json:"author,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Courseware is one loaded HTML document sliced into pages.
//
// Identity: SourcePath (base raw URL + file path) for repository-loaded
// entries, a generated ID for local uploads. Pages is never empty; a
// sectionless document yields a single synthetic page addressing body.
type Courseware struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Pages    []Page    `json:"pages"`
	FullHTML string    `json:"fullHTML"`
	Metadata *Metadata `json:"metadata,omitempty"`

	// Repository provenance. Empty for local uploads.
	Platform   string `json:"platform,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Repo       string `json:"repo,omitempty"`
	Branch     string `json:"branch,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	GroupName  string `json:"groupName,omitempty"`
	SourcePath string `json:"sourcePath,omitempty"`
	Bundled    bool   `json:"isBundled"`
}

// Key returns the deduplication key: SourcePath when present, else ID.
func (c *Courseware) Key() string {
	if c.SourcePath != "" {
		return c.SourcePath
	}
	return c.ID
}

// PageCount returns the number of pages.
func (c *Courseware) PageCount() int {
	return len(c.Pages)
}

// ClampPage clamps a requested page index into the valid range.
func (c *Courseware) ClampPage(index int) int {
	if index < 0 {
		return 0
	}
	if index >= len(c.Pages) {
		return len(c.Pages) - 1
	}
	return index
}

// Group is a named cluster of courseware declared together in a manifest,
// typically one folder per lesson topic.
type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	CourseID    string        `json:"courseId"`
	Coursewares []*Courseware `json:"coursewares"`

	Platform string `json:"platform,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`

	// DescriptionHTML is rendered from the group folder's README.md when the
	// repository provides one. Best-effort; empty when absent.
	DescriptionHTML string `json:"descriptionHTML,omitempty"`
}

// FindCourseware returns the group's courseware whose file name (without
// directory or extension) matches course, or nil.
func (g *Group) FindCourseware(course string) *Courseware {
	for _, cw := range g.Coursewares {
		if CourseName(cw.FilePath) == course {
			return cw
		}
	}
	return nil
}

// RepoConfig identifies one configured courseware repository by its raw
// content base URL. The URL must resolve to a manifest.json.
type RepoConfig struct {
	BaseURL string `json:"baseUrl" yaml:"base_url"`
}
