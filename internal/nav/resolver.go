// Package nav resolves navigation targets (semantic courseware tuples,
// positional index pairs, course deep links) to a committed position in the
// store's active list.
//
// Every route entry point satisfies one contract: ensure the addressed
// courseware is present in the active list, then render at whatever index it
// ends up at. The resolution runs as an explicit state machine instead of
// being scattered across the call sites.
package nav

import (
	"context"
	"log"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/repourl"
	"github.com/coursedeck/coursedeck/internal/store"
)

// State is the terminal state of one resolution attempt.
type State int

const (
	// StateReady means the target is committed to the active list.
	StateReady State = iota
	// StateLoading means the target could not be resolved yet but a load is
	// in flight; callers show a loading view, not a not-found view.
	StateLoading
	// StateNotFound means the target does not exist.
	StateNotFound
)

// Resolution is the outcome of a resolution attempt.
type Resolution struct {
	State      State
	Index      int // committed active-list index
	PageIndex  int // clamped page index
	Courseware *coursedeck.Courseware
	// CanonicalPath is the semantic path for the resolved target. When the
	// caller arrived through a different URL shape it replaces the browser
	// URL without adding a history entry. Empty when no canonical form
	// exists (pure local uploads).
	CanonicalPath string
}

// Resolver resolves navigation targets against the store.
type Resolver struct {
	store         *store.Store
	defaultBranch string
}

// New creates a Resolver.
func New(s *store.Store, defaultBranch string) *Resolver {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Resolver{store: s, defaultBranch: defaultBranch}
}

// ResolveSemantic resolves a parsed semantic courseware path. The state
// machine walks CheckActive, CheckBundled, then Fetch; commit is synchronous
// because store adds return the committed index directly.
func (r *Resolver) ResolveSemantic(ctx context.Context, target *repourl.CoursewarePath) Resolution {
	if target == nil || !repourl.IsSupportedPlatform(target.Platform) {
		return Resolution{State: StateNotFound}
	}

	requestedPage := 0
	if target.PageIndex != nil {
		requestedPage = *target.PageIndex
	}

	// CheckActive: an existing entry wins outright.
	if idx := r.store.IndexByProvenance(target.Platform, target.Owner, target.Repo, target.Folder, target.Course); idx >= 0 {
		return r.ready(idx, requestedPage)
	}

	// CheckBundled: the group is already known; activate it.
	if group := r.store.GroupByFolder(target.Platform, target.Owner, target.Repo, target.Folder); group != nil {
		if idx := r.store.AddGroup(group, target.Course); idx >= 0 {
			return r.ready(idx, requestedPage)
		}
		return Resolution{State: StateNotFound}
	}

	// Fetch: pull just this group from its repository.
	branch := target.Branch
	if branch == "" {
		branch = r.defaultBranch
	}
	cfg := coursedeck.RepoConfig{
		BaseURL: repourl.ConvertToRawURL(target.Platform, target.Owner, target.Repo, branch),
	}
	group, err := r.store.LoadGroupDirect(ctx, cfg, target.Folder)
	if err != nil {
		log.Printf("[Nav] Direct group fetch failed for %s: %v",
			repourl.CourseID(target.Platform, target.Owner, target.Repo, target.Folder), err)
		if r.store.IsLoading() {
			return Resolution{State: StateLoading}
		}
		return Resolution{State: StateNotFound}
	}

	if idx := r.store.AddGroup(group, target.Course); idx >= 0 {
		return r.ready(idx, requestedPage)
	}
	return Resolution{State: StateNotFound}
}

// ResolvePositional resolves a legacy positional target. A negative
// coursewareIndex addresses the current selection.
func (r *Resolver) ResolvePositional(coursewareIndex, pageIndex int) Resolution {
	var cw *coursedeck.Courseware
	var idx int
	if coursewareIndex < 0 {
		cw, idx = r.store.Current()
	} else {
		cw, idx = r.store.At(coursewareIndex), coursewareIndex
	}

	if cw == nil {
		// Distinguish "empty but converging" from "empty and nothing pending".
		if r.store.IsLoading() {
			return Resolution{State: StateLoading}
		}
		return Resolution{State: StateNotFound}
	}
	return r.ready(idx, pageIndex)
}

// ResolveCourseID resolves a course deep link. Both the legacy 32-hex group
// token and the semantic platform/owner/repo/folder form go through the same
// group lookup; only the semantic form can trigger a direct fetch.
func (r *Resolver) ResolveCourseID(ctx context.Context, courseID string) Resolution {
	if group := r.store.FindGroup(courseID); group != nil {
		if idx := r.store.AddGroup(group, ""); idx >= 0 {
			return r.ready(idx, 0)
		}
		return Resolution{State: StateNotFound}
	}

	if repourl.IsLegacyCourseToken(courseID) {
		// Legacy tokens only resolve against already-loaded groups.
		if r.store.IsLoading() {
			return Resolution{State: StateLoading}
		}
		return Resolution{State: StateNotFound}
	}

	parsed := repourl.ParseCourseID(courseID)
	if parsed == nil {
		return Resolution{State: StateNotFound}
	}
	parsed.Course = ""
	return r.ResolveSemantic(ctx, parsed)
}

// ready builds a Ready resolution at idx, clamping the page index and
// deriving the canonical semantic path.
func (r *Resolver) ready(idx, pageIndex int) Resolution {
	cw := r.store.At(idx)
	if cw == nil {
		return Resolution{State: StateNotFound}
	}
	page := cw.ClampPage(pageIndex)

	res := Resolution{
		State:      StateReady,
		Index:      idx,
		PageIndex:  page,
		Courseware: cw,
	}
	if cw.Platform != "" && cw.SourcePath != "" {
		res.CanonicalPath = repourl.BuildCoursewarePath(
			cw.Platform, cw.Owner, cw.Repo, cw.GroupID, coursedeck.CourseName(cw.FilePath), page)
	}
	return res
}
