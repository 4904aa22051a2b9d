// Package store holds the in-memory courseware state: the active list the
// user plays from, the bundled collections discovered from repositories, the
// configured repositories, and best-effort persistence of all of it.
package store

import (
	"context"
	"log"
	"sync"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/loader"
	"github.com/coursedeck/coursedeck/internal/repourl"
)

// Preferences are the user-visible display flags.
type Preferences struct {
	ShowPageButtons bool `json:"showPageButtons"`
	ShowCatalog     bool `json:"showCatalog"`
}

// UserRepo is a locally registered repository binding for an
// unauthenticated user.
type UserRepo struct {
	Platform string `json:"platform"`
	RepoURL  string `json:"repoUrl"`
	RawURL   string `json:"rawUrl"`
}

// Store is the source of truth for courseware state. All methods are safe
// for concurrent use. Mutations of the active list persist synchronously,
// best-effort; add operations return the committed index directly so callers
// never have to observe list growth.
type Store struct {
	mu sync.RWMutex

	active        []*coursedeck.Courseware
	currentIndex  int
	bundled       []*coursedeck.Courseware
	bundledGroups []*coursedeck.Group
	repoConfigs   []coursedeck.RepoConfig
	userRepos     []UserRepo
	prefs         Preferences
	loading       bool
	pendingStubs  []pendingStub

	// Restoration bookkeeping: the persisted position of each restored entry,
	// and the source path of the entry that was selected when it is still a
	// pending stub. Both keep the persisted order and selection authoritative
	// across the restore/rehydrate gap.
	restoredPos        map[*coursedeck.Courseware]int
	restoreCurrentPath string

	assets    *coursedeck.AssetResolver
	loader    *loader.Loader
	persister Persister
}

// New creates a Store. persister may be nil, in which case nothing persists
// across restarts.
func New(l *loader.Loader, persister Persister) *Store {
	s := &Store{
		currentIndex: -1,
		assets:       coursedeck.NewAssetResolver(),
		loader:       l,
		persister:    persister,
		prefs:        Preferences{ShowPageButtons: true, ShowCatalog: true},
	}
	s.restoreConfig()
	return s
}

// Assets returns the shared asset resolver used across loads.
func (s *Store) Assets() *coursedeck.AssetResolver {
	return s.assets
}

// Active returns a snapshot of the active courseware list.
func (s *Store) Active() []*coursedeck.Courseware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*coursedeck.Courseware, len(s.active))
	copy(out, s.active)
	return out
}

// Current returns the currently selected courseware and its index, or
// (nil, -1) when the active list is empty.
func (s *Store) Current() (*coursedeck.Courseware, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentIndex < 0 || s.currentIndex >= len(s.active) {
		return nil, -1
	}
	return s.active[s.currentIndex], s.currentIndex
}

// At returns the active courseware at index, or nil when out of range.
func (s *Store) At(index int) *coursedeck.Courseware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.active) {
		return nil
	}
	return s.active[index]
}

// Len returns the active list length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Bundled returns a snapshot of the bundled courseware from the most recent
// repository load.
func (s *Store) Bundled() []*coursedeck.Courseware {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*coursedeck.Courseware, len(s.bundled))
	copy(out, s.bundled)
	return out
}

// BundledGroups returns a snapshot of the bundled groups.
func (s *Store) BundledGroups() []*coursedeck.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*coursedeck.Group, len(s.bundledGroups))
	copy(out, s.bundledGroups)
	return out
}

// IsLoading reports whether a repository load is in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Add appends a locally uploaded courseware to the active list and selects
// it. No dedup: each upload action is its own entry. Returns the committed
// index.
func (s *Store) Add(cw *coursedeck.Courseware) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cw.Bundled = false
	s.active = append(s.active, cw)
	s.currentIndex = len(s.active) - 1
	s.persistActiveLocked()
	return s.currentIndex
}

// AddBundled appends a repository courseware to the active list unless an
// entry with the same SourcePath already exists. Returns the committed (or
// existing) index and whether a new entry was added. Either way the entry is
// selected as current.
func (s *Store) AddBundled(cw *coursedeck.Courseware) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexBySourcePathLocked(cw.SourcePath); idx >= 0 {
		s.currentIndex = idx
		s.persistActiveLocked()
		return idx, false
	}

	s.active = append(s.active, cw)
	s.currentIndex = len(s.active) - 1
	s.persistActiveLocked()
	return s.currentIndex, true
}

// AddGroup activates every courseware of a group, idempotently. Returns the
// active index of the courseware named by course (empty course selects the
// first of the group), or -1 when the group contributed nothing resolvable.
func (s *Store) AddGroup(group *coursedeck.Group, course string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := -1
	for _, cw := range group.Coursewares {
		idx := s.indexBySourcePathLocked(cw.SourcePath)
		if idx < 0 {
			s.active = append(s.active, cw)
			idx = len(s.active) - 1
		}
		if target < 0 && (course == "" || coursedeck.CourseName(cw.FilePath) == course) {
			target = idx
		}
	}
	if target >= 0 {
		s.currentIndex = target
	}
	s.persistActiveLocked()
	return target
}

// RefreshUpload replaces an existing upload entry backed by the same local
// file path, preserving its position and identity. Returns false when no
// such entry exists.
func (s *Store) RefreshUpload(path string, cw *coursedeck.Courseware) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.active {
		if existing.SourcePath == "" && existing.FilePath == path {
			cw.ID = existing.ID
			cw.Bundled = false
			s.active[i] = cw
			s.persistActiveLocked()
			return true
		}
	}
	return false
}

// Remove deletes the active entry at index. No-op for out-of-range indices.
func (s *Store) Remove(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.active) {
		return
	}
	s.active = append(s.active[:index], s.active[index+1:]...)
	s.adjustCurrentAfterRemoveLocked(index)
	s.persistActiveLocked()
}

// RemoveBySourcePath deletes the active entry with the given source path.
func (s *Store) RemoveBySourcePath(sourcePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexBySourcePathLocked(sourcePath)
	if index < 0 {
		return
	}
	s.active = append(s.active[:index], s.active[index+1:]...)
	s.adjustCurrentAfterRemoveLocked(index)
	s.persistActiveLocked()
}

// adjustCurrentAfterRemoveLocked applies the one index-shift rule shared by
// every removal call site.
func (s *Store) adjustCurrentAfterRemoveLocked(removed int) {
	if removed <= s.currentIndex && s.currentIndex > 0 {
		s.currentIndex--
	} else if s.currentIndex >= len(s.active) && len(s.active) > 0 {
		s.currentIndex = len(s.active) - 1
	}
	if len(s.active) == 0 {
		s.currentIndex = -1
	}
}

// Reorder moves the active entry at from to position to. The current index
// follows its element.
func (s *Store) Reorder(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return
	}

	moved := s.active[from]
	s.active = append(s.active[:from], s.active[from+1:]...)
	rest := append([]*coursedeck.Courseware{}, s.active[to:]...)
	s.active = append(s.active[:to], append([]*coursedeck.Courseware{moved}, rest...)...)

	switch {
	case s.currentIndex == from:
		s.currentIndex = to
	case from < s.currentIndex && to >= s.currentIndex:
		s.currentIndex--
	case from > s.currentIndex && to <= s.currentIndex:
		s.currentIndex++
	}
	s.persistActiveLocked()
}

// SetCurrent selects the active entry at index.
func (s *Store) SetCurrent(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.active) {
		return
	}
	s.currentIndex = index
	s.persistActiveLocked()
}

// IndexBySourcePath returns the active index of the entry with the given
// source path, or -1.
func (s *Store) IndexBySourcePath(sourcePath string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexBySourcePathLocked(sourcePath)
}

func (s *Store) indexBySourcePathLocked(sourcePath string) int {
	if sourcePath == "" {
		return -1
	}
	for i, cw := range s.active {
		if cw.SourcePath == sourcePath {
			return i
		}
	}
	return -1
}

// IndexByProvenance returns the active index of the entry matching the full
// provenance tuple, or -1.
func (s *Store) IndexByProvenance(platform, owner, repo, folder, course string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, cw := range s.active {
		if cw.Platform == platform && cw.Owner == owner && cw.Repo == repo &&
			cw.GroupID == folder && coursedeck.CourseName(cw.FilePath) == course {
			return i
		}
	}
	return -1
}

// FindGroup looks up a bundled group by semantic course id or by the legacy
// 32-hex group token. Both forms resolve through this one contract.
func (s *Store) FindGroup(courseID string) *coursedeck.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.bundledGroups {
		if g.CourseID == courseID || g.ID == courseID {
			return g
		}
	}
	return nil
}

// GroupByFolder looks up a bundled group by provenance and folder name.
func (s *Store) GroupByFolder(platform, owner, repo, folder string) *coursedeck.Group {
	return s.FindGroup(repourl.CourseID(platform, owner, repo, folder))
}

// RepoConfigs returns a snapshot of the configured repositories.
func (s *Store) RepoConfigs() []coursedeck.RepoConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coursedeck.RepoConfig, len(s.repoConfigs))
	copy(out, s.repoConfigs)
	return out
}

// SetRepoConfigs replaces the configured repositories (used at startup to
// seed from the config file when nothing was persisted).
func (s *Store) SetRepoConfigs(configs []coursedeck.RepoConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.repoConfigs) > 0 {
		return
	}
	s.repoConfigs = append([]coursedeck.RepoConfig{}, configs...)
	s.persistLocked(keyRepoConfigs, s.repoConfigs)
}

// AddRepoConfig appends a repository unless its base URL is already present.
func (s *Store) AddRepoConfig(cfg coursedeck.RepoConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.repoConfigs {
		if existing.BaseURL == cfg.BaseURL {
			return false
		}
	}
	s.repoConfigs = append(s.repoConfigs, cfg)
	s.persistLocked(keyRepoConfigs, s.repoConfigs)
	return true
}

// RemoveRepoConfig deletes the repository with the given base URL.
func (s *Store) RemoveRepoConfig(baseURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.repoConfigs {
		if existing.BaseURL == baseURL {
			s.repoConfigs = append(s.repoConfigs[:i], s.repoConfigs[i+1:]...)
			s.persistLocked(keyRepoConfigs, s.repoConfigs)
			return true
		}
	}
	return false
}

// UserRepos returns the locally registered user repositories.
func (s *Store) UserRepos() []UserRepo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserRepo, len(s.userRepos))
	copy(out, s.userRepos)
	return out
}

// AddUserRepo registers a user repository binding locally.
func (s *Store) AddUserRepo(repo UserRepo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.userRepos {
		if existing.RawURL == repo.RawURL {
			return
		}
	}
	s.userRepos = append(s.userRepos, repo)
	s.persistLocked(keyUserRepos, s.userRepos)
}

// Prefs returns the display preferences.
func (s *Store) Prefs() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetPrefs replaces the display preferences.
func (s *Store) SetPrefs(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
	s.persistLocked(keyPrefs, s.prefs)
}

// LoadFromRepos runs the Loader against the given repositories (or the
// stored ones when repos is nil), replaces the bundled collections with the
// result, and re-runs restoration so persisted bundled stubs can rehydrate
// against the fresh data. The loading flag is cleared on every path; loader
// errors are returned to the caller, not swallowed.
func (s *Store) LoadFromRepos(ctx context.Context, repos []coursedeck.RepoConfig) error {
	s.mu.Lock()
	if repos == nil {
		repos = append([]coursedeck.RepoConfig{}, s.repoConfigs...)
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	result, err := s.loader.LoadAll(ctx, repos, s.assets)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bundled = result.Coursewares
	s.bundledGroups = result.Groups
	s.restoreActiveLocked()
	s.mu.Unlock()

	log.Printf("[Store] Loaded %d coursewares in %d groups from %d repos",
		len(result.Coursewares), len(result.Groups), len(repos))
	return nil
}

// LoadGroupDirect fetches one group directly (bypassing a full reload) and
// merges it into the bundled collections.
func (s *Store) LoadGroupDirect(ctx context.Context, cfg coursedeck.RepoConfig, folder string) (*coursedeck.Group, error) {
	group, err := s.loader.LoadGroup(ctx, cfg, folder, s.assets)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing := s.findGroupLocked(group.CourseID); existing == nil {
		s.bundledGroups = append(s.bundledGroups, group)
		s.bundled = append(s.bundled, group.Coursewares...)
	}
	s.mu.Unlock()
	return group, nil
}

func (s *Store) findGroupLocked(courseID string) *coursedeck.Group {
	for _, g := range s.bundledGroups {
		if g.CourseID == courseID || g.ID == courseID {
			return g
		}
	}
	return nil
}
