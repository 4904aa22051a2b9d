package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/cache"
	"github.com/coursedeck/coursedeck/internal/repourl"
	"github.com/coursedeck/coursedeck/internal/security"
)

// maxFetchSize bounds a single file read to keep a hostile manifest from
// exhausting memory.
const maxFetchSize = 20 * 1024 * 1024 // 20MB

// Manifest is the index file every courseware repository must provide at its
// raw base URL.
type Manifest struct {
	Groups []ManifestGroup `json:"groups"`
}

// ManifestGroup declares one folder of courseware files.
type ManifestGroup struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Result is the outcome of loading one or more repositories.
type Result struct {
	Coursewares []*coursedeck.Courseware
	Groups      []*coursedeck.Group
}

// Loader fetches courseware repositories over HTTP.
type Loader struct {
	client *http.Client
	retry  RetryConfig
	md     goldmark.Markdown

	cache    *cache.MemoryCache
	cacheTTL time.Duration
}

// New creates a Loader with the given request timeout and retry policy.
func New(timeout time.Duration, retry RetryConfig) *Loader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewWithClient(&http.Client{Timeout: timeout}, retry)
}

// NewWithClient creates a Loader using the supplied HTTP client. Tests use
// this to stub the raw content hosts.
func NewWithClient(client *http.Client, retry RetryConfig) *Loader {
	return &Loader{
		client: client,
		retry:  retry,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// EnableCache turns on fetch caching. Fetched files stay fresh for ttl and
// remain usable as a fallback for six times that when the origin host stops
// answering. No-op for a non-positive ttl.
func (l *Loader) EnableCache(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if l.cache == nil {
		l.cache = cache.NewMemoryCache()
	}
	l.cacheTTL = ttl
}

// Close stops the fetch cache's cleanup goroutine, if caching was enabled.
func (l *Loader) Close() {
	if l.cache != nil {
		l.cache.Stop()
	}
}

// LoadAll fetches every configured repository and assembles the combined
// courseware and group collections.
//
// Failure isolation: a file fetch failure skips that file; a manifest failure
// degrades that repo to zero contributions; neither aborts siblings. The only
// error returned is ErrNoRepos. Repositories and files are processed
// sequentially in declared order, so each file's audio paths are registered
// in assets before that file is parsed.
func (l *Loader) LoadAll(ctx context.Context, configs []coursedeck.RepoConfig, assets *coursedeck.AssetResolver) (*Result, error) {
	if len(configs) == 0 {
		return nil, ErrNoRepos
	}
	if assets == nil {
		assets = coursedeck.NewAssetResolver()
	}

	result := &Result{}
	for _, cfg := range configs {
		coursewares, groups := l.loadRepo(ctx, cfg, assets)
		result.Coursewares = append(result.Coursewares, coursewares...)
		result.Groups = mergeGroups(result.Groups, groups)
	}
	return result, nil
}

// LoadGroup fetches a single manifest group from one repository, bypassing
// the full load. Used by navigation when a deep link addresses a group that
// is not yet known.
func (l *Loader) LoadGroup(ctx context.Context, cfg coursedeck.RepoConfig, folder string, assets *coursedeck.AssetResolver) (*coursedeck.Group, error) {
	baseURL := normalizeBase(cfg.BaseURL)
	if err := security.ValidateFetchURL(baseURL); err != nil {
		return nil, NewLoadError(cfg.BaseURL, "validate base URL", err)
	}
	identity := repourl.ParseRawURL(baseURL)
	if identity == nil {
		return nil, NewLoadError(cfg.BaseURL, "resolve identity", ErrUnresolvableRepo)
	}
	if assets == nil {
		assets = coursedeck.NewAssetResolver()
	}

	manifest, err := l.fetchManifest(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	for _, mg := range manifest.Groups {
		if mg.ID != folder {
			continue
		}
		group := l.loadGroup(ctx, baseURL, identity, mg, assets)
		if group == nil {
			return nil, NewLoadError(baseURL, "load group "+folder, ErrEmptyGroup)
		}
		return group, nil
	}
	return nil, NewLoadError(baseURL, "load group "+folder, ErrGroupNotFound)
}

// loadRepo fetches one repository. Unresolvable identity or a manifest
// failure yields empty results, logged, never an error.
func (l *Loader) loadRepo(ctx context.Context, cfg coursedeck.RepoConfig, assets *coursedeck.AssetResolver) ([]*coursedeck.Courseware, []*coursedeck.Group) {
	baseURL := normalizeBase(cfg.BaseURL)
	if err := security.ValidateFetchURL(baseURL); err != nil {
		log.Printf("[Loader] Skipping repo with unsafe base URL %s: %v", cfg.BaseURL, err)
		return nil, nil
	}
	identity := repourl.ParseRawURL(baseURL)
	if identity == nil {
		log.Printf("[Loader] Skipping repo with unresolvable base URL: %s", cfg.BaseURL)
		return nil, nil
	}

	manifest, err := l.fetchManifest(ctx, baseURL)
	if err != nil {
		log.Printf("[Loader] Failed to fetch manifest from %s: %v", baseURL, err)
		return nil, nil
	}

	var coursewares []*coursedeck.Courseware
	var groups []*coursedeck.Group
	for _, mg := range manifest.Groups {
		group := l.loadGroup(ctx, baseURL, identity, mg, assets)
		if group == nil {
			continue
		}
		groups = append(groups, group)
		coursewares = append(coursewares, group.Coursewares...)
	}
	return coursewares, groups
}

// loadGroup fetches one manifest group's files. Returns nil when no file
// parsed successfully.
func (l *Loader) loadGroup(ctx context.Context, baseURL string, identity *repourl.Parsed, mg ManifestGroup, assets *coursedeck.AssetResolver) *coursedeck.Group {
	group := &coursedeck.Group{
		ID:       mg.ID,
		Name:     mg.Name,
		CourseID: repourl.CourseID(identity.Platform, identity.Owner, identity.Repo, mg.ID),
		Platform: identity.Platform,
		Owner:    identity.Owner,
		Repo:     identity.Repo,
		Branch:   identity.Branch,
	}

	for _, filePath := range mg.Files {
		text, err := l.fetchText(ctx, baseURL, baseURL+filePath)
		if err != nil {
			log.Printf("[Loader] Skipping file %s: %v", filePath, err)
			continue
		}

		// Register this file's audio references before parsing it. Parsing
		// first would preserve the relative paths unrewritten.
		registerAudioRefs(assets, baseURL, filePath, text)

		cw := coursedeck.ParseHTML(text, filePath, assets)
		cw.Bundled = true
		cw.SourcePath = baseURL + filePath
		cw.ID = cw.SourcePath
		cw.Platform = identity.Platform
		cw.Owner = identity.Owner
		cw.Repo = identity.Repo
		cw.Branch = identity.Branch
		cw.FilePath = filePath
		cw.GroupID = mg.ID
		cw.GroupName = mg.Name
		group.Coursewares = append(group.Coursewares, cw)
	}

	if len(group.Coursewares) == 0 {
		return nil
	}

	group.DescriptionHTML = l.fetchGroupReadme(ctx, baseURL, mg.ID)
	return group
}

// fetchGroupReadme renders <folder>/README.md to HTML when the repository
// provides one. Best-effort; any failure yields an empty string. With caching
// enabled, the absence of a README is cached too, so repeat loads of a
// README-less group stay request-free until the TTL lapses.
func (l *Loader) fetchGroupReadme(ctx context.Context, baseURL, folder string) string {
	url := baseURL + folder + "/README.md"
	missKey := "miss:" + url
	if l.cache != nil {
		if _, found, stale := l.cache.Get(missKey); found && !stale {
			return ""
		}
	}

	text, err := l.fetchText(ctx, baseURL, url)
	if err != nil {
		if l.cache != nil {
			l.cache.Set(missKey, nil, l.cacheTTL)
		}
		return ""
	}
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// fetchManifest fetches and decodes baseURL/manifest.json.
func (l *Loader) fetchManifest(ctx context.Context, baseURL string) (*Manifest, error) {
	data, err := l.fetch(ctx, baseURL, baseURL+"manifest.json")
	if err != nil {
		return nil, NewLoadError(baseURL, "fetch manifest", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, NewLoadError(baseURL, "parse manifest", err)
	}
	return &manifest, nil
}

// fetchText fetches one file as text.
func (l *Loader) fetchText(ctx context.Context, repo, url string) (string, error) {
	data, err := l.fetch(ctx, repo, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fetch performs one GET with the configured retry policy. With caching
// enabled, fresh cache entries short-circuit the request and stale entries
// stand in when every attempt fails.
func (l *Loader) fetch(ctx context.Context, repo, url string) ([]byte, error) {
	var staleData []byte
	haveStale := false
	if l.cache != nil {
		data, found, stale := l.cache.Get(url)
		if found && !stale {
			return data, nil
		}
		if found {
			staleData, haveStale = data, true
		}
	}

	data, err := l.doFetch(ctx, repo, url)
	if err != nil {
		if haveStale {
			log.Printf("[Loader] Serving stale copy of %s: %v", url, err)
			return staleData, nil
		}
		return nil, err
	}
	if l.cache != nil {
		l.cache.SetWithStale(url, data, l.cacheTTL, 6*l.cacheTTL)
	}
	return data, nil
}

func (l *Loader) doFetch(ctx context.Context, repo, url string) ([]byte, error) {
	return WithRetry(ctx, repo, l.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &HTTPError{
				URL:        url,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       strings.TrimSpace(string(body)),
			}
		}

		return io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	})
}

// registerAudioRefs resolves each audio path referenced by the file against
// the file's directory under the repository base URL.
func registerAudioRefs(assets *coursedeck.AssetResolver, baseURL, filePath, text string) {
	refs := coursedeck.ScanAudioRefs(text)
	if len(refs) == 0 {
		return
	}
	dir := path.Dir(filePath)
	for _, ref := range refs {
		rel := strings.TrimPrefix(ref, "./")
		abs := baseURL + path.Join(dir, rel)
		if dir == "." {
			abs = baseURL + rel
		}
		assets.Register(ref, abs)
	}
}

// mergeGroups union-merges groups sharing the same ID across repositories,
// deduplicating coursewares by SourcePath with existing entries winning.
func mergeGroups(existing, incoming []*coursedeck.Group) []*coursedeck.Group {
	byID := make(map[string]*coursedeck.Group, len(existing))
	for _, g := range existing {
		byID[g.ID] = g
	}

	for _, g := range incoming {
		current, ok := byID[g.ID]
		if !ok {
			existing = append(existing, g)
			byID[g.ID] = g
			continue
		}

		seen := make(map[string]bool, len(current.Coursewares))
		for _, cw := range current.Coursewares {
			seen[cw.SourcePath] = true
		}
		for _, cw := range g.Coursewares {
			if seen[cw.SourcePath] {
				continue
			}
			current.Coursewares = append(current.Coursewares, cw)
			seen[cw.SourcePath] = true
		}
		if current.DescriptionHTML == "" {
			current.DescriptionHTML = g.DescriptionHTML
		}
	}
	return existing
}

// normalizeBase ensures the base URL ends with a trailing slash so file paths
// concatenate cleanly.
func normalizeBase(baseURL string) string {
	if baseURL == "" || strings.HasSuffix(baseURL, "/") {
		return baseURL
	}
	return baseURL + "/"
}
