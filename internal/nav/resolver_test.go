package nav

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/loader"
	"github.com/coursedeck/coursedeck/internal/repourl"
	"github.com/coursedeck/coursedeck/internal/store"
)

const navBase = "https://raw.githubusercontent.com/alice/physics/main/"

type navTransport struct {
	responses map[string]string
	requests  []string
}

func (t *navTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req.URL.String())
	body, ok := t.responses[req.URL.String()]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

const pagedHTML = `<!DOCTYPE html><html><head><title>Forces</title></head><body>` +
	`<section id="intro"><h1>Intro</h1></section>` +
	`<section id="detail"><h1>Detail</h1></section>` +
	`</body></html>`

func navFixture(t *testing.T) (*store.Store, *Resolver, *navTransport) {
	t.Helper()
	transport := &navTransport{responses: map[string]string{
		navBase + "manifest.json":   `{"groups":[{"id":"ch1","name":"Chapter 1","files":["ch1/forces.html"]}]}`,
		navBase + "ch1/forces.html": pagedHTML,
	}}
	l := loader.NewWithClient(&http.Client{Transport: transport}, loader.RetryConfig{})
	s := store.New(l, nil)
	return s, New(s, "main"), transport
}

func TestResolveSemanticFromBundled(t *testing.T) {
	s, r, _ := navFixture(t)
	require.NoError(t, s.LoadFromRepos(context.Background(), []coursedeck.RepoConfig{{BaseURL: navBase}}))
	require.Equal(t, 0, s.Len())

	page := 1
	res := r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "forces", PageIndex: &page,
	})

	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, 1, res.PageIndex)
	assert.Equal(t, "/github/alice/physics/ch1/forces/1", res.CanonicalPath)
	assert.Equal(t, 1, s.Len())

	// Selection follows the resolved entry.
	_, current := s.Current()
	assert.Equal(t, 0, current)
}

func TestResolveSemanticPrefersActive(t *testing.T) {
	s, r, transport := navFixture(t)
	require.NoError(t, s.LoadFromRepos(context.Background(), []coursedeck.RepoConfig{{BaseURL: navBase}}))

	target := &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "forces",
	}
	require.Equal(t, StateReady, r.ResolveSemantic(context.Background(), target).State)

	fetches := len(transport.requests)
	res := r.ResolveSemantic(context.Background(), target)
	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, fetches, len(transport.requests), "active hit must not refetch")
}

func TestResolveSemanticDirectFetch(t *testing.T) {
	s, r, _ := navFixture(t)
	// No LoadFromRepos: nothing bundled, the resolver must fetch the group.

	res := r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "forces",
	})

	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, navBase+"ch1/forces.html", res.Courseware.SourcePath)
}

func TestResolveSemanticPageClamped(t *testing.T) {
	_, r, _ := navFixture(t)

	page := 99
	res := r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "forces", PageIndex: &page,
	})

	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 1, res.PageIndex)
	assert.Equal(t, "/github/alice/physics/ch1/forces/1", res.CanonicalPath)
}

func TestResolveSemanticNotFound(t *testing.T) {
	_, r, _ := navFixture(t)

	res := r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch9", Course: "nothing",
	})
	assert.Equal(t, StateNotFound, res.State)

	res = r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "bitbucket", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "forces",
	})
	assert.Equal(t, StateNotFound, res.State)

	assert.Equal(t, StateNotFound, r.ResolveSemantic(context.Background(), nil).State)
}

func TestResolveSemanticMissingCourseInGroup(t *testing.T) {
	s, r, _ := navFixture(t)
	require.NoError(t, s.LoadFromRepos(context.Background(), []coursedeck.RepoConfig{{BaseURL: navBase}}))

	res := r.ResolveSemantic(context.Background(), &repourl.CoursewarePath{
		Platform: "github", Owner: "alice", Repo: "physics",
		Folder: "ch1", Course: "missing",
	})
	assert.Equal(t, StateNotFound, res.State)
}

func TestResolvePositional(t *testing.T) {
	s, r, _ := navFixture(t)
	s.Add(&coursedeck.Courseware{
		ID:    "local",
		Title: "local",
		Pages: []coursedeck.Page{
			{ID: "page-0", SectionSelector: "body", Index: 0},
		},
	})

	res := r.ResolvePositional(0, 5)
	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, 0, res.PageIndex)
	assert.Empty(t, res.CanonicalPath, "uploads have no semantic path")

	// Negative index addresses the current selection.
	res = r.ResolvePositional(-1, 0)
	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 0, res.Index)

	assert.Equal(t, StateNotFound, r.ResolvePositional(7, 0).State)
}

func TestResolvePositionalEmptyStore(t *testing.T) {
	_, r, _ := navFixture(t)
	assert.Equal(t, StateNotFound, r.ResolvePositional(-1, 0).State)
}

func TestResolveCourseIDSemanticForm(t *testing.T) {
	s, r, _ := navFixture(t)

	res := r.ResolveCourseID(context.Background(), "github/alice/physics/ch1")
	require.Equal(t, StateReady, res.State)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, 1, s.Len())
	// Deep links land on the first course of the group.
	assert.Equal(t, "/github/alice/physics/ch1/forces/0", res.CanonicalPath)
}

func TestResolveCourseIDLegacyToken(t *testing.T) {
	const token = "0123456789abcdef0123456789abcdef"
	transport := &navTransport{responses: map[string]string{
		navBase + "manifest.json":   `{"groups":[{"id":"` + token + `","name":"Legacy","files":["` + token + `/a.html"]}]}`,
		navBase + token + "/a.html": `<!DOCTYPE html><html><head><title>legacy-a</title></head><body><section id="s1"></section></body></html>`,
	}}
	l := loader.NewWithClient(&http.Client{Transport: transport}, loader.RetryConfig{})
	s := store.New(l, nil)
	r := New(s, "main")
	require.NoError(t, s.LoadFromRepos(context.Background(), []coursedeck.RepoConfig{{BaseURL: navBase}}))

	res := r.ResolveCourseID(context.Background(), token)
	require.Equal(t, StateReady, res.State)
	assert.Equal(t, "legacy-a", res.Courseware.Title)

	// An unknown legacy token cannot trigger a fetch.
	assert.Equal(t, StateNotFound,
		r.ResolveCourseID(context.Background(), "ffffffffffffffffffffffffffffffff").State)
}

func TestResolveCourseIDGarbage(t *testing.T) {
	_, r, _ := navFixture(t)
	assert.Equal(t, StateNotFound, r.ResolveCourseID(context.Background(), "not-a-course").State)
}
