package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Coursedeck", cfg.Title)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.False(t, cfg.Server.Debug)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursedeck.yaml")
	content := `
title: Physics Deck
server:
  port: 9000
  host: 0.0.0.0
repos:
  - url: https://github.com/alice/physics
  - base_url: https://gitee.com/bob/chem/raw/master/
fetch:
  timeout: 5s
  retry:
    max_retries: 2
player:
  default_branch: master
  show_page_buttons: false
square:
  enabled: true
  dsn: postgres://localhost/square
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Physics Deck", cfg.Title)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Fetch.GetTimeout())
	assert.Equal(t, 2, cfg.Fetch.GetRetryMaxRetries())
	assert.Equal(t, "master", cfg.Player.GetDefaultBranch())
	assert.False(t, cfg.Player.GetShowPageButtons())
	assert.True(t, cfg.Player.GetShowCatalog())
	assert.True(t, cfg.IsSquareEnabled())

	repos := cfg.RepoConfigs()
	require.Len(t, repos, 2)
	assert.Equal(t, "https://raw.githubusercontent.com/alice/physics/master/", repos[0].BaseURL)
	assert.Equal(t, "https://gitee.com/bob/chem/raw/master/", repos[1].BaseURL)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFetchDefaults(t *testing.T) {
	var c FetchConfig
	assert.Equal(t, 30*time.Second, c.GetTimeout())
	assert.Equal(t, 0, c.GetRetryMaxRetries())
	assert.Equal(t, 100*time.Millisecond, c.GetRetryBaseDelay())
	assert.Equal(t, 5*time.Second, c.GetRetryMaxDelay())
	assert.Equal(t, 5*time.Minute, c.GetCacheTTL())

	c.Timeout = "garbage"
	assert.Equal(t, 30*time.Second, c.GetTimeout())

	c.CacheTTL = "0"
	assert.Equal(t, time.Duration(0), c.GetCacheTTL())
	c.CacheTTL = "garbage"
	assert.Equal(t, 5*time.Minute, c.GetCacheTTL())
}

func TestRepoRefResolve(t *testing.T) {
	ref := RepoRef{URL: "github/alice/physics"}
	cfg, ok := ref.Resolve("main")
	require.True(t, ok)
	assert.Equal(t, "https://raw.githubusercontent.com/alice/physics/main/", cfg.BaseURL)

	ref = RepoRef{URL: "https://bitbucket.org/alice/physics"}
	_, ok = ref.Resolve("main")
	assert.False(t, ok)

	_, ok = RepoRef{}.Resolve("main")
	assert.False(t, ok)
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	t.Setenv("COURSEDECK_TEST_KEY", "sekrit")

	api := &APIConfig{Auth: &AuthConfig{APIKey: "${COURSEDECK_TEST_KEY}"}}
	assert.True(t, api.IsAuthEnabled())
	assert.Equal(t, "sekrit", api.Auth.GetAPIKey())
	assert.Equal(t, "X-API-Key", api.Auth.GetHeaderName())

	var nilAPI *APIConfig
	assert.False(t, nilAPI.IsAuthEnabled())
	assert.Equal(t, float64(10), nilAPI.GetRateLimitRPS())
	assert.Equal(t, 20, nilAPI.GetRateLimitBurst())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	cfg := DefaultConfig()
	cfg.Title = "Saved"
	cfg.Repos = []RepoRef{{URL: "github/alice/physics"}}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Saved", loaded.Title)
	require.Len(t, loaded.Repos, 1)
	assert.Equal(t, "github/alice/physics", loaded.Repos[0].URL)
}

func TestLoadFromDirPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cd.yaml"), []byte("title: Short"), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "Short", cfg.Title)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "coursedeck.yaml"), []byte("title: Primary"), 0644))
	cfg, err = LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "Primary", cfg.Title)
}
