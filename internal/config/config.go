package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/repourl"
)

// Config represents the coursedeck configuration
type Config struct {
	Title  string        `yaml:"title"`
	Server ServerConfig  `yaml:"server"`
	Repos  []RepoRef     `yaml:"repos,omitempty"`
	State  StateConfig   `yaml:"state"`
	Fetch  FetchConfig   `yaml:"fetch"`
	Player PlayerConfig  `yaml:"player"`
	API    *APIConfig    `yaml:"api,omitempty"`
	Square *SquareConfig `yaml:"square,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// RepoRef names one courseware repository. Either a full repository URL
// (https://github.com/owner/repo) or a prebuilt raw base URL may be given;
// URL takes precedence when both are set.
type RepoRef struct {
	URL     string `yaml:"url,omitempty"`      // Repository URL or shorthand (github/owner/repo)
	BaseURL string `yaml:"base_url,omitempty"` // Raw content base URL, used as-is
	Branch  string `yaml:"branch,omitempty"`   // Branch for URL form (default: main)
}

// Resolve converts the reference to a raw-content repo config. Returns false
// when the reference cannot be resolved.
func (r RepoRef) Resolve(defaultBranch string) (coursedeck.RepoConfig, bool) {
	if r.URL != "" {
		branch := r.Branch
		if branch == "" {
			branch = defaultBranch
		}
		parsed := repourl.ParseUserRepoURL(r.URL, branch)
		if parsed == nil {
			return coursedeck.RepoConfig{}, false
		}
		return coursedeck.RepoConfig{BaseURL: parsed.RawURL}, true
	}
	if r.BaseURL != "" {
		return coursedeck.RepoConfig{BaseURL: r.BaseURL}, true
	}
	return coursedeck.RepoConfig{}, false
}

// StateConfig holds local persistence paths
type StateConfig struct {
	DBPath     string `yaml:"db_path,omitempty"`     // SQLite state database (default: ./coursedeck.db)
	UploadsDir string `yaml:"uploads_dir,omitempty"` // Watched directory for dropped courseware files (default: ./uploads)
}

// GetDBPath returns the state database path (default: ./coursedeck.db)
func (c StateConfig) GetDBPath() string {
	if c.DBPath == "" {
		return "coursedeck.db"
	}
	return c.DBPath
}

// GetUploadsDir returns the uploads directory (default: ./uploads)
func (c StateConfig) GetUploadsDir() string {
	if c.UploadsDir == "" {
		return "uploads"
	}
	return c.UploadsDir
}

// FetchConfig holds remote fetch behavior
type FetchConfig struct {
	Timeout  string       `yaml:"timeout,omitempty"`   // Request timeout (e.g., "30s"). Default: 30s
	CacheTTL string       `yaml:"cache_ttl,omitempty"` // Fetch cache freshness window (e.g., "5m"). "0" disables. Default: 5m
	Retry    *RetryConfig `yaml:"retry,omitempty"`     // Retry configuration
}

// RetryConfig configures retry behavior for remote fetches
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 0, failures surface immediately)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "100ms"). Default: 100ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// GetTimeout returns the parsed fetch timeout (default: 30s)
func (c FetchConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL returns the fetch cache freshness window (default: 5m). Zero
// disables caching.
func (c FetchConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return 5 * time.Minute
	}
	return d
}

// GetRetryMaxRetries returns the max retries (default: 0; a failed group file
// is skipped rather than retried)
func (c FetchConfig) GetRetryMaxRetries() int {
	if c.Retry == nil || c.Retry.MaxRetries < 0 {
		return 0
	}
	return c.Retry.MaxRetries
}

// GetRetryBaseDelay returns the base delay (default: 100ms)
func (c FetchConfig) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil || c.Retry.BaseDelay == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(c.Retry.BaseDelay)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetRetryMaxDelay returns the max delay (default: 5s)
func (c FetchConfig) GetRetryMaxDelay() time.Duration {
	if c.Retry == nil || c.Retry.MaxDelay == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.Retry.MaxDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// PlayerConfig holds player behavior configuration
type PlayerConfig struct {
	DefaultBranch   string `yaml:"default_branch,omitempty"` // Branch assumed for semantic paths (default: main)
	ShowPageButtons *bool  `yaml:"show_page_buttons,omitempty"`
	ShowCatalog     *bool  `yaml:"show_catalog,omitempty"`
}

// GetDefaultBranch returns the default branch (default: "main")
func (c PlayerConfig) GetDefaultBranch() string {
	if c.DefaultBranch == "" {
		return "main"
	}
	return c.DefaultBranch
}

// GetShowPageButtons returns whether page turn buttons are shown (default: true)
func (c PlayerConfig) GetShowPageButtons() bool {
	if c.ShowPageButtons == nil {
		return true
	}
	return *c.ShowPageButtons
}

// GetShowCatalog returns whether the page catalog is shown (default: true)
func (c PlayerConfig) GetShowCatalog() bool {
	if c.ShowCatalog == nil {
		return true
	}
	return *c.ShowCatalog
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Auth      *AuthConfig      `yaml:"auth,omitempty"`
}

// AuthConfig holds authentication configuration for mutating API endpoints
type AuthConfig struct {
	// APIKey is the required API key for authentication.
	// Supports environment variable expansion (e.g., "${API_KEY}")
	APIKey string `yaml:"api_key,omitempty"`
	// HeaderName is the HTTP header name for the API key (default: "X-API-Key")
	HeaderName string `yaml:"header_name,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Rate limit in requests per second (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Burst size (default: 20)
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// IsAuthEnabled returns true if API authentication is configured
func (c *APIConfig) IsAuthEnabled() bool {
	if c == nil || c.Auth == nil {
		return false
	}
	return c.Auth.GetAPIKey() != ""
}

// GetAPIKey returns the configured API key with environment variable expansion
func (c *AuthConfig) GetAPIKey() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	return os.ExpandEnv(c.APIKey)
}

// GetHeaderName returns the header name for authentication (default: "X-API-Key")
func (c *AuthConfig) GetHeaderName() string {
	if c == nil || c.HeaderName == "" {
		return "X-API-Key"
	}
	return c.HeaderName
}

// SquareConfig holds the courseware square (sharing service) configuration
type SquareConfig struct {
	Enabled bool `yaml:"enabled"` // Enable the square endpoints (default: false)
	// DSN is the PostgreSQL connection string.
	// Supports environment variable expansion (e.g., "${SQUARE_DSN}")
	DSN string `yaml:"dsn,omitempty"`
}

// GetDSN returns the connection string with environment variable expansion
func (c *SquareConfig) GetDSN() string {
	if c == nil || c.DSN == "" {
		return ""
	}
	return os.ExpandEnv(c.DSN)
}

// IsSquareEnabled returns whether the square is enabled and configured
func (c *Config) IsSquareEnabled() bool {
	return c.Square != nil && c.Square.Enabled && c.Square.GetDSN() != ""
}

// RepoConfigs resolves every configured repository reference, skipping
// unresolvable entries.
func (c *Config) RepoConfigs() []coursedeck.RepoConfig {
	var out []coursedeck.RepoConfig
	for _, ref := range c.Repos {
		if cfg, ok := ref.Resolve(c.Player.GetDefaultBranch()); ok {
			out = append(out, cfg)
		}
	}
	return out
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "Coursedeck",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults so absent sections keep working values
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for coursedeck.yaml or cd.yaml in the given directory.
// If neither is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	primary := filepath.Join(dir, "coursedeck.yaml")
	if _, err := os.Stat(primary); err == nil {
		return Load(primary)
	}

	return Load(filepath.Join(dir, "cd.yaml"))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
