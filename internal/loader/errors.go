// Package loader fetches courseware repositories: each repo's manifest, the
// HTML files it lists, and optional group README documents.
package loader

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoRepos is returned when a load is attempted with no repositories
// configured. This is the only loader failure that surfaces as an error;
// everything below it degrades to a reduced result set.
var ErrNoRepos = errors.New("no repositories configured")

// Sentinel failures for the single-group fetch path, which does surface
// errors so navigation can distinguish not-found from transient failure.
var (
	ErrUnresolvableRepo = errors.New("repository base URL is not a recognized raw content URL")
	ErrGroupNotFound    = errors.New("group not declared in manifest")
	ErrEmptyGroup       = errors.New("no file in group parsed successfully")
)

// LoadError wraps errors with repository context.
type LoadError struct {
	Repo      string // Repository base URL
	Operation string // Operation that failed (e.g., "fetch manifest")
	Err       error
	Retryable bool
}

func (e *LoadError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("repo %q %s failed: %v", e.Repo, e.Operation, e.Err)
	}
	return fmt.Sprintf("repo %q: %v", e.Repo, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-2xx response from a raw content host.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: HTTP %d %s: %s", e.URL, e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.StatusCode, e.Status)
}

// IsRetryable returns true for 5xx responses and 429 (rate limit).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// NewLoadError creates a LoadError with retryable detection.
func NewLoadError(repo, operation string, err error) *LoadError {
	return &LoadError{
		Repo:      repo,
		Operation: operation,
		Err:       err,
		Retryable: isRetryableError(err),
	}
}

// isRetryableError checks if an error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
