// Package security validates remote fetch targets. Repository base URLs come
// from config files and API calls, so the loader refuses targets that would
// let a hostile entry probe the host's own network.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateFetchURL checks that a raw content URL is safe to fetch. It rejects
// non-HTTP schemes, localhost, loopback, private, link-local, and unspecified
// addresses. Hostnames are accepted without resolution; the platform hosts the
// player supports are public by construction.
func ValidateFetchURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if strings.EqualFold(host, "localhost") || strings.EqualFold(host, "localhost.localdomain") {
		return fmt.Errorf("requests to localhost are not allowed")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("requests to loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("requests to private network addresses are not allowed")
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("requests to link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("requests to unspecified addresses are not allowed")
	}

	return nil
}
