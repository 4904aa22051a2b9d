package security

import (
	"strings"
	"testing"
)

func TestValidateFetchURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "github raw base", url: "https://raw.githubusercontent.com/alice/physics/main/", wantErr: ""},
		{name: "gitee raw base", url: "https://gitee.com/alice/physics/raw/master/", wantErr: ""},
		{name: "plain http host", url: "http://courseware.example.com/repo/", wantErr: ""},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: "URL scheme must be http or https"},
		{name: "ftp scheme", url: "ftp://files.example.com/file.txt", wantErr: "URL scheme must be http or https"},
		{name: "localhost", url: "http://localhost/repo/", wantErr: "requests to localhost are not allowed"},
		{name: "localhost with port", url: "http://localhost:8080/repo/", wantErr: "requests to localhost are not allowed"},
		{name: "ipv4 loopback", url: "http://127.0.0.1/repo/", wantErr: "requests to loopback addresses are not allowed"},
		{name: "ipv6 loopback", url: "http://[::1]/repo/", wantErr: "requests to loopback addresses are not allowed"},
		{name: "private 10.x", url: "http://10.0.0.1/repo/", wantErr: "requests to private network addresses are not allowed"},
		{name: "private 192.168.x", url: "http://192.168.1.1/repo/", wantErr: "requests to private network addresses are not allowed"},
		{name: "metadata endpoint", url: "http://169.254.169.254/latest/meta-data", wantErr: "requests to link-local addresses are not allowed"},
		{name: "unspecified", url: "http://0.0.0.0/repo/", wantErr: "requests to unspecified addresses are not allowed"},
		{name: "missing host", url: "https:///repo/", wantErr: "URL must have a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFetchURL(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateFetchURL(%q) unexpected error: %v", tt.url, err)
				}
				return
			}
			if err == nil {
				t.Errorf("ValidateFetchURL(%q) expected error containing %q", tt.url, tt.wantErr)
			} else if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateFetchURL(%q) error = %q, want to contain %q", tt.url, err.Error(), tt.wantErr)
			}
		})
	}
}
