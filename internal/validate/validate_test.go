package validate

import (
	"strings"
	"testing"

	"github.com/probekit/mailprobe/internal/session"
)

func TestEmail(t *testing.T) {
	valid := []string{
		"a@b.co",
		"user.name+tag@example.com",
		"UPPER@EXAMPLE.COM",
		" padded@example.com ",
	}
	for _, addr := range valid {
		if !Email(addr) {
			t.Errorf("Email(%q) = false, want true", addr)
		}
	}

	invalid := []string{
		"",
		"plain",
		"@example.com",
		"user@",
		"user@nodot",
		"user@@example.com",
		"a b@example.com",
		strings.Repeat("x", 65) + "@example.com",
		"user@" + strings.Repeat("d.", 130) + "com",
	}
	for _, addr := range invalid {
		if Email(addr) {
			t.Errorf("Email(%q) = true, want false", addr)
		}
	}
}

func TestHost(t *testing.T) {
	valid := []string{"smtp.example.com", "localhost", "mail-1.example.co.uk", "10.0.0.1"}
	for _, h := range valid {
		if !Host(h) {
			t.Errorf("Host(%q) = false, want true", h)
		}
	}
	invalid := []string{"", "-bad-", "exa mple.com", "host_with_underscore..", "http://example.com"}
	for _, h := range invalid {
		if Host(h) {
			t.Errorf("Host(%q) = true, want false", h)
		}
	}
}

func TestPort(t *testing.T) {
	for _, n := range []int{1, 25, 587, 65535} {
		if !Port(n) {
			t.Errorf("Port(%d) = false, want true", n)
		}
	}
	for _, n := range []int{0, -1, 65536} {
		if Port(n) {
			t.Errorf("Port(%d) = true, want false", n)
		}
	}
}

func TestTLSMode(t *testing.T) {
	tests := []struct {
		token string
		want  session.TLSMode
		ok    bool
	}{
		{"none", session.TLSNone, true},
		{"tls", session.TLSStartTLS, true},
		{"STARTTLS", session.TLSStartTLS, true},
		{"Ssl", session.TLSImplicit, true},
		{"true", "", false},
		{"", "", false},
		{"plain", "", false},
	}
	for _, tt := range tests {
		got, ok := TLSMode(tt.token)
		if ok != tt.ok || got != tt.want {
			t.Errorf("TLSMode(%q) = (%q, %v), want (%q, %v)", tt.token, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("user@example.com"); got != "example.com" {
		t.Errorf("Domain = %q, want example.com", got)
	}
	if got := Domain("no-at-sign"); got != "" {
		t.Errorf("Domain = %q, want empty", got)
	}
}
