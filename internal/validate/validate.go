// Package validate provides the syntactic checks used by the config parser
// and recipient handling: email addresses, hostnames, ports, and TLS-mode
// tokens. All functions are pure.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/probekit/mailprobe/internal/session"
)

var v = validator.New()

// RFC 5321 length limits.
const (
	maxAddressLength   = 254
	maxLocalPartLength = 64
)

// Email reports whether s is a syntactically valid email address.
func Email(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxAddressLength {
		return false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	if at > maxLocalPartLength {
		return false
	}
	// Require a dotted domain; bare hostnames are not deliverable targets.
	if !strings.Contains(s[at+1:], ".") {
		return false
	}
	return v.Var(s, "email") == nil
}

// Host reports whether s is a DNS-style hostname or a dotted IPv4 address.
func Host(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if v.Var(s, "ip4_addr") == nil {
		return true
	}
	return v.Var(s, "hostname_rfc1123") == nil
}

// Port reports whether n is a usable TCP port.
func Port(n int) bool {
	return n >= 1 && n <= 65535
}

// TLSMode maps a user-supplied token onto a TLS mode. Matching is
// case-insensitive; ok is false when the token is not TLS vocabulary.
func TLSMode(token string) (session.TLSMode, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "none":
		return session.TLSNone, true
	case "tls", "starttls":
		return session.TLSStartTLS, true
	case "ssl":
		return session.TLSImplicit, true
	}
	return "", false
}

// Domain extracts the domain part of a valid email address.
func Domain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
