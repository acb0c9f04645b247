// Package parse turns one free-text credentials line into a structured SMTP
// configuration plus a recipient list. The parser is stateless and total: any
// input yields either a Result or a MalformedError, never a panic, and it
// never partially mutates caller state.
//
// Canonical token order:
//
//	host port username password [from_email] [tls_mode] recipient...
//
// The password always sits immediately after the username (token index 3).
// It is never inferred by shape and never taken from before the username.
package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/probekit/mailprobe/internal/session"
	"github.com/probekit/mailprobe/internal/validate"
)

// Positions of the fixed leading tokens.
const (
	posHost = iota
	posPort
	posUsername
	posPassword
	minTokens
)

// MalformedError reports which positional rule the input broke.
type MalformedError struct {
	Position int
	Token    string
	Reason   string
}

func (e *MalformedError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("malformed config at token %d: %s", e.Position+1, e.Reason)
	}
	return fmt.Sprintf("malformed config at token %d (%q): %s", e.Position+1, e.Token, e.Reason)
}

// Result is a successfully parsed configuration line. Warnings lists trailing
// tokens that failed recipient validation; they are excluded, not fatal.
type Result struct {
	Config     session.SMTPConfig
	Recipients []string
	Warnings   []string
}

// Line parses a single credentials line. The returned error, if non-nil, is
// always a *MalformedError.
func Line(input string) (*Result, error) {
	tokens := strings.Fields(input)
	if len(tokens) < minTokens {
		return nil, &MalformedError{
			Position: len(tokens),
			Reason:   fmt.Sprintf("need at least %d values (host port username password), got %d", minTokens, len(tokens)),
		}
	}

	host := tokens[posHost]
	if !validate.Host(host) {
		return nil, &MalformedError{Position: posHost, Token: host, Reason: "not a valid hostname or IPv4 address"}
	}

	port, err := strconv.Atoi(tokens[posPort])
	if err != nil || !validate.Port(port) {
		return nil, &MalformedError{Position: posPort, Token: tokens[posPort], Reason: "not a port number between 1 and 65535"}
	}

	username := tokens[posUsername]
	password := tokens[posPassword]

	rest := tokens[minTokens:]

	// First TLS-vocabulary token in the remainder is the TLS mode, wherever
	// it appears. Default is STARTTLS.
	tlsMode := session.TLSStartTLS
	tlsIdx := -1
	for i, tok := range rest {
		if mode, ok := validate.TLSMode(tok); ok {
			tlsMode = mode
			tlsIdx = i
			break
		}
	}

	// From-address disambiguation: exactly one email-shaped token between the
	// password and the TLS token is the from address. Without a TLS token to
	// anchor on, every email-shaped token is a recipient and the from address
	// falls back to the username.
	var fromAddress string
	var candidates []string
	if tlsIdx >= 0 {
		pre := rest[:tlsIdx]
		post := rest[tlsIdx+1:]
		if len(pre) == 1 && validate.Email(pre[0]) {
			fromAddress = pre[0]
			candidates = post
		} else {
			candidates = append(append([]string{}, pre...), post...)
		}
	} else {
		candidates = rest
	}
	if fromAddress == "" && validate.Email(username) {
		fromAddress = username
	}

	var recipients, warnings []string
	for _, tok := range candidates {
		if validate.Email(tok) {
			recipients = append(recipients, tok)
		} else {
			warnings = append(warnings, tok)
		}
	}
	if len(candidates) > 0 && len(recipients) == 0 {
		return nil, &MalformedError{
			Position: minTokens + tlsIdx + 1,
			Reason:   fmt.Sprintf("none of the %d trailing values is a valid recipient address", len(candidates)),
		}
	}

	return &Result{
		Config: session.SMTPConfig{
			Host:        host,
			Port:        port,
			Username:    username,
			Password:    password,
			FromAddress: fromAddress,
			TLSMode:     tlsMode,
		},
		Recipients: recipients,
		Warnings:   warnings,
	}, nil
}

// CanonicalLine reconstructs the canonical form of a parsed line. Feeding it
// back through Line yields an equal configuration. The from address is only
// emitted when it was supplied independently of the username.
func (r *Result) CanonicalLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %s", r.Config.Host, r.Config.Port, r.Config.Username, r.Config.Password)
	if r.Config.FromAddress != "" && r.Config.FromAddress != r.Config.Username {
		b.WriteByte(' ')
		b.WriteString(r.Config.FromAddress)
	}
	b.WriteByte(' ')
	b.WriteString(tlsToken(r.Config.TLSMode))
	for _, rcpt := range r.Recipients {
		b.WriteByte(' ')
		b.WriteString(rcpt)
	}
	return b.String()
}

func tlsToken(mode session.TLSMode) string {
	switch mode {
	case session.TLSNone:
		return "none"
	case session.TLSImplicit:
		return "ssl"
	default:
		return "starttls"
	}
}

// Recipients splits free text on whitespace, commas, and newlines and
// validates each piece independently. Invalid addresses are returned
// separately so the caller can report them as warnings.
func Recipients(input string) (valid, invalid []string) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, f := range fields {
		if validate.Email(f) {
			valid = append(valid, f)
		} else {
			invalid = append(invalid, f)
		}
	}
	return valid, invalid
}
