package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synqronlabs/raven"

	"github.com/probekit/mailprobe/internal/session"
	"github.com/probekit/mailprobe/internal/validate"
)

// SMTPSender delivers test emails with raven, opening one connection per
// send. One connection per message keeps provider-side rate limiting
// predictable and lets every send authenticate with the session credentials.
type SMTPSender struct {
	LocalName      string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

// NewSMTPSender returns a sender with the given dial and I/O timeouts.
func NewSMTPSender(connectTimeout, sendTimeout time.Duration) *SMTPSender {
	return &SMTPSender{
		ConnectTimeout: connectTimeout,
		SendTimeout:    sendTimeout,
	}
}

// Send delivers one test email to to, from from, over a fresh connection.
// Dial, TLS, and auth failures come back as *ConnectionError; everything
// after a successful handshake is a per-recipient *SendError.
func (s *SMTPSender) Send(ctx context.Context, cfg session.SMTPConfig, from, to string) error {
	if !validate.Email(from) {
		return &SendError{Reason: "invalid_sender", Err: fmt.Errorf("no valid from address (got %q)", from)}
	}

	mail, err := buildTestMail(from, to)
	if err != nil {
		return &SendError{Reason: "build_failed", Err: err}
	}

	d := raven.NewDialer(cfg.Host, cfg.Port)
	d.LocalName = s.LocalName
	d.ConnectTimeout = s.ConnectTimeout
	d.ReadTimeout = s.SendTimeout
	d.WriteTimeout = s.SendTimeout
	d.Auth = &raven.ClientAuth{Username: cfg.Username, Password: cfg.Password}
	switch cfg.TLSMode {
	case session.TLSImplicit:
		d.SSL = true
	case session.TLSStartTLS:
		d.StartTLS = true
		d.RequireTLS = true
	}

	client, err := d.DialContext(ctx)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer client.Quit()

	res, err := client.Send(mail)
	if err != nil {
		var smtpErr *raven.SMTPError
		if errors.As(err, &smtpErr) {
			return &SendError{Reason: fmt.Sprintf("smtp_%d", smtpErr.Code), Err: err}
		}
		return &SendError{Reason: "send_failed", Err: err}
	}
	for _, rr := range res.RecipientResults {
		if !rr.Accepted {
			return &SendError{Reason: "recipient_refused", Err: rr.Error}
		}
	}
	if !res.Success {
		return &SendError{Reason: "send_failed", Err: res.Response.Error()}
	}
	return nil
}
