// Package session holds per-user conversation state for the bot. Each user id
// owns exactly one session; sessions are in-memory only and evicted after a
// configurable idle timeout.
package session

import (
	"fmt"
	"time"
)

// State is the position of a session in the conversation flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingConfig
	StateAwaitingRecipients
	StateReadyToSend
	StateSendingBatch
	StateAwaitingContinue
	StateDone
	StateCancelled
)

// String returns the lowercase name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateAwaitingRecipients:
		return "awaiting_recipients"
	case StateReadyToSend:
		return "ready_to_send"
	case StateSendingBatch:
		return "sending_batch"
	case StateAwaitingContinue:
		return "awaiting_continue"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the state ends the session. Terminal sessions are
// destroyed on the next lookup.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// TLSMode selects how the SMTP connection is secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "implicit_tls"
)

// SMTPConfig is the structured SMTP configuration for a session. It is
// immutable once accepted; the password must never appear in logs or replies.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	TLSMode     TLSMode
}

// Outcome records the result of one send attempt.
type Outcome struct {
	Recipient string
	Sent      bool
	Reason    string
}

// String renders the outcome in the sent / failed:<reason> form.
func (o Outcome) String() string {
	if o.Sent {
		return "sent"
	}
	return fmt.Sprintf("failed:%s", o.Reason)
}

// Session is the per-user conversational state plus dispatch progress.
//
// Invariants maintained by the store:
//   - 0 <= NextIndex <= len(Recipients)
//   - Config is non-nil in every state past configuration acceptance
//   - len(Results) == NextIndex (a failed send still consumes its slot)
type Session struct {
	UserID       string
	State        State
	Config       *SMTPConfig
	Recipients   []string
	NextIndex    int
	DomainPool   []string
	DomainCursor int
	Results      []Outcome
	LastActivity time.Time
	CreatedAt    time.Time
}

// SentCount returns the number of successful sends so far.
func (s *Session) SentCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Sent {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed sends so far.
func (s *Session) FailedCount() int {
	return len(s.Results) - s.SentCount()
}

// Remaining returns the number of recipients not yet attempted.
func (s *Session) Remaining() int {
	return len(s.Recipients) - s.NextIndex
}

func (s *Session) clone() *Session {
	c := *s
	if s.Config != nil {
		cfg := *s.Config
		c.Config = &cfg
	}
	c.Recipients = append([]string(nil), s.Recipients...)
	c.DomainPool = append([]string(nil), s.DomainPool...)
	c.Results = append([]Outcome(nil), s.Results...)
	return &c
}
