// Package bot drives the per-user conversation: which input is expected
// next, which action fires, and what reply goes back to the transport. The
// machine is transport-agnostic; the Telegram binding lives alongside it.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/probekit/mailprobe/internal/dispatch"
	"github.com/probekit/mailprobe/internal/domains"
	"github.com/probekit/mailprobe/internal/metrics"
	"github.com/probekit/mailprobe/internal/parse"
	"github.com/probekit/mailprobe/internal/ratelimit"
	"github.com/probekit/mailprobe/internal/session"
)

// EventKind distinguishes the three inbound shapes.
type EventKind int

const (
	KindCommand EventKind = iota
	KindText
	KindAction
)

// Action identifiers carried in button payloads.
const (
	ActionSendBatch = "send_batch"
	ActionContinue  = "continue"
	ActionStop      = "stop"
)

// Event is one inbound command, text line, or button press, tagged with a
// stable user id by the transport.
type Event struct {
	UserID  string
	Kind    EventKind
	Command string // KindCommand: start, cancel, help, domains, domain_add, ...
	Args    string // command arguments, may span lines
	Text    string // KindText
	Action  string // KindAction
}

// Button is an action button attached to a reply.
type Button struct {
	Label  string
	Action string
}

// Reply is the outbound payload: text plus optional action-button rows.
type Reply struct {
	Text    string
	Buttons [][]Button
}

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

// Machine is the conversation state machine. One Handle call processes one
// inbound event; all session mutation goes through the store, which
// serializes per user id.
type Machine struct {
	store         *session.Store
	limiter       *ratelimit.Limiter
	engine        *dispatch.Engine
	domains       *domains.Manager
	maxRecipients int
	log           *slog.Logger
}

// NewMachine wires the conversation state machine.
func NewMachine(store *session.Store, limiter *ratelimit.Limiter, engine *dispatch.Engine, dm *domains.Manager, maxRecipients int, log *slog.Logger) *Machine {
	return &Machine{
		store:         store,
		limiter:       limiter,
		engine:        engine,
		domains:       dm,
		maxRecipients: maxRecipients,
		log:           log,
	}
}

// Handle processes one inbound event and returns the reply to send.
func (m *Machine) Handle(ctx context.Context, ev Event) Reply {
	switch ev.Kind {
	case KindCommand:
		metrics.CommandsTotal.WithLabelValues("cmd_" + ev.Command).Inc()
		return m.handleCommand(ctx, ev)
	case KindAction:
		metrics.CommandsTotal.WithLabelValues("action_" + ev.Action).Inc()
		return m.handleAction(ctx, ev)
	default:
		metrics.CommandsTotal.WithLabelValues("text").Inc()
		return m.handleText(ctx, ev)
	}
}

func (m *Machine) handleCommand(ctx context.Context, ev Event) Reply {
	switch ev.Command {
	case "start", "test":
		return m.handleStart(ev)
	case "cancel":
		return m.handleCancel(ev)
	case "help":
		return helpReply()
	case "domains":
		return m.listDomains()
	case "domain_add", "domain_remove", "domain_bulk", "domain_clear":
		return m.handleAdmin(ev)
	default:
		return text("Unknown command. Use /help for the command list.")
	}
}

// handleStart begins a fresh session, replacing any existing one, and seeds
// the sender-domain pool from the manager.
func (m *Machine) handleStart(ev Event) Reply {
	m.store.Start(ev.UserID)
	pool := m.domains.Pool()
	_ = m.store.Mutate(ev.UserID, func(s *session.Session) error {
		s.DomainPool = pool
		return nil
	})
	m.log.Info("session started", "user_id", ev.UserID, "domain_pool", len(pool))
	return Reply{
		Text: "Send your SMTP details and recipient addresses in one line:\n\n" +
			configFormatHelp,
		Buttons: [][]Button{{{Label: "Cancel", Action: ActionStop}}},
	}
}

func (m *Machine) handleCancel(ev Event) Reply {
	err := m.store.Mutate(ev.UserID, func(s *session.Session) error {
		if s.State == session.StateSendingBatch {
			return errBusy
		}
		s.State = session.StateCancelled
		return nil
	})
	switch {
	case errors.Is(err, errBusy):
		return busyReply()
	case err != nil:
		return text("Nothing to cancel. Use /start to begin.")
	}
	m.log.Info("session cancelled", "user_id", ev.UserID)
	return text("Cancelled. Use /start to begin a new test.")
}

var errBusy = errors.New("bot: batch in progress")

func busyReply() Reply {
	return text("A batch is in progress for your session. Wait for it to finish.")
}

func (m *Machine) handleText(ctx context.Context, ev Event) Reply {
	sess, err := m.store.Get(ev.UserID)
	if err != nil {
		return m.noSessionReply(err)
	}

	switch sess.State {
	case session.StateSendingBatch:
		return busyReply()
	case session.StateAwaitingConfig:
		if rep, limited := m.admit(ev.UserID); limited {
			return rep
		}
		return m.acceptConfig(ev)
	case session.StateAwaitingRecipients:
		if rep, limited := m.admit(ev.UserID); limited {
			return rep
		}
		return m.acceptRecipients(ev)
	default:
		// Unrecognized input never changes state; restate what is expected.
		return stateHelp(sess.State)
	}
}

// acceptConfig parses a full configuration line, possibly with trailing
// recipients. A parse failure leaves the session untouched; no partial
// configuration is ever persisted.
func (m *Machine) acceptConfig(ev Event) Reply {
	res, err := parse.Line(ev.Text)
	if err != nil {
		metrics.ParseFailuresTotal.Inc()
		var malformed *parse.MalformedError
		errors.As(err, &malformed)
		m.log.Info("config rejected", "user_id", ev.UserID, "position", malformed.Position)
		return text("❌ %s\n\n%s", malformed.Error(), configFormatHelp)
	}

	if len(res.Recipients) > m.maxRecipients {
		return text("Too many recipients: %d (maximum %d per test).", len(res.Recipients), m.maxRecipients)
	}

	mutErr := m.store.Mutate(ev.UserID, func(s *session.Session) error {
		// The state is re-checked under the lock: a stale event whose Get
		// preceded a state change must not land its mutation.
		if s.State != session.StateAwaitingConfig {
			return errBusy
		}
		cfg := res.Config
		s.Config = &cfg
		s.Recipients = append([]string(nil), res.Recipients...)
		s.NextIndex = 0
		if len(res.Recipients) > 0 {
			s.State = session.StateReadyToSend
		} else {
			s.State = session.StateAwaitingRecipients
		}
		return nil
	})
	switch {
	case errors.Is(mutErr, errBusy):
		return busyReply()
	case mutErr != nil:
		return m.noSessionReply(mutErr)
	}
	m.log.Info("config accepted",
		"user_id", ev.UserID, "host", res.Config.Host, "port", res.Config.Port,
		"tls_mode", string(res.Config.TLSMode), "recipients", len(res.Recipients))

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Configuration accepted: %s:%d (%s)", res.Config.Host, res.Config.Port, res.Config.TLSMode)
	if res.Config.FromAddress == "" {
		b.WriteString("\n⚠️ No valid from address; sends will fail until you restart with one.")
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Ignored invalid addresses: %s", strings.Join(res.Warnings, ", "))
	}
	if len(res.Recipients) == 0 {
		b.WriteString("\n\nNow send the recipient addresses (space, comma, or newline separated).")
		return Reply{Text: b.String()}
	}
	fmt.Fprintf(&b, "\n%d recipient(s) ready.", len(res.Recipients))
	return Reply{
		Text: b.String(),
		Buttons: [][]Button{
			{{Label: fmt.Sprintf("📧 Send batch (%d at a time)", m.engine.BatchSize()), Action: ActionSendBatch}},
			{{Label: "🛑 Stop", Action: ActionStop}},
		},
	}
}

func (m *Machine) acceptRecipients(ev Event) Reply {
	valid, invalid := parse.Recipients(ev.Text)
	if len(valid) == 0 {
		return text("No valid addresses found. Send one or more email addresses separated by spaces, commas, or newlines.")
	}
	if len(valid) > m.maxRecipients {
		return text("Too many recipients: %d (maximum %d per test).", len(valid), m.maxRecipients)
	}

	err := m.store.Mutate(ev.UserID, func(s *session.Session) error {
		if s.State != session.StateAwaitingRecipients {
			return errBusy
		}
		s.Recipients = append([]string(nil), valid...)
		s.NextIndex = 0
		s.State = session.StateReadyToSend
		return nil
	})
	switch {
	case errors.Is(err, errBusy):
		return busyReply()
	case err != nil:
		return m.noSessionReply(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ %d recipient(s) ready.", len(valid))
	if len(invalid) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Ignored invalid addresses: %s", strings.Join(invalid, ", "))
	}
	return Reply{
		Text: b.String(),
		Buttons: [][]Button{
			{{Label: fmt.Sprintf("📧 Send batch (%d at a time)", m.engine.BatchSize()), Action: ActionSendBatch}},
			{{Label: "🛑 Stop", Action: ActionStop}},
		},
	}
}

func (m *Machine) handleAction(ctx context.Context, ev Event) Reply {
	sess, err := m.store.Get(ev.UserID)
	if err != nil {
		return m.noSessionReply(err)
	}
	if sess.State == session.StateSendingBatch {
		return busyReply()
	}

	switch ev.Action {
	case ActionSendBatch:
		if sess.State != session.StateReadyToSend {
			return stateHelp(sess.State)
		}
		if rep, limited := m.admit(ev.UserID); limited {
			return rep
		}
		return m.runBatch(ctx, ev.UserID, session.StateReadyToSend)
	case ActionContinue:
		if sess.State != session.StateAwaitingContinue {
			return stateHelp(sess.State)
		}
		if rep, limited := m.admit(ev.UserID); limited {
			return rep
		}
		// Continue passes through READY_TO_SEND straight into the next batch.
		return m.runBatch(ctx, ev.UserID, session.StateAwaitingContinue)
	case ActionStop:
		return m.handleStop(ev, sess)
	default:
		return stateHelp(sess.State)
	}
}

// runBatch flips the session into SENDING_BATCH and drives the engine. The
// flip happens under the store lock, so a concurrent duplicate command for
// the same user is rejected rather than queued.
func (m *Machine) runBatch(ctx context.Context, userID string, from session.State) Reply {
	err := m.store.Mutate(userID, func(s *session.Session) error {
		if s.State != from {
			return errBusy
		}
		s.State = session.StateSendingBatch
		return nil
	})
	switch {
	case errors.Is(err, errBusy):
		return busyReply()
	case err != nil:
		return m.noSessionReply(err)
	}

	report, err := m.engine.SendBatch(ctx, userID)
	if err != nil {
		m.log.Error("batch failed", "user_id", userID, "error", err.Error())
		// Unwind the flip so the session is not stuck in SENDING_BATCH.
		if resetErr := m.store.Mutate(userID, func(s *session.Session) error {
			if s.State != session.StateSendingBatch {
				return nil
			}
			if s.NextIndex > 0 {
				s.State = session.StateAwaitingContinue
			} else {
				s.State = session.StateReadyToSend
			}
			return nil
		}); resetErr != nil {
			m.log.Warn("batch-failure reset skipped", "user_id", userID, "error", resetErr.Error())
		}
		return text("Batch failed: %v", err)
	}
	return formatReport(report)
}

// handleStop ends the session with a final summary. Stop is only honored
// between batches; an in-flight batch always runs to completion.
func (m *Machine) handleStop(ev Event, sess *session.Session) Reply {
	err := m.store.Mutate(ev.UserID, func(s *session.Session) error {
		if s.State == session.StateSendingBatch {
			return errBusy
		}
		s.State = session.StateDone
		return nil
	})
	switch {
	case errors.Is(err, errBusy):
		return busyReply()
	case err != nil:
		return m.noSessionReply(err)
	}
	m.log.Info("session stopped", "user_id", ev.UserID,
		"sent", sess.SentCount(), "failed", sess.FailedCount())
	if len(sess.Results) == 0 {
		return text("Stopped. Use /start to begin a new test.")
	}
	return text("🛑 Stopped.\n%s\nUse /start to begin a new test.",
		summaryLines(sess.SentCount(), sess.FailedCount(), sess.NextIndex, len(sess.Recipients), sess.CreatedAt))
}

// admit consumes one rate-limiter admission. The second return value is true
// when the operation was rejected; session state is unchanged in that case.
func (m *Machine) admit(userID string) (Reply, bool) {
	ok, retry := m.limiter.Allow(userID)
	if ok {
		return Reply{}, false
	}
	metrics.RateLimitedTotal.Inc()
	m.log.Info("rate limited", "user_id", userID, "retry_after", retry)
	return text("Rate limit exceeded. Try again in %s.", retry.Round(time.Second)), true
}

func (m *Machine) noSessionReply(err error) Reply {
	if errors.Is(err, session.ErrExpired) {
		return text("Your session has expired. Use /start to begin again.")
	}
	return text("No active session. Use /start to begin.")
}

func (m *Machine) listDomains() Reply {
	list := m.domains.List()
	if len(list) == 0 {
		return text("No sender domains configured; tests use the from address as-is.")
	}
	var b strings.Builder
	b.WriteString("Sender domain pool (cycled per send):\n")
	for i, d := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d.Name)
	}
	return Reply{Text: b.String()}
}

func (m *Machine) handleAdmin(ev Event) Reply {
	if !m.domains.IsAdmin(ev.UserID) {
		return text("Admin access required.")
	}
	args := strings.TrimSpace(ev.Args)
	switch ev.Command {
	case "domain_add":
		if args == "" {
			return text("Usage: /domain_add name|domain (or just the domain).")
		}
		name, url := args, args
		if i := strings.Index(args, "|"); i >= 0 {
			name, url = strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+1:])
		}
		added, err := m.domains.Add(url, name)
		if err != nil {
			return text("Failed to add domain: %v", err)
		}
		if !added {
			return text("Domain already in the pool.")
		}
		return text("✅ Added %s.", domains.Normalize(url))
	case "domain_remove":
		if args == "" {
			return text("Usage: /domain_remove domain")
		}
		removed, err := m.domains.Remove(args)
		if err != nil {
			return text("Failed to remove domain: %v", err)
		}
		if !removed {
			return text("Domain not found.")
		}
		return text("✅ Removed %s.", domains.Normalize(args))
	case "domain_bulk":
		added, skipped, err := m.domains.AddBulk(args)
		if err != nil {
			return text("Bulk import failed: %v", err)
		}
		return text("✅ Bulk import complete: %d added, %d skipped.", len(added), len(skipped))
	case "domain_clear":
		if err := m.domains.Clear(); err != nil {
			return text("Failed to clear domains: %v", err)
		}
		return text("✅ Domain pool cleared.")
	}
	return text("Unknown admin command.")
}

// formatReport renders a batch report, offering continue/stop buttons while
// recipients remain.
func formatReport(r *dispatch.Report) Reply {
	var b strings.Builder
	for _, out := range r.Results {
		if out.Sent {
			fmt.Fprintf(&b, "✅ %s\n", out.Recipient)
		} else {
			fmt.Fprintf(&b, "❌ %s — %s\n", out.Recipient, out.Reason)
		}
	}
	if r.ConnErr != nil {
		fmt.Fprintf(&b, "\n%v — remaining recipients in this batch were not attempted.\n", r.ConnErr)
	}
	fmt.Fprintf(&b, "\nBatch: %d sent, %d failed. Progress: %d/%d.", r.Sent, r.Failed, r.NextIndex, r.Total)

	if r.Done {
		fmt.Fprintf(&b, "\n\n🎉 Test complete.\n%s",
			summaryLines(r.TotalSent, r.TotalFailed, r.NextIndex, r.Total, r.Started))
		return Reply{Text: b.String()}
	}
	remaining := r.Total - r.NextIndex
	return Reply{
		Text: b.String(),
		Buttons: [][]Button{
			{{Label: fmt.Sprintf("📧 Continue (%d left)", remaining), Action: ActionContinue}},
			{{Label: "🛑 Stop", Action: ActionStop}},
		},
	}
}

func summaryLines(sent, failed, attempted, total int, started time.Time) string {
	rate := 0.0
	if attempted > 0 {
		rate = float64(sent) / float64(attempted) * 100
	}
	return fmt.Sprintf("Sent: %d\nFailed: %d\nAttempted: %d/%d\nSuccess rate: %.1f%%\nRuntime: %.1f minutes",
		sent, failed, attempted, total, rate, time.Since(started).Minutes())
}

// stateHelp restates the expected input shape for the current state.
func stateHelp(state session.State) Reply {
	switch state {
	case session.StateAwaitingConfig:
		return text("Expecting your SMTP configuration line.\n\n%s", configFormatHelp)
	case session.StateAwaitingRecipients:
		return text("Expecting recipient email addresses, separated by spaces, commas, or newlines.")
	case session.StateReadyToSend:
		return text("Ready to send. Press the send button, or /cancel to abort.")
	case session.StateAwaitingContinue:
		return text("Batch finished. Use the buttons to continue with the next batch or stop.")
	default:
		return text("Use /start to begin a test, or /help for the command list.")
	}
}

const configFormatHelp = "Format:\n" +
	"host port username password [from_email] [tls_mode] recipient...\n\n" +
	"tls_mode is one of none, tls, starttls, ssl (default starttls).\n\n" +
	"Example:\n" +
	"smtp.example.com 587 user@example.com app_password sender@example.com starttls rcpt1@test.com rcpt2@test.com"

func helpReply() Reply {
	return Reply{Text: "📖 Email deliverability tester\n\n" +
		"/start — begin a test session\n" +
		"/domains — list the sender-domain pool\n" +
		"/cancel — abandon the current session\n" +
		"/help — this message\n\n" +
		"Provide credentials in one line:\n" + configFormatHelp + "\n\n" +
		"Ports: 587 STARTTLS (recommended), 465 SSL, 25 plain.\n" +
		"Gmail/Outlook need an app-specific password."}
}
