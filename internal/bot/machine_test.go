package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/probekit/mailprobe/internal/dispatch"
	"github.com/probekit/mailprobe/internal/domains"
	"github.com/probekit/mailprobe/internal/ratelimit"
	"github.com/probekit/mailprobe/internal/session"
)

// stubSender accepts every send. Failures are exercised in the dispatch
// package; here we care about conversation flow.
type stubSender struct{}

func (stubSender) Send(context.Context, session.SMTPConfig, string, string) error { return nil }

type fixture struct {
	machine *Machine
	store   *session.Store
	limiter *ratelimit.Limiter
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		ttl:       time.Hour,
		batchSize: 5,
		rateLimit: 100,
		admins:    nil,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := slog.New(slog.DiscardHandler)
	store := session.NewStore(cfg.ttl)
	t.Cleanup(store.Close)
	limiter := ratelimit.NewLimiter(cfg.rateLimit, time.Minute)
	t.Cleanup(limiter.Close)
	dm := domains.NewManager("", cfg.admins)
	engine := dispatch.NewEngine(store, stubSender{}, cfg.batchSize, 2, log)

	return &fixture{
		machine: NewMachine(store, limiter, engine, dm, 100, log),
		store:   store,
		limiter: limiter,
	}
}

type fixtureConfig struct {
	ttl       time.Duration
	batchSize int
	rateLimit int
	admins    []string
}

func withRateLimit(n int) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.rateLimit = n }
}

func withAdmins(ids ...string) func(*fixtureConfig) {
	return func(c *fixtureConfig) { c.admins = ids }
}

func command(user, cmd string) Event { return Event{UserID: user, Kind: KindCommand, Command: cmd} }
func textEvent(user, body string) Event {
	return Event{UserID: user, Kind: KindText, Text: body}
}
func action(user, act string) Event { return Event{UserID: user, Kind: KindAction, Action: act} }

func configLine(recipients int) string {
	parts := []string{"smtp.example.com", "587", "user@example.com", "pw", "sender@example.com", "starttls"}
	for i := 0; i < recipients; i++ {
		parts = append(parts, fmt.Sprintf("r%d@test.com", i))
	}
	return strings.Join(parts, " ")
}

func TestFullConversationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep := f.machine.Handle(ctx, command("u1", "start"))
	if !strings.Contains(rep.Text, "SMTP details") {
		t.Fatalf("start reply = %q", rep.Text)
	}

	rep = f.machine.Handle(ctx, textEvent("u1", configLine(7)))
	if !strings.Contains(rep.Text, "Configuration accepted") {
		t.Fatalf("config reply = %q", rep.Text)
	}
	if len(rep.Buttons) == 0 || rep.Buttons[0][0].Action != ActionSendBatch {
		t.Fatalf("expected a send button, got %+v", rep.Buttons)
	}

	rep = f.machine.Handle(ctx, action("u1", ActionSendBatch))
	if !strings.Contains(rep.Text, "Progress: 5/7") {
		t.Fatalf("batch reply = %q", rep.Text)
	}
	if len(rep.Buttons) == 0 || rep.Buttons[0][0].Action != ActionContinue {
		t.Fatalf("expected a continue button, got %+v", rep.Buttons)
	}

	sess, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.State != session.StateAwaitingContinue {
		t.Fatalf("state = %s, want awaiting_continue", sess.State)
	}

	rep = f.machine.Handle(ctx, action("u1", ActionContinue))
	if !strings.Contains(rep.Text, "Progress: 7/7") || !strings.Contains(rep.Text, "Test complete") {
		t.Fatalf("final reply = %q", rep.Text)
	}
	if len(rep.Buttons) != 0 {
		t.Fatalf("final reply still carries buttons: %+v", rep.Buttons)
	}
}

func TestConfigWithoutRecipientsAsksForThem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	rep := f.machine.Handle(ctx, textEvent("u1", "smtp.example.com 587 user@example.com pw"))
	if !strings.Contains(rep.Text, "recipient addresses") {
		t.Fatalf("reply = %q, want prompt for recipients", rep.Text)
	}

	rep = f.machine.Handle(ctx, textEvent("u1", "a@x.com, b@y.com"))
	if !strings.Contains(rep.Text, "2 recipient(s) ready") {
		t.Fatalf("reply = %q", rep.Text)
	}
	sess, _ := f.store.Get("u1")
	if sess.State != session.StateReadyToSend {
		t.Fatalf("state = %s, want ready_to_send", sess.State)
	}
}

func TestMalformedConfigLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	rep := f.machine.Handle(ctx, textEvent("u1", "smtp.example.com NaN user pw r@x.com"))
	if !strings.Contains(rep.Text, "❌") {
		t.Fatalf("reply = %q, want rejection", rep.Text)
	}

	sess, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.State != session.StateAwaitingConfig || sess.Config != nil {
		t.Fatalf("rejected config mutated the session: %+v", sess)
	}
}

func TestCancelEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	rep := f.machine.Handle(ctx, command("u1", "cancel"))
	if !strings.Contains(rep.Text, "Cancelled") {
		t.Fatalf("reply = %q", rep.Text)
	}
	if _, err := f.store.Get("u1"); err == nil {
		t.Fatal("cancelled session still live")
	}
}

func TestBusySessionRejectsInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	err := f.store.Mutate("u1", func(s *session.Session) error {
		s.State = session.StateSendingBatch
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	for _, ev := range []Event{
		textEvent("u1", configLine(1)),
		action("u1", ActionSendBatch),
		command("u1", "cancel"),
	} {
		rep := f.machine.Handle(ctx, ev)
		if !strings.Contains(rep.Text, "batch is in progress") {
			t.Errorf("event %+v got %q, want busy rejection", ev, rep.Text)
		}
	}
}

// An event that read the session before a batch started must not land its
// mutation afterwards: the state is re-validated under the store lock.
func TestStaleEventsCannotMutateActiveBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	f.machine.Handle(ctx, textEvent("u1", configLine(5)))

	stale, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	err = f.store.Mutate("u1", func(s *session.Session) error {
		s.State = session.StateSendingBatch
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	replies := []Reply{
		f.machine.acceptConfig(textEvent("u1", configLine(2))),
		f.machine.acceptRecipients(textEvent("u1", "other@x.com")),
		f.machine.handleStop(action("u1", ActionStop), stale),
	}
	for i, rep := range replies {
		if !strings.Contains(rep.Text, "batch is in progress") {
			t.Errorf("stale mutation %d got %q, want busy rejection", i, rep.Text)
		}
	}

	sess, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.State != session.StateSendingBatch {
		t.Errorf("state = %s, want sending_batch", sess.State)
	}
	if len(sess.Recipients) != 5 || sess.NextIndex != 0 {
		t.Errorf("batch snapshot clobbered: recipients=%d next_index=%d", len(sess.Recipients), sess.NextIndex)
	}
}

// An engine failure after the SENDING_BATCH flip must not strand the session:
// the machine unwinds the flip so the user can retry or cancel.
func TestEngineFailureLeavesSessionRecoverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	// READY_TO_SEND without a config makes the engine reject the batch.
	err := f.store.Mutate("u1", func(s *session.Session) error {
		s.Recipients = []string{"a@x.com"}
		s.State = session.StateReadyToSend
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	rep := f.machine.Handle(ctx, action("u1", ActionSendBatch))
	if !strings.Contains(rep.Text, "Batch failed") {
		t.Fatalf("reply = %q, want batch failure", rep.Text)
	}

	sess, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.State == session.StateSendingBatch {
		t.Fatal("session stuck in sending_batch after engine failure")
	}

	rep = f.machine.Handle(ctx, command("u1", "cancel"))
	if !strings.Contains(rep.Text, "Cancelled") {
		t.Fatalf("cancel after failure got %q", rep.Text)
	}
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	f := newFixture(t, withRateLimit(1))
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	rep := f.machine.Handle(ctx, textEvent("u1", configLine(3)))
	if !strings.Contains(rep.Text, "Configuration accepted") {
		t.Fatalf("first operation rejected: %q", rep.Text)
	}

	rep = f.machine.Handle(ctx, action("u1", ActionSendBatch))
	if !strings.Contains(rep.Text, "Rate limit exceeded") {
		t.Fatalf("reply = %q, want rate-limit rejection", rep.Text)
	}
	// Rejection does not advance the conversation.
	sess, _ := f.store.Get("u1")
	if sess.State != session.StateReadyToSend {
		t.Fatalf("state = %s, want ready_to_send", sess.State)
	}
}

func TestNoSessionReplies(t *testing.T) {
	f := newFixture(t)

	rep := f.machine.noSessionReply(session.ErrExpired)
	if !strings.Contains(rep.Text, "expired") {
		t.Fatalf("expired reply = %q, want expiry notice", rep.Text)
	}
	rep = f.machine.noSessionReply(session.ErrNotFound)
	if !strings.Contains(rep.Text, "/start") {
		t.Fatalf("not-found reply = %q, want pointer to /start", rep.Text)
	}
}

func TestTextWithoutSession(t *testing.T) {
	f := newFixture(t)
	rep := f.machine.Handle(context.Background(), textEvent("u1", "hello"))
	if !strings.Contains(rep.Text, "/start") {
		t.Fatalf("reply = %q, want pointer to /start", rep.Text)
	}
}

func TestStopBetweenBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	f.machine.Handle(ctx, textEvent("u1", configLine(7)))
	f.machine.Handle(ctx, action("u1", ActionSendBatch))

	rep := f.machine.Handle(ctx, action("u1", ActionStop))
	if !strings.Contains(rep.Text, "Stopped") || !strings.Contains(rep.Text, "Sent: 5") {
		t.Fatalf("stop reply = %q", rep.Text)
	}
	if _, err := f.store.Get("u1"); err == nil {
		t.Fatal("stopped session still live")
	}
}

func TestAdminGateOnDomainCommands(t *testing.T) {
	f := newFixture(t, withAdmins("boss"))
	ctx := context.Background()

	ev := command("u1", "domain_add")
	ev.Args = "example.com"
	rep := f.machine.Handle(ctx, ev)
	if !strings.Contains(rep.Text, "Admin access required") {
		t.Fatalf("non-admin reply = %q", rep.Text)
	}

	ev.UserID = "boss"
	rep = f.machine.Handle(ctx, ev)
	if !strings.Contains(rep.Text, "Added example.com") {
		t.Fatalf("admin reply = %q", rep.Text)
	}

	rep = f.machine.Handle(ctx, command("u1", "domains"))
	if !strings.Contains(rep.Text, "example.com") {
		t.Fatalf("domains reply = %q", rep.Text)
	}
}

func TestStartSeedsDomainPool(t *testing.T) {
	f := newFixture(t, withAdmins("boss"))
	ctx := context.Background()

	for _, d := range []string{"a.com", "b.com"} {
		ev := command("boss", "domain_add")
		ev.Args = d
		f.machine.Handle(ctx, ev)
	}

	f.machine.Handle(ctx, command("u1", "start"))
	sess, err := f.store.Get("u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sess.DomainPool) != 2 {
		t.Fatalf("domain pool = %v, want 2 entries", sess.DomainPool)
	}
}

func TestTooManyRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.Handle(ctx, command("u1", "start"))
	rep := f.machine.Handle(ctx, textEvent("u1", configLine(101)))
	if !strings.Contains(rep.Text, "Too many recipients") {
		t.Fatalf("reply = %q", rep.Text)
	}
}
