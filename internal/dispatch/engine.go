// Package dispatch sends bounded batches of test emails for a session,
// cycling the sender domain across the configured pool. Batches run behind a
// bounded semaphore so one slow SMTP provider cannot stall other users.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/probekit/mailprobe/internal/metrics"
	"github.com/probekit/mailprobe/internal/session"
)

// Sender delivers one test email, encapsulating socket, TLS, and auth
// mechanics. Ordinary delivery failures come back as *SendError; failures
// that condemn the whole configuration come back as *ConnectionError.
type Sender interface {
	Send(ctx context.Context, cfg session.SMTPConfig, from, to string) error
}

// ConnectionError marks a failure that is a property of the configuration
// rather than of one recipient, such as a refused connection or rejected
// authentication. It aborts the remainder of the current batch.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError is a per-recipient delivery failure. Reason is a short token
// recorded as failed:<reason> in session results.
type SendError struct {
	Reason string
	Err    error
}

func (e *SendError) Error() string { return fmt.Sprintf("send failed (%s): %v", e.Reason, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Reason recorded for recipients condemned by a connection failure.
const reasonConnectionError = "connection_error"

// Engine coordinates batch sends against the session store.
type Engine struct {
	store     *session.Store
	sender    Sender
	batchSize int
	sem       chan struct{}
	log       *slog.Logger
}

// NewEngine creates an engine sending up to batchSize recipients per batch,
// with at most maxConcurrent batches in flight process-wide.
func NewEngine(store *session.Store, sender Sender, batchSize, maxConcurrent int, log *slog.Logger) *Engine {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Engine{
		store:     store,
		sender:    sender,
		batchSize: batchSize,
		sem:       make(chan struct{}, maxConcurrent),
		log:       log,
	}
}

// BatchSize returns the configured batch size.
func (e *Engine) BatchSize() int { return e.batchSize }

// Report summarizes one completed batch.
type Report struct {
	Results   []session.Outcome // this batch only, in send order
	Sent      int
	Failed    int
	NextIndex int
	Total     int
	Done      bool
	ConnErr   error // aggregated connection error, nil otherwise

	// Session-wide tallies, for the final campaign summary.
	TotalSent   int
	TotalFailed int
	Started     time.Time
}

// SendBatch sends the next batch for the user's session, which must already
// be in SENDING_BATCH. Sends happen sequentially in recipient-list order;
// every attempt advances the cursor, and each outcome is persisted into the
// store as it happens so next_index always equals len(results).
func (e *Engine) SendBatch(ctx context.Context, userID string) (*Report, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()

	var (
		cfg    session.SMTPConfig
		batch  []string
		pool   []string
		cursor int
	)
	err := e.store.Mutate(userID, func(s *session.Session) error {
		if s.State != session.StateSendingBatch {
			return fmt.Errorf("dispatch: session in state %s, expected %s", s.State, session.StateSendingBatch)
		}
		if s.Config == nil {
			return errors.New("dispatch: session has no accepted configuration")
		}
		end := s.NextIndex + e.batchSize
		if end > len(s.Recipients) {
			end = len(s.Recipients)
		}
		cfg = *s.Config
		batch = append([]string(nil), s.Recipients[s.NextIndex:end]...)
		pool = append([]string(nil), s.DomainPool...)
		cursor = s.DomainCursor
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for i, rcpt := range batch {
		from, next := effectiveFrom(cfg.FromAddress, pool, cursor)
		cursor = next

		sendErr := e.sender.Send(ctx, cfg, from, rcpt)

		var connErr *ConnectionError
		if errors.As(sendErr, &connErr) {
			// The configuration itself is broken: condemn this recipient
			// and every unattempted one in the batch, then stop.
			condemned := make([]session.Outcome, 0, len(batch)-i)
			for _, left := range batch[i:] {
				condemned = append(condemned, session.Outcome{Recipient: left, Reason: reasonConnectionError})
			}
			if err := e.record(userID, condemned, cursor); err != nil {
				return nil, err
			}
			report.Results = append(report.Results, condemned...)
			report.ConnErr = connErr
			e.log.Warn("batch aborted on connection error",
				"user_id", userID, "host", cfg.Host, "error", connErr.Err.Error(),
				"condemned", len(condemned))
			break
		}

		out := session.Outcome{Recipient: rcpt, Sent: sendErr == nil}
		if sendErr != nil {
			out.Reason = failureReason(sendErr)
		}
		if err := e.record(userID, []session.Outcome{out}, cursor); err != nil {
			return nil, err
		}
		report.Results = append(report.Results, out)
	}

	err = e.store.Mutate(userID, func(s *session.Session) error {
		if s.NextIndex < len(s.Recipients) {
			s.State = session.StateAwaitingContinue
		} else {
			s.State = session.StateDone
			report.Done = true
		}
		report.NextIndex = s.NextIndex
		report.Total = len(s.Recipients)
		report.TotalSent = s.SentCount()
		report.TotalFailed = s.FailedCount()
		report.Started = s.CreatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, out := range report.Results {
		if out.Sent {
			report.Sent++
			metrics.EmailsTotal.WithLabelValues("sent").Inc()
		} else {
			report.Failed++
			metrics.EmailsTotal.WithLabelValues("failed").Inc()
		}
	}
	result := "ok"
	if report.ConnErr != nil {
		result = reasonConnectionError
	}
	metrics.BatchesTotal.WithLabelValues(result).Inc()
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	e.log.Info("batch complete",
		"user_id", userID, "sent", report.Sent, "failed", report.Failed,
		"next_index", report.NextIndex, "total", report.Total,
		"duration", time.Since(start))
	return report, nil
}

// record appends outcomes and advances the cursors under the store lock.
func (e *Engine) record(userID string, outs []session.Outcome, cursor int) error {
	return e.store.Mutate(userID, func(s *session.Session) error {
		s.Results = append(s.Results, outs...)
		s.NextIndex += len(outs)
		s.DomainCursor = cursor
		return nil
	})
}

// effectiveFrom substitutes the domain part of the configured from address
// with the pool entry at cursor and advances the cursor, wrapping. With an
// empty pool, or a from address with no domain part to substitute, the
// address passes through untouched and the cursor stays put.
func effectiveFrom(from string, pool []string, cursor int) (string, int) {
	if len(pool) == 0 {
		return from, cursor
	}
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return from, cursor
	}
	if cursor >= len(pool) {
		cursor = 0
	}
	effective := from[:at+1] + pool[cursor]
	return effective, (cursor + 1) % len(pool)
}

func failureReason(err error) string {
	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.Reason != "" {
		return sendErr.Reason
	}
	return "send_error"
}
