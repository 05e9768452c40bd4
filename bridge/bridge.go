// Package bridge runs operation bodies inside an inspected page and waits
// for their results.
//
// A page can only be reached through expression evaluation that does not
// await promises. Run therefore wraps each body so that it records its
// progress in a uniquely named global slot, submits the wrapper, and polls
// the slot until it leaves the pending state or the profile's attempt
// budget runs out. The slot is deleted afterwards on a best-effort basis.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/opfsx/eval"
	"github.com/pithecene-io/opfsx/log"
	"github.com/pithecene-io/opfsx/metrics"
)

// DefaultCleanupTimeout bounds the slot cleanup evaluation.
const DefaultCleanupTimeout = 2 * time.Second

// Evaluator evaluates an expression in the page. *eval.Adapter satisfies it.
type Evaluator interface {
	Eval(ctx context.Context, script string) eval.Result
}

// Options configures a Bridge.
type Options struct {
	Profile        Profile
	Logger         *log.Logger
	Metrics        *metrics.Collector
	CleanupTimeout time.Duration
}

// Bridge submits operation bodies and polls for their results.
// It is safe for concurrent use; each Run owns its own slot.
type Bridge struct {
	eval           Evaluator
	profile        Profile
	logger         *log.Logger
	metrics        *metrics.Collector
	cleanupTimeout time.Duration
}

// New creates a bridge over an evaluator.
func New(ev Evaluator, opts Options) *Bridge {
	cleanup := opts.CleanupTimeout
	if cleanup <= 0 {
		cleanup = DefaultCleanupTimeout
	}
	return &Bridge{
		eval:           ev,
		profile:        opts.Profile.normalize(),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		cleanupTimeout: cleanup,
	}
}

// Profile returns the bridge's poll profile.
func (b *Bridge) Profile() Profile {
	return b.profile
}

// Run executes body in the page and returns the JSON result it produced.
// op names the operation in errors and logs.
func (b *Bridge) Run(ctx context.Context, op, body string) (json.RawMessage, error) {
	slot := NewSlot()
	b.metrics.IncOpStarted(op)

	start := time.Now()
	res, err := b.run(ctx, op, slot, body)
	b.record(err)

	fields := map[string]any{
		"op":          op,
		"slot":        slot,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["kind"] = string(KindOf(err))
		fields["error"] = err.Error()
		b.logger.Debug("operation failed", fields)
		return nil, err
	}
	b.logger.Debug("operation completed", fields)
	return res, nil
}

func (b *Bridge) record(err error) {
	switch KindOf(err) {
	case "":
		if err == nil {
			b.metrics.IncOpSucceeded()
		} else {
			b.metrics.IncOpFailed()
		}
	case KindTimeout:
		b.metrics.IncOpTimedOut()
	case KindCanceled:
		b.metrics.IncOpCanceled()
	default:
		b.metrics.IncOpFailed()
	}
}

func (b *Bridge) run(ctx context.Context, op, slot, body string) (json.RawMessage, error) {
	defer b.cleanup(ctx, op, slot)

	fail := func(kind Kind, msg string, err error) error {
		return &Error{Kind: kind, Op: op, Slot: slot, Msg: msg, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, fail(KindCanceled, "canceled before submission", err)
	}

	// submitted
	r := b.eval.Eval(ctx, Wrap(slot, body))
	if r.Failed() {
		if err := ctx.Err(); err != nil {
			return nil, fail(KindCanceled, "canceled during submission", err)
		}
		return nil, fail(KindSubmit, "submission failed", r.Exception)
	}
	st, err := decodeSlot(r.Value)
	if err != nil {
		return nil, fail(KindProtocol, "unreadable submission result", err)
	}
	if st == nil {
		return nil, fail(KindProtocol, "submission returned no slot", nil)
	}
	if st.State != StatePending {
		b.metrics.IncSyncCompletion()
		return settle(st, fail)
	}

	// pending
	p := b.profile
	failures := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := sleep(ctx, p.PollInterval); err != nil {
			return nil, fail(KindCanceled, "canceled while pending", err)
		}

		b.metrics.IncPoll()
		st, perr := b.poll(ctx, slot)
		if perr != nil {
			if err := ctx.Err(); err != nil {
				return nil, fail(KindCanceled, "canceled while polling", err)
			}
			failures++
			if failures > p.PollRetries {
				return nil, fail(KindPoll, fmt.Sprintf("polling failed after %d attempts", failures), perr)
			}
			b.metrics.IncPollRetry()
			b.logger.Debug("poll failed, retrying", map[string]any{
				"op":      op,
				"slot":    slot,
				"attempt": attempt,
				"retry":   failures,
				"error":   perr.Error(),
			})
			if err := sleep(ctx, p.RetryBackoff*time.Duration(failures)); err != nil {
				return nil, fail(KindCanceled, "canceled while polling", err)
			}
			continue
		}
		failures = 0

		if st.State == StatePending {
			continue
		}
		return settle(st, fail)
	}

	return nil, fail(KindTimeout, fmt.Sprintf("Operation timed out after %s", p.Timeout()), nil)
}

// poll reads the slot once. A missing slot is a poll failure.
func (b *Bridge) poll(ctx context.Context, slot string) (*slotState, error) {
	r := b.eval.Eval(ctx, PollScript(slot))
	if r.Failed() {
		return nil, r.Exception
	}
	st, err := decodeSlot(r.Value)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("slot is missing")
	}
	return st, nil
}

// settle converts a terminal slot into Run's result.
func settle(st *slotState, fail func(Kind, string, error) error) (json.RawMessage, error) {
	if st.State == StateError {
		return nil, fail(KindRemote, *st.Error, nil)
	}
	return st.Result, nil
}

// cleanup deletes the slot. It runs even when ctx is already done and
// never fails the operation.
func (b *Bridge) cleanup(ctx context.Context, op, slot string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cleanupTimeout)
	defer cancel()

	r := b.eval.Eval(cctx, CleanupScript(slot))
	if !r.Failed() {
		return
	}
	b.metrics.IncCleanupFailure()
	b.logger.Debug("slot cleanup failed", map[string]any{
		"op":    op,
		"slot":  slot,
		"error": r.Exception.Error(),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
