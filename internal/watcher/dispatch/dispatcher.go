// Package dispatch delivers decoded change events to the consumer handler,
// strictly in arrival order, and records the resume position after each
// successful delivery.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedwatch/internal/watcher/checkpoint"
	"feedwatch/internal/watcher/events"
	"feedwatch/internal/watcher/metrics"
)

// Handler consumes a single change event. Returning an error reports the
// failure upstream; it never crashes the dispatcher.
type Handler func(ctx context.Context, evt *events.ChangeEvent) error

// Policy decides what a handler failure does to the stream.
type Policy string

const (
	// PolicyContinue logs the failure and keeps consuming. Default.
	PolicyContinue Policy = "continue"

	// PolicyAbort stops the watcher with a HandlerError.
	PolicyAbort Policy = "abort"
)

// IsValid checks if the policy is a known value.
func (p Policy) IsValid() bool {
	return p == PolicyContinue || p == PolicyAbort
}

// HandlerError reports a consumer handler failure for one event.
type HandlerError struct {
	Resource []string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for %v: %v", e.Resource, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Dispatcher forwards events to the handler and coalesces checkpoint saves
// per the configured policy. Not safe for concurrent use: exactly one
// consumer loop drives it, which is what serializes checkpoint writes.
type Dispatcher struct {
	store   checkpoint.Store
	tracker *checkpoint.Tracker
	policy  Policy
	logger  *slog.Logger
}

// New creates a Dispatcher. A zero errPolicy means PolicyContinue.
func New(store checkpoint.Store, savePolicy checkpoint.Policy, errPolicy Policy, logger *slog.Logger) *Dispatcher {
	if errPolicy == "" {
		errPolicy = PolicyContinue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		tracker: checkpoint.NewTracker(savePolicy),
		policy:  errPolicy,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Dispatch delivers one event to handler and records its position.
//
// A handler failure under PolicyAbort returns a *HandlerError and does not
// advance the checkpoint. Under PolicyContinue the failure is logged and the
// event still counts as consumed; skipping its checkpoint would replay it
// after a restart out of order with everything delivered since.
//
// Checkpoint store failures never stop the stream: losing a checkpoint is
// recoverable (a few events replay after a future restart), halting loses
// live data.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *events.ChangeEvent, handler Handler) error {
	start := time.Now()
	err := d.invoke(ctx, evt, handler)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// Cancellation during shutdown is not a handler failure; the
		// event stays un-checkpointed and replays on the next run.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		metrics.HandlerErrors.Inc()
		herr := &HandlerError{Resource: evt.Resource(), Err: err}
		if d.policy == PolicyAbort {
			return herr
		}
		d.logger.Error("handler failed, continuing per policy",
			"resource", evt.Resource(), "error", err)
	}

	metrics.EventsDispatched.WithLabelValues(string(evt.Operation)).Inc()
	d.saveCheckpoint(ctx, evt.Token)
	return nil
}

// invoke runs the handler, converting a panic into an error so one bad
// handler cannot take down the consumer loop.
func (d *Dispatcher) invoke(ctx context.Context, evt *events.ChangeEvent, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

func (d *Dispatcher) saveCheckpoint(ctx context.Context, token events.ResumeToken) {
	if token.IsZero() {
		return
	}
	if !d.tracker.RecordEvent(token) {
		return
	}
	if err := d.store.Save(ctx, token); err != nil {
		metrics.CheckpointErrors.Inc()
		d.logger.Warn("failed to save checkpoint, skipping", "error", err)
		return
	}
	metrics.CheckpointsSaved.Inc()
	d.tracker.MarkCheckpointed()
}

// LastToken returns the position of the most recently dispatched event,
// whether or not it has been persisted yet.
func (d *Dispatcher) LastToken() events.ResumeToken {
	return d.tracker.LastToken()
}

// Flush persists the latest position if the policy asks for a final
// checkpoint on shutdown.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if !d.tracker.ShouldCheckpointOnShutdown() {
		return nil
	}
	if err := d.store.Save(ctx, d.tracker.LastToken()); err != nil {
		metrics.CheckpointErrors.Inc()
		return fmt.Errorf("failed to save final checkpoint: %w", err)
	}
	metrics.CheckpointsSaved.Inc()
	d.tracker.MarkCheckpointed()
	return nil
}

// ResetPosition drops the tracked position after a token-expired restart,
// so a stale token cannot be flushed over the fresh subscription.
func (d *Dispatcher) ResetPosition(ctx context.Context) {
	d.tracker.Reset()
	if err := d.store.Delete(ctx); err != nil {
		d.logger.Warn("failed to delete stale checkpoint", "error", err)
	}
}
