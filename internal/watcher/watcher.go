// Package watcher orchestrates a resumable change-feed subscription: it
// opens the feed from the last checkpoint, pumps events through the
// dispatcher in arrival order, and lets the supervisor drive reconnects
// until cancelled, timed out, or given up on.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"feedwatch/internal/watcher/checkpoint"
	"feedwatch/internal/watcher/dispatch"
	"feedwatch/internal/watcher/events"
	"feedwatch/internal/watcher/feed"
	"feedwatch/internal/watcher/filter"
	"feedwatch/internal/watcher/metrics"
	"feedwatch/internal/watcher/supervisor"
)

// State of the watcher. Owned exclusively by the controller; observers read
// it through State().
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Bootstrap selects first-run behavior when no checkpoint exists.
type Bootstrap string

const (
	// BootstrapFromNow subscribes from the current position. Default.
	BootstrapFromNow Bootstrap = "from_now"

	// BootstrapFromBeginning replays from the oldest position the feed
	// still retains.
	BootstrapFromBeginning Bootstrap = "from_beginning"
)

// ErrAlreadyStarted is returned by Run on a watcher that has already run.
// A watcher is one-shot; create a new one to watch again.
var ErrAlreadyStarted = errors.New("watcher: already started")

// Callbacks are optional consumer notifications beyond the event handler.
type Callbacks struct {
	// OnGap fires once per token-expired resubscription, with the last
	// known position before the gap (nil if none was ever seen).
	OnGap func(lastKnown events.ResumeToken)

	// OnFatal fires when the watcher stops with an unrecoverable error.
	OnFatal func(err error)
}

// Options configures a Watcher.
type Options struct {
	// Filter is applied server-side; static for the watcher's lifetime.
	Filter filter.Spec

	// Store persists resume tokens. Defaults to an in-memory store.
	Store checkpoint.Store

	// Checkpoint is the save-coalescing policy. Zero value means
	// checkpoint.DefaultPolicy().
	Checkpoint checkpoint.Policy

	// HandlerPolicy decides whether a handler error aborts the stream.
	HandlerPolicy dispatch.Policy

	// Backoff configures the reconnect supervisor.
	Backoff supervisor.Config

	// Bootstrap selects first-run behavior without a checkpoint.
	Bootstrap Bootstrap

	Callbacks Callbacks

	Logger *slog.Logger
}

// Watcher is the top-level controller. One Watcher owns one logical event
// stream: events are delivered one at a time, strictly ordered, with no
// concurrent handler invocations.
type Watcher struct {
	source feed.Source
	opts   Options
	disp   *dispatch.Dispatcher
	sup    *supervisor.Supervisor
	logger *slog.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	runErr error
}

// New creates a Watcher over the given feed source.
func New(source feed.Source, opts Options) (*Watcher, error) {
	if source == nil {
		return nil, fmt.Errorf("watcher: feed source is required")
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if opts.HandlerPolicy != "" && !opts.HandlerPolicy.IsValid() {
		return nil, fmt.Errorf("watcher: invalid handler policy %q", opts.HandlerPolicy)
	}
	switch opts.Bootstrap {
	case "", BootstrapFromNow, BootstrapFromBeginning:
	default:
		return nil, fmt.Errorf("watcher: invalid bootstrap mode %q", opts.Bootstrap)
	}
	if opts.Store == nil {
		opts.Store = checkpoint.NewMemoryStore()
	}
	if opts.Checkpoint == (checkpoint.Policy{}) {
		opts.Checkpoint = checkpoint.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "watcher")

	return &Watcher{
		source: source,
		opts:   opts,
		disp:   dispatch.New(opts.Store, opts.Checkpoint, opts.HandlerPolicy, opts.Logger),
		sup:    supervisor.New(opts.Backoff, opts.Logger),
		logger: logger,
	}, nil
}

// State returns the current watcher state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Err returns the error the run ended with, nil after a clean shutdown.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runErr
}

// Close requests shutdown. Idempotent and safe to call from any goroutine
// and any state; the streaming loop observes it at its next suspension point
// and never mid-delivery of an event.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// RunFor runs the watcher for at most d, then shuts down cleanly.
func (w *Watcher) RunFor(ctx context.Context, d time.Duration, handler dispatch.Handler) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return w.Run(ctx, handler)
}

// Run blocks, consuming the feed and delivering events to handler until the
// context is cancelled (clean shutdown, returns nil) or the watcher fails.
// A watcher runs at most once.
func (w *Watcher) Run(ctx context.Context, handler dispatch.Handler) error {
	if handler == nil {
		return fmt.Errorf("watcher: handler is required")
	}
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancel = cancel
	closed := w.closed
	w.mu.Unlock()
	// A Close that raced ahead of the cancel installation must still win.
	if closed {
		return w.shutdown()
	}

	token := w.loadToken(ctx)
	fromStart := token == nil && w.opts.Bootstrap == BootstrapFromBeginning
	reconnectMode := ""

	for {
		src, err := w.source.Open(ctx, feed.OpenOptions{
			Filter:      w.opts.Filter,
			ResumeAfter: token,
			FromStart:   fromStart,
		})
		if err != nil {
			if ctx.Err() != nil {
				return w.shutdown()
			}
			metrics.ConnectFailures.WithLabelValues(feed.Classify(err).Kind.String()).Inc()
			token, fromStart, err = w.handleFailure(ctx, err, token, fromStart)
			if err != nil {
				return w.fail(err)
			}
			if ctx.Err() != nil {
				return w.shutdown()
			}
			reconnectMode = currentMode(token)
			w.setState(StateReconnecting)
			continue
		}

		w.sup.OnConnected()
		if reconnectMode != "" {
			metrics.Reconnects.WithLabelValues(reconnectMode).Inc()
			reconnectMode = ""
		}
		w.setState(StateStreaming)

		streamErr := w.consume(ctx, src, handler)

		// Guaranteed close on every exit path before any reopen.
		if cerr := src.Close(); cerr != nil {
			w.logger.Warn("failed to close event source", "error", cerr)
		}

		if ctx.Err() != nil {
			return w.shutdown()
		}

		var herr *dispatch.HandlerError
		if errors.As(streamErr, &herr) {
			return w.fail(streamErr)
		}

		token, fromStart, err = w.handleFailure(ctx, streamErr, w.resumePosition(token), fromStart)
		if err != nil {
			return w.fail(err)
		}
		if ctx.Err() != nil {
			return w.shutdown()
		}
		reconnectMode = currentMode(token)
		w.setState(StateReconnecting)
	}
}

// consume pumps events from src to the handler until the source fails or the
// context is cancelled. Cancellation is only observed between events.
func (w *Watcher) consume(ctx context.Context, src feed.EventSource, handler dispatch.Handler) error {
	for {
		evt, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if err := w.disp.Dispatch(ctx, evt, handler); err != nil {
			return err
		}
	}
}

// handleFailure consults the supervisor and sleeps out the backoff delay.
// Returns the resume position for the next open, or an error when the
// supervisor gave up. fromStart survives resume retries so a transient
// failure before the first connection cannot downgrade a from-beginning
// bootstrap; a restart always subscribes from now.
func (w *Watcher) handleFailure(ctx context.Context, cause error, token events.ResumeToken, fromStart bool) (events.ResumeToken, bool, error) {
	decision := w.sup.OnFailure(cause)

	switch decision.Action {
	case supervisor.ActionGiveUp:
		return nil, false, &supervisor.ExhaustedError{Attempts: w.sup.Attempts(), Cause: cause}

	case supervisor.ActionRestart:
		metrics.GapsDetected.Inc()
		if cb := w.opts.Callbacks.OnGap; cb != nil {
			cb(token)
		}
		w.disp.ResetPosition(ctx)
		token = nil
		fromStart = false
	}

	select {
	case <-time.After(decision.Delay):
	case <-ctx.Done():
	}
	return token, fromStart, nil
}

// resumePosition prefers the last dispatched token over the one the current
// connection started from.
func (w *Watcher) resumePosition(openedFrom events.ResumeToken) events.ResumeToken {
	if last := w.disp.LastToken(); last != nil {
		return last
	}
	return openedFrom
}

func (w *Watcher) loadToken(ctx context.Context) events.ResumeToken {
	token, err := w.opts.Store.Load(ctx)
	if err != nil {
		w.logger.Warn("failed to load checkpoint, starting without resume point", "error", err)
		return nil
	}
	if token != nil {
		w.logger.Info("resuming from checkpoint")
	}
	return token
}

// shutdown is the clean exit path: flush the final checkpoint and settle in
// Closed.
func (w *Watcher) shutdown() error {
	w.setState(StateClosing)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.disp.Flush(flushCtx); err != nil {
		w.logger.Warn("failed to flush final checkpoint", "error", err)
	}

	w.setState(StateClosed)
	w.logger.Info("watcher stopped")
	return nil
}

// fail is the fatal exit path.
func (w *Watcher) fail(cause error) error {
	w.setState(StateFailed)
	w.mu.Lock()
	w.runErr = cause
	w.mu.Unlock()

	w.logger.Error("watcher failed", "error", cause)
	if cb := w.opts.Callbacks.OnFatal; cb != nil {
		cb(cause)
	}
	return cause
}

func (w *Watcher) setState(s State) {
	old := State(w.state.Swap(int32(s)))
	if old != s {
		w.logger.Debug("state transition", "from", old.String(), "to", s.String())
	}
}

func currentMode(token events.ResumeToken) string {
	if token == nil {
		return "restarted"
	}
	return "resumed"
}
