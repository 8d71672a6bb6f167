package watcher

import (
	"context"
	"errors"

	"feedwatch/internal/watcher/events"
)

// ErrStopped is returned by Iterator.Next after the watcher shut down
// cleanly.
var ErrStopped = errors.New("watcher: stopped")

// Events is the channel adapter over the pull core: it runs the watcher in a
// goroutine and streams events out. The channel closes when the watcher
// stops; inspect Err() afterwards to distinguish clean shutdown from
// failure. Delivery blocks the consumer loop, so an unread channel applies
// backpressure to the feed rather than buffering unboundedly.
func (w *Watcher) Events(ctx context.Context) <-chan *events.ChangeEvent {
	ch := make(chan *events.ChangeEvent)
	go func() {
		defer close(ch)
		_ = w.Run(ctx, func(ctx context.Context, evt *events.ChangeEvent) error {
			select {
			case ch <- evt:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return ch
}

// Iterator is the blocking-pull adapter over the same core.
type Iterator struct {
	w  *Watcher
	ch <-chan *events.ChangeEvent
}

// Iterate starts the watcher and returns a blocking iterator over its
// events.
func (w *Watcher) Iterate(ctx context.Context) *Iterator {
	return &Iterator{w: w, ch: w.Events(ctx)}
}

// Next blocks until the next event. It returns ErrStopped after a clean
// shutdown, the fatal cause after a failure, or the context error.
func (it *Iterator) Next(ctx context.Context) (*events.ChangeEvent, error) {
	select {
	case evt, ok := <-it.ch:
		if !ok {
			if err := it.w.Err(); err != nil {
				return nil, err
			}
			return nil, ErrStopped
		}
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the underlying watcher.
func (it *Iterator) Close() error {
	return it.w.Close()
}
