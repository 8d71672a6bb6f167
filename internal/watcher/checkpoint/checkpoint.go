// Package checkpoint provides resume token persistence for the watcher.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"feedwatch/internal/watcher/events"
)

// Store defines the interface for persisting resume tokens.
type Store interface {
	// Save persists the resume token.
	Save(ctx context.Context, token events.ResumeToken) error

	// Load retrieves the last saved resume token.
	// Returns nil if no checkpoint exists.
	Load(ctx context.Context) (events.ResumeToken, error)

	// Delete removes the checkpoint.
	Delete(ctx context.Context) error
}

// Policy defines when to save checkpoints. Saving on every event maximizes
// durability at the cost of one write per event; the interval and count
// thresholds let callers coalesce saves and replay a few already-seen events
// after a restart instead.
type Policy struct {
	// Time-based: checkpoint every interval.
	Interval time.Duration `yaml:"interval"`

	// Event-based: checkpoint every N events.
	EventCount int `yaml:"event_count"`

	// Always checkpoint on graceful shutdown.
	OnShutdown bool `yaml:"on_shutdown"`
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Interval:   time.Second,
		EventCount: 1000,
		OnShutdown: true,
	}
}

// Tracker tracks when to save checkpoints based on policy.
// It is not safe for concurrent use; the single consumer loop owns it.
type Tracker struct {
	policy         Policy
	lastCheckpoint time.Time
	eventsSince    int
	lastToken      events.ResumeToken
}

// NewTracker creates a new Tracker.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{
		policy:         policy,
		lastCheckpoint: time.Now(),
	}
}

// RecordEvent records a delivered event and returns true if a checkpoint
// should be saved now.
func (t *Tracker) RecordEvent(token events.ResumeToken) bool {
	t.lastToken = token
	t.eventsSince++

	if t.policy.EventCount > 0 && t.eventsSince >= t.policy.EventCount {
		return true
	}
	if t.policy.Interval > 0 && time.Since(t.lastCheckpoint) >= t.policy.Interval {
		return true
	}
	return false
}

// MarkCheckpointed marks that a checkpoint was saved.
func (t *Tracker) MarkCheckpointed() {
	t.lastCheckpoint = time.Now()
	t.eventsSince = 0
}

// LastToken returns the last recorded token.
func (t *Tracker) LastToken() events.ResumeToken {
	return t.lastToken
}

// Reset clears the recorded token, e.g. after a token-expired restart.
func (t *Tracker) Reset() {
	t.lastToken = nil
	t.eventsSince = 0
	t.lastCheckpoint = time.Now()
}

// ShouldCheckpointOnShutdown returns true if a final checkpoint is due.
func (t *Tracker) ShouldCheckpointOnShutdown() bool {
	return t.policy.OnShutdown && t.lastToken != nil
}

// MemoryStore implements Store in process memory. It is the default backend:
// checkpoints survive reconnects within one process but not restarts.
type MemoryStore struct {
	mu    sync.Mutex
	token events.ResumeToken
}

// NewMemoryStore creates an in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, token events.ResumeToken) error {
	if token == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token.Clone()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) (events.ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}
