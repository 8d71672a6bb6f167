package checkpoint

import (
	"context"
	"testing"
	"time"

	"feedwatch/internal/watcher/events"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()
	policy := DefaultPolicy()
	if policy.Interval != time.Second {
		t.Errorf("Interval = %v, want 1s", policy.Interval)
	}
	if policy.EventCount != 1000 {
		t.Errorf("EventCount = %d, want 1000", policy.EventCount)
	}
	if !policy.OnShutdown {
		t.Error("OnShutdown should be true")
	}
}

func TestTracker_RecordEvent_EventCount(t *testing.T) {
	t.Parallel()
	policy := Policy{
		Interval:   time.Hour, // Long interval so we only trigger on count
		EventCount: 5,
	}
	tracker := NewTracker(policy)

	token := events.ResumeToken{1, 2, 3}

	// First 4 events should not trigger checkpoint
	for i := 0; i < 4; i++ {
		if tracker.RecordEvent(token) {
			t.Errorf("RecordEvent returned true on event %d, want false", i+1)
		}
	}

	// 5th event should trigger checkpoint
	if !tracker.RecordEvent(token) {
		t.Error("RecordEvent returned false on event 5, want true")
	}

	tracker.MarkCheckpointed()
	if tracker.RecordEvent(token) {
		t.Error("RecordEvent returned true right after MarkCheckpointed, want false")
	}
}

func TestTracker_RecordEvent_TimeInterval(t *testing.T) {
	t.Parallel()
	policy := Policy{
		Interval:   10 * time.Millisecond,
		EventCount: 1000, // High count so we only trigger on time
	}
	tracker := NewTracker(policy)

	token := events.ResumeToken{1, 2, 3}

	if tracker.RecordEvent(token) {
		t.Error("RecordEvent returned true on first event, want false")
	}

	time.Sleep(15 * time.Millisecond)

	if !tracker.RecordEvent(token) {
		t.Error("RecordEvent returned false after interval, want true")
	}
}

func TestTracker_LastToken(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(DefaultPolicy())
	if tracker.LastToken() != nil {
		t.Error("LastToken should be nil before any events")
	}

	first := events.ResumeToken{1}
	second := events.ResumeToken{2}
	tracker.RecordEvent(first)
	tracker.RecordEvent(second)

	got := tracker.LastToken()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("LastToken = %v, want %v", got, second)
	}
}

func TestTracker_ShouldCheckpointOnShutdown(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(Policy{OnShutdown: true})
	if tracker.ShouldCheckpointOnShutdown() {
		t.Error("should not checkpoint on shutdown before any events")
	}

	tracker.RecordEvent(events.ResumeToken{1})
	if !tracker.ShouldCheckpointOnShutdown() {
		t.Error("should checkpoint on shutdown after an event")
	}

	tracker.Reset()
	if tracker.ShouldCheckpointOnShutdown() {
		t.Error("should not checkpoint on shutdown after Reset")
	}

	disabled := NewTracker(Policy{OnShutdown: false})
	disabled.RecordEvent(events.ResumeToken{1})
	if disabled.ShouldCheckpointOnShutdown() {
		t.Error("should respect OnShutdown=false")
	}
}

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	// Load before any save returns nil, nil
	token, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if token != nil {
		t.Errorf("Load() = %v, want nil", token)
	}

	saved := events.ResumeToken{1, 2, 3}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	token, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(token) != 3 || token[0] != 1 {
		t.Errorf("Load() = %v, want %v", token, saved)
	}

	// The store must not alias the caller's buffer.
	saved[0] = 9
	token, _ = store.Load(ctx)
	if token[0] != 1 {
		t.Error("store aliases the saved token buffer")
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	token, _ = store.Load(ctx)
	if token != nil {
		t.Errorf("Load() after Delete = %v, want nil", token)
	}
}

func TestMemoryStore_SaveNilIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Save(ctx, events.ResumeToken{5}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}

	token, _ := store.Load(ctx)
	if len(token) != 1 || token[0] != 5 {
		t.Errorf("Save(nil) overwrote the stored token: %v", token)
	}
}
