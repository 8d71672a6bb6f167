package events

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestOperationType_IsValid(t *testing.T) {
	t.Parallel()
	valid := []OperationType{
		OperationInsert, OperationUpdate, OperationReplace,
		OperationDelete, OperationInvalidate, OperationOther,
	}
	for _, op := range valid {
		if !op.IsValid() {
			t.Errorf("IsValid() = false for %q, want true", op)
		}
	}
	if OperationType("drop").IsValid() {
		t.Error("IsValid() = true for 'drop', want false")
	}
}

func TestParseOperation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want OperationType
	}{
		{"insert", OperationInsert},
		{"update", OperationUpdate},
		{"replace", OperationReplace},
		{"delete", OperationDelete},
		{"invalidate", OperationInvalidate},
		{"drop", OperationOther},
		{"dropDatabase", OperationOther},
		{"", OperationOther},
	}
	for _, tt := range tests {
		if got := ParseOperation(tt.raw); got != tt.want {
			t.Errorf("ParseOperation(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestClusterTime_Compare(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b ClusterTime
		want int
	}{
		{"equal", ClusterTime{T: 10, I: 1}, ClusterTime{T: 10, I: 1}, 0},
		{"earlier second", ClusterTime{T: 9, I: 5}, ClusterTime{T: 10, I: 1}, -1},
		{"later second", ClusterTime{T: 11, I: 0}, ClusterTime{T: 10, I: 9}, 1},
		{"same second earlier increment", ClusterTime{T: 10, I: 1}, ClusterTime{T: 10, I: 2}, -1},
		{"same second later increment", ClusterTime{T: 10, I: 3}, ClusterTime{T: 10, I: 2}, 1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%s: Compare() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestClusterTime_PrimitiveRoundTrip(t *testing.T) {
	t.Parallel()
	ts := primitive.Timestamp{T: 42, I: 7}
	ct := ClusterTimeFromPrimitive(ts)
	if ct.IsZero() {
		t.Error("IsZero() = true for non-zero time")
	}
	if got := ct.ToPrimitive(); got != ts {
		t.Errorf("ToPrimitive() = %v, want %v", got, ts)
	}
}

func TestResumeToken_Clone(t *testing.T) {
	t.Parallel()
	var zero ResumeToken
	if !zero.IsZero() {
		t.Error("IsZero() = false for nil token")
	}
	if zero.Clone() != nil {
		t.Error("Clone() of nil token should be nil")
	}

	tok := ResumeToken{1, 2, 3}
	cp := tok.Clone()
	if zero := cp.IsZero(); zero {
		t.Error("IsZero() = true for cloned token")
	}
	cp[0] = 9
	if tok[0] != 1 {
		t.Error("Clone() aliases the original buffer")
	}
}

func TestChangeEvent_Resource(t *testing.T) {
	t.Parallel()
	evt := &ChangeEvent{Database: "app", Collection: "users", DocumentKey: "u1"}
	got := evt.Resource()
	want := []string{"app", "users", "u1"}
	if len(got) != len(want) {
		t.Fatalf("Resource() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Resource()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
