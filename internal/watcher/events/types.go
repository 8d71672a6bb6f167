// Package events defines the canonical change event schema emitted by the
// watcher. All consumers MUST use these types for event processing.
package events

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperationType represents the type of change operation.
// All values are lowercase to match MongoDB change stream semantics.
type OperationType string

const (
	OperationInsert     OperationType = "insert"
	OperationUpdate     OperationType = "update"
	OperationReplace    OperationType = "replace"
	OperationDelete     OperationType = "delete"
	OperationInvalidate OperationType = "invalidate"
	OperationOther      OperationType = "other"
)

// IsValid checks if the operation type is a known valid type.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationReplace,
		OperationDelete, OperationInvalidate, OperationOther:
		return true
	default:
		return false
	}
}

// ParseOperation maps a raw change stream operationType to an OperationType.
// Unknown operations map to OperationOther rather than failing, so a driver
// or server upgrade cannot break the consumer loop.
func ParseOperation(raw string) OperationType {
	op := OperationType(raw)
	if op.IsValid() {
		return op
	}
	return OperationOther
}

// ResumeToken is an opaque position marker in the change feed. Only the feed
// itself may interpret its contents; every other component treats it as a
// blob to store and hand back.
type ResumeToken bson.Raw

// IsZero returns true if no token is present.
func (t ResumeToken) IsZero() bool {
	return len(t) == 0
}

// Clone returns a copy of the token that does not alias the driver's buffer.
func (t ResumeToken) Clone() ResumeToken {
	if t == nil {
		return nil
	}
	out := make(ResumeToken, len(t))
	copy(out, t)
	return out
}

// ClusterTime represents a MongoDB cluster timestamp.
// This is used for ordering and idempotency checks.
type ClusterTime struct {
	T uint32 `json:"T"` // Seconds since epoch
	I uint32 `json:"I"` // Increment within second
}

// Compare compares two ClusterTime values.
// Returns -1 if c < other, 0 if equal, 1 if c > other.
func (c ClusterTime) Compare(other ClusterTime) int {
	if c.T != other.T {
		if c.T < other.T {
			return -1
		}
		return 1
	}
	if c.I != other.I {
		if c.I < other.I {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero returns true if the ClusterTime is unset.
func (c ClusterTime) IsZero() bool {
	return c.T == 0 && c.I == 0
}

// ClusterTimeFromPrimitive converts a MongoDB primitive.Timestamp to ClusterTime.
func ClusterTimeFromPrimitive(ts primitive.Timestamp) ClusterTime {
	return ClusterTime{T: ts.T, I: ts.I}
}

// ToPrimitive converts ClusterTime to MongoDB primitive.Timestamp.
func (c ClusterTime) ToPrimitive() primitive.Timestamp {
	return primitive.Timestamp{T: c.T, I: c.I}
}

// UpdateDescription contains the delta for update operations.
type UpdateDescription struct {
	UpdatedFields map[string]any `json:"updatedFields,omitempty" bson:"updatedFields,omitempty"`
	RemovedFields []string       `json:"removedFields,omitempty" bson:"removedFields,omitempty"`
}

// ChangeEvent is a single decoded change emitted by the feed.
// It is immutable once produced: the watcher hands each event to exactly one
// handler invocation and never retains it afterwards.
type ChangeEvent struct {
	// Operation
	Operation OperationType `json:"opType"`

	// Source location
	Database    string `json:"db"`
	Collection  string `json:"coll"`
	DocumentKey string `json:"docKey"`

	// Payload is the decoded full document. Nil for deletes and invalidates.
	Payload    map[string]any     `json:"payload,omitempty"`
	UpdateDesc *UpdateDescription `json:"updateDesc,omitempty"`

	// Metadata
	ClusterTime ClusterTime `json:"clusterTime"`
	Timestamp   int64       `json:"timestamp"` // Unix milliseconds, receipt time

	// Token is the resume position "just after" this event.
	Token ResumeToken `json:"-"`
}

// Resource returns the ordered identifier path of the event,
// database/collection/document key.
func (e *ChangeEvent) Resource() []string {
	return []string{e.Database, e.Collection, e.DocumentKey}
}
