// Package filter describes server-side predicates for a feed subscription.
//
// A Spec is a conjunction of field conditions. It compiles into a MongoDB
// $match aggregation stage applied inside the change stream, and into a CEL
// program used client-side to double-check documents that arrive via
// updateLookup (the looked-up document can differ from the one that produced
// the event).
//
// A Spec is static for the lifetime of one feed connection; changing the
// filter requires a new subscription.
package filter

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Op is a comparison operator for a single condition.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "in"
)

// IsValid checks if the operator is supported.
func (o Op) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	default:
		return false
	}
}

// Condition matches a single document field against a value.
// Field uses dot notation for nested paths.
type Condition struct {
	Field string `yaml:"field"`
	Op    Op     `yaml:"op"`
	Value any    `yaml:"value"`
}

// Spec is a conjunctive filter: an event matches if every condition holds.
// The zero Spec matches everything.
type Spec struct {
	Conditions []Condition `yaml:"conditions"`
}

// IsEmpty reports whether there are no conditions.
func (s Spec) IsEmpty() bool {
	return len(s.Conditions) == 0
}

// Validate checks the conditions for empty fields and unsupported operators.
func (s Spec) Validate() error {
	for i, c := range s.Conditions {
		if c.Field == "" {
			return fmt.Errorf("filter condition %d: field is empty", i)
		}
		if strings.HasPrefix(c.Field, "$") {
			return fmt.Errorf("filter condition %d: field %q must not start with '$'", i, c.Field)
		}
		op := c.Op
		if op == "" {
			op = OpEq
		}
		if !op.IsValid() {
			return fmt.Errorf("filter condition %d: unsupported operator %q", i, c.Op)
		}
		if op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("filter condition %d: 'in' requires a list value", i)
			}
		}
	}
	return nil
}

// Pipeline compiles the conditions into a change stream aggregation pipeline.
//
// Conditions apply to fullDocument fields, so deletes and invalidates (which
// carry no document) always pass the server-side stage; the dispatcher cannot
// filter what the server never materializes. Returns a nil pipeline for an
// empty spec.
func (s Spec) Pipeline() mongo.Pipeline {
	if s.IsEmpty() {
		return nil
	}

	match := bson.D{}
	for _, c := range s.Conditions {
		field := "fullDocument." + c.Field
		op := c.Op
		if op == "" {
			op = OpEq
		}
		switch op {
		case OpEq:
			match = append(match, bson.E{Key: field, Value: c.Value})
		case OpNe:
			match = append(match, bson.E{Key: field, Value: bson.M{"$ne": c.Value}})
		case OpGt:
			match = append(match, bson.E{Key: field, Value: bson.M{"$gt": c.Value}})
		case OpGte:
			match = append(match, bson.E{Key: field, Value: bson.M{"$gte": c.Value}})
		case OpLt:
			match = append(match, bson.E{Key: field, Value: bson.M{"$lt": c.Value}})
		case OpLte:
			match = append(match, bson.E{Key: field, Value: bson.M{"$lte": c.Value}})
		case OpIn:
			match = append(match, bson.E{Key: field, Value: bson.M{"$in": c.Value}})
		}
	}

	// Events without a fullDocument pass the server stage unconditionally.
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				match,
				bson.D{{Key: "operationType", Value: bson.M{"$in": bson.A{"delete", "invalidate"}}}},
			}},
		}}},
	}
}
