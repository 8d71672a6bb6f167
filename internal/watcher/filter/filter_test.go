package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name:    "empty spec",
			spec:    Spec{},
			wantErr: false,
		},
		{
			name: "simple equality",
			spec: Spec{Conditions: []Condition{
				{Field: "status", Op: OpEq, Value: "active"},
			}},
			wantErr: false,
		},
		{
			name: "default op is equality",
			spec: Spec{Conditions: []Condition{
				{Field: "status", Value: "active"},
			}},
			wantErr: false,
		},
		{
			name: "empty field",
			spec: Spec{Conditions: []Condition{
				{Field: "", Op: OpEq, Value: 1},
			}},
			wantErr: true,
		},
		{
			name: "operator injection via field",
			spec: Spec{Conditions: []Condition{
				{Field: "$where", Op: OpEq, Value: 1},
			}},
			wantErr: true,
		},
		{
			name: "unknown operator",
			spec: Spec{Conditions: []Condition{
				{Field: "age", Op: Op("~="), Value: 1},
			}},
			wantErr: true,
		},
		{
			name: "in with non-list value",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpIn, Value: "LT"},
			}},
			wantErr: true,
		},
		{
			name: "in with list value",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpIn, Value: []any{"LT", "LV", "EE"}},
			}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpec_Pipeline(t *testing.T) {
	t.Run("empty spec produces no pipeline", func(t *testing.T) {
		assert.Nil(t, Spec{}.Pipeline())
	})

	t.Run("conditions produce a single match stage", func(t *testing.T) {
		spec := Spec{Conditions: []Condition{
			{Field: "address.country", Op: OpEq, Value: "LT"},
			{Field: "age", Op: OpGte, Value: 18},
		}}
		pipeline := spec.Pipeline()
		require.Len(t, pipeline, 1)
		require.Len(t, pipeline[0], 1)
		assert.Equal(t, "$match", pipeline[0][0].Key)
	})
}

func TestSpec_Program_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		spec      Spec
		doc       map[string]any
		wantMatch bool
		wantErr   bool
	}{
		{
			name: "equality match",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpEq, Value: "LT"},
			}},
			doc:       map[string]any{"country": "LT"},
			wantMatch: true,
		},
		{
			name: "equality no match",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpEq, Value: "LT"},
			}},
			doc:       map[string]any{"country": "DE"},
			wantMatch: false,
		},
		{
			name: "nested field path",
			spec: Spec{Conditions: []Condition{
				{Field: "address.city", Op: OpEq, Value: "Vilnius"},
			}},
			doc: map[string]any{
				"address": map[string]any{"city": "Vilnius"},
			},
			wantMatch: true,
		},
		{
			name: "conjunction requires all conditions",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpEq, Value: "LT"},
				{Field: "age", Op: OpGt, Value: 18},
			}},
			doc:       map[string]any{"country": "LT", "age": 16},
			wantMatch: false,
		},
		{
			name: "numeric comparison",
			spec: Spec{Conditions: []Condition{
				{Field: "age", Op: OpGte, Value: 18},
			}},
			doc:       map[string]any{"age": 21},
			wantMatch: true,
		},
		{
			name: "in operator",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpIn, Value: []any{"LT", "LV"}},
			}},
			doc:       map[string]any{"country": "LV"},
			wantMatch: true,
		},
		{
			name: "missing field is an eval error",
			spec: Spec{Conditions: []Condition{
				{Field: "country", Op: OpEq, Value: "LT"},
			}},
			doc:     map[string]any{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := tt.spec.Program()
			require.NoError(t, err)

			match, err := Evaluate(prg, tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, match)
		})
	}
}

func TestEvaluate_NilProgramMatchesAll(t *testing.T) {
	prg, err := Spec{}.Program()
	require.NoError(t, err)
	require.Nil(t, prg)

	match, err := Evaluate(prg, map[string]any{"anything": true})
	require.NoError(t, err)
	assert.True(t, match)
}

func TestSpec_Program_UnsupportedValue(t *testing.T) {
	spec := Spec{Conditions: []Condition{
		{Field: "meta", Op: OpEq, Value: map[string]any{"nested": true}},
	}}
	_, err := spec.Program()
	assert.Error(t, err)
}
