package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTypes = `
types:
  Item:
    Name: string
    Qty: int
`

// writeScenario writes types.yaml and scenario.yaml into a temp dir and
// returns the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "types.yaml"), []byte(minimalTypes), 0644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validScenario = `
name: bump
description: "Bumps a quantity"
types: types.yaml
type: Item
initial: {$type: Item, Name: a, Qty: 1}
flow:
  - set: {path: Qty, value: 2}
assertions:
  - type: state_equals
    path: Qty
    value: 2
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, validScenario)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "bump", s.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "types.yaml"), s.Types)
	assert.Equal(t, "Item", s.Type)
	require.Len(t, s.Flow, 1)
	require.NotNil(t, s.Flow[0].Set)
	assert.Equal(t, "Qty", s.Flow[0].Set.Path)
	assert.Equal(t, 2, s.Flow[0].Set.Value)
	assert.Equal(t, KindSet, s.Flow[0].kind())
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertStateEquals, s.Assertions[0].Type)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, validScenario)
	base := filepath.Dir(path)

	_, err := LoadScenarioWithBasePath(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "types not found")

	s, err := LoadScenarioWithBasePath(path, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "types.yaml"), s.Types)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, validScenario+"assertion: []\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "missing name",
			body: `
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			body: `
name: n
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "description is required",
		},
		{
			name: "missing types",
			body: `
name: n
description: d
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "types is required",
		},
		{
			name: "bad type",
			body: `
name: n
description: d
types: types.yaml
type: "[x]Item"
initial: {}
flow: [{flush: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "type:",
		},
		{
			name: "missing initial",
			body: `
name: n
description: d
types: types.yaml
type: Item
flow: [{flush: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "initial is required",
		},
		{
			name: "empty flow",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: []
assertions: [{type: seq, count: 1}]
`,
			wantErr: "flow list is required",
		},
		{
			name: "missing assertions",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "two actions in one step",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true, roundtrip: true}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "flow[0]: exactly one of",
		},
		{
			name: "bad set path",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{set: {path: "a//b", value: 1}}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: "flow[0].set",
		},
		{
			name: "unknown error class",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true, expect: {error: boom}}]
assertions: [{type: seq, count: 1}]
`,
			wantErr: `unknown error class "boom"`,
		},
		{
			name: "unknown assertion",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: trace_contains}]
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name: "state_equals without value",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: state_equals, path: Qty}]
`,
			wantErr: "value is required for state_equals",
		},
		{
			name: "negative count",
			body: `
name: n
description: d
types: types.yaml
type: Item
initial: {}
flow: [{flush: true}]
assertions: [{type: flush_count, count: -1}]
`,
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, tt.body)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/edit_order.yaml")
	require.NoError(t, err)
	assert.Equal(t, "edit_order", s.Name)
	assert.Len(t, s.Flow, 6)
	assert.Equal(t, KindRoundtrip, s.Flow[4].kind())
	require.NotNil(t, s.Flow[3].Expect)
	assert.Equal(t, ErrorCoercion, s.Flow[3].Expect.Error)
	require.NotNil(t, s.Flow[3].Expect.Changed)
	assert.False(t, *s.Flow[3].Expect.Changed)
}
