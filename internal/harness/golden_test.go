package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmsync/internal/ir"
)

func TestRunWithGolden_EditOrder(t *testing.T) {
	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	require.NoError(t, RunWithGolden(t, loadEditOrder(t)))
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := &TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Step: 0, Kind: KindSet, Path: "a/0", Seq: 2, Changed: true},
			{Step: 1, Kind: KindPatch, Seq: 2, Error: ErrorCoercion},
		},
		State: ir.NewObject("Item", map[string]ir.Node{"Qty": ir.Int(1)}),
	}

	data, err := snap.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","state":{"$type":"Item","Qty":1},"trace":[`+
			`{"changed":true,"kind":"set","path":"a/0","seq":2,"step":0},`+
			`{"changed":false,"error":"coercion","kind":"patch","seq":2,"step":1}]}`,
		string(data))
}

func TestGoldenFiles(t *testing.T) {
	s := loadEditOrder(t)
	result, err := Run(s)
	require.NoError(t, err)
	snap := NewTraceSnapshot(s.Name, result)

	dir := t.TempDir()
	path := GoldenPath(filepath.Join(dir, "edit_order.yaml"), s.Name)
	assert.Equal(t, filepath.Join(dir, "golden", "edit_order.golden"), path)

	_, err = CompareGolden(path, snap)
	require.Error(t, err, "missing golden file")

	require.NoError(t, WriteGolden(path, snap))
	ok, err := CompareGolden(path, snap)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))
	ok, err = CompareGolden(path, snap)
	require.NoError(t, err)
	assert.False(t, ok)

	committed, err := CompareGolden("testdata/golden/edit_order.golden", snap)
	require.NoError(t, err)
	assert.True(t, committed)
}
