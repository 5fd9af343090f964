package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vmsync/internal/ir"
)

// TraceSnapshot is the golden record of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	State        ir.Node      `json:"state"`
}

// NewTraceSnapshot captures the trace and final snapshot of result.
func NewTraceSnapshot(name string, result *Result) *TraceSnapshot {
	return &TraceSnapshot{ScenarioName: name, Trace: result.Trace, State: result.State}
}

// toNode converts the snapshot to a state tree so it can be rendered with
// ir.MarshalCanonical.
func (s *TraceSnapshot) toNode() (ir.Node, error) {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"step":    event.Step,
			"kind":    event.Kind,
			"seq":     event.Seq,
			"changed": event.Changed,
		}
		if event.Path != "" {
			m["path"] = event.Path
		}
		if event.Error != "" {
			m["error"] = event.Error
		}
		trace[i] = m
	}
	return ir.FromGo(map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"state":         s.State,
	})
}

// Canonical renders the snapshot as canonical JSON, the golden file format.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	n, err := s.toNode()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(n)
}

// RunWithGolden executes a scenario and compares its trace snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not be executed. Expectation and
// assertion failures and golden mismatches fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}
	AssertGolden(t, scenario.Name, NewTraceSnapshot(scenario.Name, result))
	return nil
}

// AssertGolden compares a trace snapshot against its golden file.
func AssertGolden(t *testing.T, name string, snap *TraceSnapshot) {
	t.Helper()

	data, err := snap.Canonical()
	if err != nil {
		t.Fatalf("failed to marshal trace snapshot: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// GoldenPath is where the CLI keeps the golden file of a scenario: a
// golden/ directory next to the scenario file.
func GoldenPath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// CompareGolden reports whether snap matches the golden file at path.
// A missing golden file is an error.
func CompareGolden(path string, snap *TraceSnapshot) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read golden: %w", err)
	}
	got, err := snap.Canonical()
	if err != nil {
		return false, err
	}
	return bytes.Equal(bytes.TrimSpace(want), got), nil
}

// WriteGolden writes snap to path, creating the directory if needed.
func WriteGolden(path string, snap *TraceSnapshot) error {
	data, err := snap.Canonical()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden: %w", err)
	}
	return nil
}
