package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vmsync/internal/ir"
)

// Scenario defines a view-model scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Types is the descriptor file or directory. LoadScenario resolves it
	// relative to the scenario file.
	Types string `yaml:"types"`

	// Type is the root type reference, e.g. "Doc" or "[]Item".
	Type string `yaml:"type"`

	// Initial is the initial wire state. Objects carry "$type".
	Initial any `yaml:"initial"`

	// Flow lists the transitions applied in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace, snapshot and mirror.
	Assertions []Assertion `yaml:"assertions"`

	// MasterKey is an optional base64 key for roundtrip steps. A fixed
	// test key is used when empty.
	MasterKey string `yaml:"master_key,omitempty"`
}

// FlowStep is one transition. Exactly one of Patch, Set, Flush and
// Roundtrip is set.
type FlowStep struct {
	Patch     any           `yaml:"patch,omitempty"`
	Set       *SetStep      `yaml:"set,omitempty"`
	Flush     bool          `yaml:"flush,omitempty"`
	Roundtrip bool          `yaml:"roundtrip,omitempty"`
	Expect    *ExpectClause `yaml:"expect,omitempty"`
}

// SetStep writes Value through the mirror observable at Path.
type SetStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error class; empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Changed, when set, is whether the step must advance the snapshot.
	Changed *bool `yaml:"changed,omitempty"`
}

// Error classes usable in expect clauses.
const (
	ErrorCoercion     = "coercion"
	ErrorVerification = "verification"
	ErrorDetached     = "detached"
	ErrorPath         = "path"
)

// kind returns the step's kind, or "" when zero or several are set.
func (s FlowStep) kind() string {
	kinds := []string{}
	if s.Patch != nil {
		kinds = append(kinds, KindPatch)
	}
	if s.Set != nil {
		kinds = append(kinds, KindSet)
	}
	if s.Flush {
		kinds = append(kinds, KindFlush)
	}
	if s.Roundtrip {
		kinds = append(kinds, KindRoundtrip)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Path addresses a node ("a/b/0"; "." is the root).
	Path string `yaml:"path,omitempty"`

	// Value is the expected value (subset match for objects).
	Value any `yaml:"value,omitempty"`

	// Count is the expected count for the *_count and seq assertions.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStateEquals  = "state_equals"
	AssertMirrorEquals = "mirror_equals"
	AssertReused       = "reused"
	AssertChanged      = "changed"
	AssertFlushCount   = "flush_count"
	AssertSeq          = "seq"
	AssertJournalCount = "journal_count"
	AssertNotifyCount  = "notify_count"
)

// LoadScenario reads and parses a scenario YAML file. The types path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the types path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Types != "" && !filepath.IsAbs(scenario.Types) && basePath != "" {
		scenario.Types = filepath.Join(basePath, scenario.Types)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Types == "" {
		return fmt.Errorf("types is required")
	}
	if _, err := os.Stat(s.Types); os.IsNotExist(err) {
		return fmt.Errorf("types not found: %s", s.Types)
	}

	if _, err := ir.ParseTypeRef(s.Type); err != nil {
		return fmt.Errorf("type: %w", err)
	}

	if s.Initial == nil {
		return fmt.Errorf("initial is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if step.kind() == "" {
			return fmt.Errorf("flow[%d]: exactly one of patch, set, flush, roundtrip is required", i)
		}
		if step.Set != nil {
			if _, err := ir.ParsePath(step.Set.Path); err != nil {
				return fmt.Errorf("flow[%d].set: %w", i, err)
			}
		}
		if step.Expect != nil {
			switch step.Expect.Error {
			case "", ErrorCoercion, ErrorVerification, ErrorDetached, ErrorPath:
			default:
				return fmt.Errorf("flow[%d].expect: unknown error class %q", i, step.Expect.Error)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStateEquals, AssertMirrorEquals:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertReused, AssertChanged, AssertNotifyCount:
	case AssertFlushCount, AssertSeq, AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if _, err := ir.ParsePath(a.Path); err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}
	return nil
}
