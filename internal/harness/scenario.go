package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by Scenario.Backend.
const (
	BackendFake   = "fake"
	BackendSQLite = "sqlite"
)

// Scenario drives one mutation instance through a list of triggers and
// checks the resulting channel, adapter calls and records.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declaration is the mutation under test, given inline.
	Declaration *DeclarationSpec `yaml:"declaration,omitempty"`

	// Decls is a CUE catalog directory and Mutation the label to use from
	// it. The path is relative to the scenario file. Exclusive with
	// Declaration.
	Decls    string `yaml:"decls,omitempty"`
	Mutation string `yaml:"mutation,omitempty"`

	// LatestOnly puts the mutation in strict latest-trigger mode.
	LatestOnly bool `yaml:"latest_only,omitempty"`

	// Backend is "fake" (scripted responses, the default) or "sqlite"
	// (the reference provider over a fresh in-memory store).
	Backend string `yaml:"backend,omitempty"`

	// Adapter scripts the fake backend: responses per operation, consumed
	// in order with the last one repeating. Unscripted operations are
	// unknown to the registry.
	Adapter map[string][]ResponseSpec `yaml:"adapter,omitempty"`

	// Seed inserts records per resource before the first step. SQLite
	// backend only.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Steps run in order. Each step triggers once and waits for the call
	// to settle before checking its expectations.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`

	// CorrelationPrefix prefixes the generated correlation ids
	// ("corr" when empty).
	CorrelationPrefix string `yaml:"correlation_prefix,omitempty"`

	// baseDir is the scenario file's directory, for resolving Decls.
	baseDir string
}

// DeclarationSpec is the YAML form of ir.Declaration.
type DeclarationSpec struct {
	Type     string         `yaml:"type"`
	Resource string         `yaml:"resource,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// ResponseSpec scripts one adapter outcome. A non-empty Error makes it a
// rejection with an *adapter.Error carrying Status and Body.
type ResponseSpec struct {
	Data   any    `yaml:"data,omitempty"`
	Total  *int64 `yaml:"total,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Status int    `yaml:"status,omitempty"`
	Body   any    `yaml:"body,omitempty"`
}

// Step is one trigger and what the mutation state must look like once it
// has settled.
type Step struct {
	// Trigger holds the call-time override. Empty triggers the declaration
	// as declared.
	Trigger DeclarationSpec `yaml:"trigger,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect checks the mutation state after a step. Unset fields are not
// checked.
type StepExpect struct {
	Loading *bool `yaml:"loading,omitempty"`
	Loaded  *bool `yaml:"loaded,omitempty"`

	// Data is compared whole against State.Data. An explicit null matches
	// a nil or null result.
	Data yaml.Node `yaml:"data,omitempty"`

	// Error is the expected State.Error message and ErrorStatus the status
	// the adapter attached to it.
	Error       string `yaml:"error,omitempty"`
	ErrorStatus int    `yaml:"error_status,omitempty"`

	// ConfigError expects Trigger itself to fail with this configuration
	// error code, leaving the state untouched.
	ConfigError string `yaml:"config_error,omitempty"`
}

// Assertion validates the channel, the adapter calls or the final records.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is a channel action type (channel_contains, channel_count).
	Action string `yaml:"action,omitempty"`

	// Fetch narrows channel matches to one operation.
	Fetch string `yaml:"fetch,omitempty"`

	// Payload and Meta are subset matches against the entry (channel_contains).
	Payload map[string]any `yaml:"payload,omitempty"`
	Meta    map[string]any `yaml:"meta,omitempty"`

	// Actions is the expected order of action types (channel_order).
	// Other entries may appear in between.
	Actions []string `yaml:"actions,omitempty"`

	// Count is the exact number of matches (channel_count, adapter_calls).
	Count int `yaml:"count,omitempty"`

	// Operation is the adapter operation (adapter_calls).
	Operation string `yaml:"operation,omitempty"`

	// Resource, ID, Expect and Absent select and check one record
	// (final_state). Expect is a subset match.
	Resource string         `yaml:"resource,omitempty"`
	ID       int64          `yaml:"id,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	Absent   bool           `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertChannelContains = "channel_contains"
	AssertChannelOrder    = "channel_order"
	AssertChannelCount    = "channel_count"
	AssertAdapterCalls    = "adapter_calls"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.baseDir = filepath.Dir(path)
	return scenario, nil
}

// ParseScenario parses scenario YAML. A Decls directory is resolved
// against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// DeclsDir returns the catalog directory resolved against the scenario
// file's directory.
func (s *Scenario) DeclsDir() string {
	if s.Decls == "" || filepath.IsAbs(s.Decls) || s.baseDir == "" {
		return s.Decls
	}
	return filepath.Join(s.baseDir, s.Decls)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Declaration != nil && s.Decls != "":
		return fmt.Errorf("declaration and decls are mutually exclusive")
	case s.Declaration != nil:
		if s.Declaration.Type == "" {
			return fmt.Errorf("declaration.type is required")
		}
	case s.Decls != "":
		if s.Mutation == "" {
			return fmt.Errorf("mutation is required with decls")
		}
	default:
		return fmt.Errorf("one of declaration or decls is required")
	}

	switch s.Backend {
	case "", BackendFake:
		if len(s.Seed) > 0 {
			return fmt.Errorf("seed requires backend %q", BackendSQLite)
		}
	case BackendSQLite:
		if len(s.Adapter) > 0 {
			return fmt.Errorf("adapter scripts require backend %q", BackendFake)
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Backend == BackendSQLite); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, hasRecords bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertChannelContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for channel_contains", index)
		}
	case AssertChannelOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for channel_order", index)
		}
	case AssertChannelCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for channel_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for channel_count", index)
		}
	case AssertAdapterCalls:
		if a.Operation == "" {
			return fmt.Errorf("assertions[%d]: operation is required for adapter_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for adapter_calls", index)
		}
	case AssertFinalState:
		if !hasRecords {
			return fmt.Errorf("assertions[%d]: final_state requires backend %q", index, BackendSQLite)
		}
		if a.Resource == "" || a.ID == 0 {
			return fmt.Errorf("assertions[%d]: resource and id are required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
