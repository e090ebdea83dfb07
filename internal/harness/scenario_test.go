package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: one trigger
declaration:
  type: create
  resource: posts
  payload:
    data:
      title: Hello
adapter:
  create:
    - data: {id: 1}
steps:
  - {}
assertions:
  - type: channel_count
    action: CUSTOM_FETCH
    count: 1
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.NotNil(t, s.Declaration)
	assert.Equal(t, "create", s.Declaration.Type)
	assert.Equal(t, "posts", s.Declaration.Resource)
	assert.Equal(t, map[string]any{"title": "Hello"}, s.Declaration.Payload["data"])
	require.Len(t, s.Adapter["create"], 1)
	assert.Len(t, s.Steps, 1)
	assert.Nil(t, s.Steps[0].Expect)
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, 1, s.Assertions[0].Count)
}

func TestParseScenario_StepExpect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expect
description: expectations parse
declaration: {type: update}
adapter:
  update:
    - error: nope
      status: 409
steps:
  - trigger:
      payload: {id: 7}
      options: {return_promise: true, undoable: false}
    expect:
      loaded: true
      data: null
      error: nope
      error_status: 409
assertions:
  - type: adapter_calls
    operation: update
    count: 1
`))
	require.NoError(t, err)

	step := s.Steps[0]
	assert.Equal(t, 7, step.Trigger.Payload["id"])
	assert.Equal(t, true, step.Trigger.Options["return_promise"])

	require.NotNil(t, step.Expect)
	require.NotNil(t, step.Expect.Loaded)
	assert.True(t, *step.Expect.Loaded)
	assert.Nil(t, step.Expect.Loading)
	assert.NotZero(t, step.Expect.Data.Kind, "explicit null is recorded")
	assert.Equal(t, "nope", step.Expect.Error)
	assert.Equal(t, 409, step.Expect.ErrorStatus)

	resp := s.Adapter["update"][0]
	assert.Equal(t, "nope", resp.Error)
	assert.Equal(t, 409, resp.Status)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\ndeclaration: {type: create}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\ndeclaration: {type: create}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "description is required",
		},
		{
			name:    "no declaration",
			yaml:    "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "one of declaration or decls is required",
		},
		{
			name:    "both declaration and decls",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\ndecls: x\nmutation: m\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "mutually exclusive",
		},
		{
			name:    "declaration without type",
			yaml:    "name: n\ndescription: d\ndeclaration: {resource: posts}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "declaration.type is required",
		},
		{
			name:    "decls without mutation",
			yaml:    "name: n\ndescription: d\ndecls: x\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "mutation is required",
		},
		{
			name:    "unknown backend",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nbackend: redis\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: `unknown backend "redis"`,
		},
		{
			name:    "seed on fake backend",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nseed: {posts: [{title: a}]}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "seed requires backend",
		},
		{
			name:    "adapter script on sqlite backend",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nbackend: sqlite\nadapter: {create: [{data: 1}]}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "adapter scripts require backend",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nsteps: [{}]",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\ndeclaration: {type: create}\nstep: [{}]\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH}]",
			wantErr: "field step not found",
		},
		{
			name:    "malformed yaml",
			yaml:    "name: [unclosed",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_AssertionValidation(t *testing.T) {
	tests := []struct {
		name      string
		backend   string
		assertion string
		wantErr   string
	}{
		{"missing type", "", "{action: CUSTOM_FETCH}", "type is required"},
		{"unknown type", "", "{type: trace_contains}", `unknown assertion type "trace_contains"`},
		{"contains without action", "", "{type: channel_contains}", "action is required for channel_contains"},
		{"order without actions", "", "{type: channel_order}", "actions list is required"},
		{"count without action", "", "{type: channel_count, count: 1}", "action is required for channel_count"},
		{"negative count", "", "{type: channel_count, action: CUSTOM_FETCH, count: -1}", "count must be non-negative"},
		{"calls without operation", "", "{type: adapter_calls, count: 1}", "operation is required"},
		{"final_state on fake backend", "", "{type: final_state, resource: posts, id: 1, absent: true}", "final_state requires backend"},
		{"final_state without id", "sqlite", "{type: final_state, resource: posts, absent: true}", "resource and id are required"},
		{"final_state without expect", "sqlite", "{type: final_state, resource: posts, id: 1}", "expect or absent is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "name: n\ndescription: d\ndeclaration: {type: create}\nsteps: [{}]\nassertions: [" + tt.assertion + "]"
			if tt.backend != "" {
				doc += "\nbackend: " + tt.backend
			}
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_ZeroCountAllowed(t *testing.T) {
	_, err := ParseScenario([]byte("name: n\ndescription: d\ndeclaration: {type: create}\nsteps: [{}]\nassertions: [{type: channel_count, action: CUSTOM_FETCH_FAILURE, count: 0}]"))
	require.NoError(t, err)
}

func TestLoadScenario_ResolvesDeclsAgainstFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: n
description: d
decls: catalog
mutation: approvePost
steps: [{}]
assertions: [{type: channel_count, action: CUSTOM_FETCH, count: 1}]
`), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "catalog"), s.DeclsDir())

	s.Decls = "/abs/catalog"
	assert.Equal(t, "/abs/catalog", s.DeclsDir())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_ExampleFiles(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			_, err := LoadScenario(f)
			require.NoError(t, err)
		})
	}
}
