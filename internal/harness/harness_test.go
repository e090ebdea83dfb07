package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutate/internal/ir"
)

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestRun_ScenarioFiles(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.NotEmpty(t, result.Trace)
		})
	}
}

func TestRun_GoldenTraces(t *testing.T) {
	for _, name := range []string{"approve_post", "approve_post_rejected"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/moderate_posts.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_CorrelatesEachTrigger(t *testing.T) {
	result, err := Run(mustParse(t, `
name: two_triggers
description: each trigger gets its own correlation
declaration: {type: create, resource: posts}
adapter:
  create: [{data: {id: 1}}, {data: {id: 2}}]
correlation_prefix: flow
steps:
  - expect: {data: {id: 1}}
  - expect: {data: {id: 2}}
assertions:
  - type: channel_count
    action: CUSTOM_FETCH_SUCCESS
    count: 2
`))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, "flow-1", result.Trace[0].Correlation)
	assert.Equal(t, "flow-1", result.Trace[1].Correlation)
	assert.Equal(t, "flow-2", result.Trace[2].Correlation)
	assert.Equal(t, "flow-2", result.Trace[3].Correlation)
	assert.Equal(t, []int64{1, 2, 3, 4}, []int64{
		result.Trace[0].Seq, result.Trace[1].Seq, result.Trace[2].Seq, result.Trace[3].Seq,
	})
	assert.Equal(t, ir.Int(0), result.State["loading"])
}

func TestRun_OverridesMergeIntoDeclaration(t *testing.T) {
	result, err := Run(mustParse(t, `
name: override
description: trigger overrides merge over the declaration
declaration:
  type: update
  resource: posts
  payload: {id: 1, data: {is_approved: true}}
  options: {undoable: true}
adapter:
  update: [{data: ok}]
  updateMany: [{data: [1, 2]}]
steps:
  - trigger:
      type: updateMany
      resource: comments
      payload: {ids: [1, 2]}
      options: {return_promise: true}
    expect: {data: [1, 2]}
assertions:
  - type: channel_contains
    action: CUSTOM_FETCH
    fetch: updateMany
    payload: {ids: [1, 2], data: {is_approved: true}}
    meta: {resource: comments, undoable: true, return_promise: true}
  - type: adapter_calls
    operation: update
    count: 0
  - type: adapter_calls
    operation: updateMany
    resource: comments
    count: 1
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Calls, 1)
	assert.Equal(t, ir.Object{
		"id":   ir.Int(1),
		"ids":  ir.Array{ir.Int(1), ir.Int(2)},
		"data": ir.Object{"is_approved": ir.Bool(true)},
	}, result.Calls[0].Payload)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	result, err := Run(mustParse(t, `
name: wrong
description: every mismatch is reported
declaration: {type: create}
adapter:
  create: [{data: {id: 1}}]
steps:
  - expect: {data: {id: 2}}
  - expect: {error: boom}
  - expect: {config_error: UNKNOWN_OPERATION}
assertions:
  - type: channel_count
    action: CUSTOM_FETCH_FAILURE
    count: 1
  - type: adapter_calls
    operation: create
    count: 1
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)

	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], `steps[0]: data = {"id":1}, want {"id":2}`)
	assert.Contains(t, result.Errors[1], `steps[1]: error = <nil>, want "boom"`)
	assert.Contains(t, result.Errors[2], "steps[2]: expected configuration error UNKNOWN_OPERATION, trigger succeeded")
	assert.Contains(t, result.Errors[3], "Assertion failed: channel_count")
	assert.Contains(t, result.Errors[4], "Assertion failed: adapter_calls")
}

func TestRun_UnscriptedOperationIsConfigurationError(t *testing.T) {
	result, err := Run(mustParse(t, `
name: unscripted
description: an operation the adapter does not know never reaches the channel
declaration: {type: publish, resource: posts}
steps:
  - expect: {config_error: UNKNOWN_OPERATION}
  - {}
assertions:
  - type: channel_count
    action: CUSTOM_FETCH
    count: 0
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1]: trigger failed: UNKNOWN_OPERATION")
	assert.Empty(t, result.Trace)
}

func TestRun_RejectionCarriesBodyAndStatus(t *testing.T) {
	result, err := Run(mustParse(t, `
name: rejected
description: the failure action carries the message and the status
declaration: {type: update, resource: posts}
adapter:
  update:
    - error: Validation failed
      status: 422
      body: {title: required}
steps:
  - expect: {loading: false, loaded: true, data: null, error: Validation failed, error_status: 422}
assertions:
  - type: channel_contains
    action: CUSTOM_FETCH_FAILURE
    meta: {error: Validation failed, status: 422}
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "missing catalog",
			doc: `
name: n
description: d
decls: /nonexistent/catalog
mutation: approvePost
steps: [{}]
assertions: [{type: channel_count, action: CUSTOM_FETCH}]
`,
			wantErr: "failed to load decls",
		},
		{
			name: "undeclared mutation",
			doc: `
name: n
description: d
decls: testdata/decls
mutation: publishPost
steps: [{}]
assertions: [{type: channel_count, action: CUSTOM_FETCH}]
`,
			wantErr: `mutation "publishPost" not declared`,
		},
		{
			name: "float in payload",
			doc: `
name: n
description: d
declaration: {type: create, payload: {ratio: 0.5}}
steps: [{}]
assertions: [{type: channel_count, action: CUSTOM_FETCH}]
`,
			wantErr: "floats are not supported",
		},
		{
			name: "non-bool return_promise",
			doc: `
name: n
description: d
declaration: {type: create, options: {return_promise: "yes"}}
steps: [{}]
assertions: [{type: channel_count, action: CUSTOM_FETCH}]
`,
			wantErr: "options.return_promise must be a bool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(mustParse(t, tt.doc))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToOptions(t *testing.T) {
	opts, err := toOptions(map[string]any{
		"return_promise": false,
		"undoable":       true,
		"mode":           "optimistic",
	})
	require.NoError(t, err)

	require.NotNil(t, opts.ReturnPromise)
	assert.False(t, *opts.ReturnPromise)
	assert.Equal(t, ir.Object{
		"undoable": ir.Bool(true),
		"mode":     ir.String("optimistic"),
	}, opts.Extra)

	empty, err := toOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, empty.ReturnPromise)
	assert.Nil(t, empty.Extra)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
