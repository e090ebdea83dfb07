package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutate/internal/config"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/store"
)

func invokeOpts(format string) *RootOptions {
	return &RootOptions{Format: format, Config: config.Default()}
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "mutate.db")
}

func openDB(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type invokeResponse struct {
	Status string       `json:"status"`
	Data   InvokeResult `json:"data"`
	Error  *CLIError    `json:"error"`
}

func decodeInvoke(t *testing.T, out string) invokeResponse {
	t.Helper()
	var resp invokeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestInvokeCreateJournalsAndStores(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, NewInvokeCommand(invokeOpts("json")),
		"create", "--resource", "posts", "--payload", `{"data":{"title":"Hello"}}`, "--db", db)
	require.NoError(t, err)

	resp := decodeInvoke(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "create", resp.Data.Operation)
	assert.Equal(t, "posts", resp.Data.Resource)
	require.Len(t, resp.Data.Calls, 1)
	assert.Equal(t, OutcomeSuccess, resp.Data.Calls[0].Outcome)
	assert.NotEmpty(t, resp.Data.Calls[0].Correlation)
	assert.Equal(t, map[string]any{"id": float64(1), "title": "Hello"}, resp.Data.Calls[0].Data)
	assert.True(t, resp.Data.Final.Loaded)

	st := openDB(t, db)
	ctx := context.Background()
	rec, err := st.GetRecord(ctx, "posts", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.String("Hello"), rec["title"])

	entries, err := st.ReadJournal(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ir.ActionCustomFetch, entries[0].Action.Type)
	assert.Equal(t, ir.ActionCustomFetchSuccess, entries[1].Action.Type)
	assert.Equal(t, entries[0].Action.Correlation, entries[1].Action.Correlation)
}

func TestInvokeContinuesJournalSequence(t *testing.T) {
	db := tempDB(t)

	for _, title := range []string{"first", "second"} {
		_, _, err := execute(t, NewInvokeCommand(invokeOpts("json")),
			"create", "--resource", "posts", "--payload", `{"data":{"title":"`+title+`"}}`, "--db", db)
		require.NoError(t, err)
	}

	st := openDB(t, db)
	entries, err := st.ReadJournal(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	correlations, err := st.Correlations(context.Background())
	require.NoError(t, err)
	assert.Len(t, correlations, 2)
}

func TestInvokeFromCatalog(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, NewInvokeCommand(invokeOpts("json")),
		"--decls", filepath.Join("testdata", "decls"), "--decl", "createPost", "--db", db)
	require.NoError(t, err)

	resp := decodeInvoke(t, out)
	require.Len(t, resp.Data.Calls, 1)
	assert.Equal(t, map[string]any{"id": float64(1), "title": "Hello"}, resp.Data.Calls[0].Data)

	st := openDB(t, db)
	entries, err := st.ReadJournal(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, ir.Bool(true), entries[0].Action.Meta.Options[ir.OptionReturnPromise])
}

func TestInvokeCatalogPayloadMergesOverride(t *testing.T) {
	db := tempDB(t)
	st := openDB(t, db)
	_, err := st.CreateRecord(context.Background(), "posts", ir.Object{"title": ir.String("Hello")})
	require.NoError(t, err)
	_, err = st.CreateRecord(context.Background(), "posts", ir.Object{"title": ir.String("Other")})
	require.NoError(t, err)

	_, _, err = execute(t, NewInvokeCommand(invokeOpts("json")),
		"--decls", filepath.Join("testdata", "decls"), "--decl", "approvePost", "--payload", `{"id":2}`, "--db", db)
	require.NoError(t, err)

	first, err := st.GetRecord(context.Background(), "posts", 1)
	require.NoError(t, err)
	assert.Nil(t, first["is_approved"])

	second, err := st.GetRecord(context.Background(), "posts", 2)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), second["is_approved"])
}

func TestInvokeRejectionExitsWithFailure(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, NewInvokeCommand(invokeOpts("text")),
		"update", "--resource", "posts", "--payload", `{"id":99,"data":{"title":"x"}}`, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "rejected: posts: record not found")

	assert.Contains(t, out, "update posts: 1 call(s)")
	assert.Contains(t, out, "✗ ")
	assert.Contains(t, out, "posts: record not found (status 404)")

	st := openDB(t, db)
	entries, err := st.ReadJournal(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ir.ActionCustomFetchFailure, entries[1].Action.Type)
}

func TestInvokeConcurrentCalls(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, NewInvokeCommand(invokeOpts("json")),
		"create", "--resource", "posts", "--payload", `{"data":{"title":"Same"}}`, "--db", db, "--concurrency", "3")
	require.NoError(t, err)

	resp := decodeInvoke(t, out)
	require.Len(t, resp.Data.Calls, 3)
	seen := map[string]bool{}
	for _, c := range resp.Data.Calls {
		assert.Equal(t, OutcomeSuccess, c.Outcome)
		seen[c.Correlation] = true
	}
	assert.Len(t, seen, 3, "each trigger has its own correlation")

	st := openDB(t, db)
	_, total, err := st.ListRecords(context.Background(), "posts", store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestInvokeWithMetricsEnabled(t *testing.T) {
	opts := invokeOpts("json")
	opts.Config.Metrics.Enabled = true

	_, _, err := execute(t, NewInvokeCommand(opts),
		"create", "--resource", "posts", "--payload", `{"data":{"title":"Hello"}}`, "--db", tempDB(t))
	require.NoError(t, err)
}

func TestInvokeUsesConfiguredStorePath(t *testing.T) {
	opts := invokeOpts("json")
	opts.Config.Store.Path = tempDB(t)

	_, _, err := execute(t, NewInvokeCommand(opts), "create", "--resource", "posts", "--payload", `{"data":{}}`)
	require.NoError(t, err)

	st := openDB(t, opts.Config.Store.Path)
	last, err := st.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestInvokeUnknownOperation(t *testing.T) {
	out, _, err := execute(t, NewInvokeCommand(invokeOpts("json")),
		"publish", "--resource", "posts", "--db", tempDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeInvoke(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ir.ErrCodeUnknownOperation), resp.Error.Code)
}

func TestInvokeInputErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"no operation", []string{}, "an operation argument or --decls with --decl is required"},
		{"decl without decls", []string{"--decl", "approvePost"}, "--decls and --decl must be given together"},
		{"undeclared mutation", []string{"--decls", filepath.Join("testdata", "decls"), "--decl", "missing"}, `mutation "missing" not declared`},
		{"bad payload", []string{"create", "--payload", "[1]"}, "invalid --payload"},
		{"float payload", []string{"create", "--payload", `{"ratio":0.5}`}, "invalid --payload"},
		{"zero concurrency", []string{"create", "--concurrency", "0"}, "--concurrency must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "--db", tempDB(t))
			out, _, err := execute(t, NewInvokeCommand(invokeOpts("text")), args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E009]")
			assert.Contains(t, out, tt.wantMsg)
		})
	}
}

func TestOutcomesAfter(t *testing.T) {
	ok := ir.Action{
		Type:        ir.ActionCustomFetchSuccess,
		Correlation: "c2",
		Payload:     ir.Object{"data": ir.Array{ir.Int(1)}, "total": ir.Int(7)},
		Meta:        ir.Meta{Fetch: "getList", Resource: "posts"},
	}
	failed := ir.Action{
		Type:        ir.ActionCustomFetchFailure,
		Correlation: "c3",
		Payload:     ir.Object{"id": ir.Int(9)},
		Meta: ir.Meta{Fetch: "delete", Resource: "posts", Options: ir.Object{
			ir.MetaKeyError: ir.String("posts: record not found"),
			"status":        ir.Int(404),
		}},
	}
	old := ir.Action{Type: ir.ActionCustomFetchSuccess, Correlation: "c1", Payload: ir.Object{"data": ir.Int(1)}}

	entries := entriesOf(old, ok, failed)
	got := outcomesAfter(entries, 1)

	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].Correlation)
	assert.Equal(t, OutcomeSuccess, got[0].Outcome)
	assert.Equal(t, []any{int64(1)}, got[0].Data)
	require.NotNil(t, got[0].Total)
	assert.Equal(t, int64(7), *got[0].Total)

	assert.Equal(t, "c3", got[1].Correlation)
	assert.Equal(t, OutcomeFailure, got[1].Outcome)
	assert.Equal(t, "posts: record not found", got[1].Error)
	assert.Equal(t, 404, got[1].Status)
}
