package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "posts.cue", `
package decls

mutation: approvePost: {
	type:     "update"
	resource: "posts"
	payload: data: is_approved: true
}
`)
	writeCUE(t, dir, "admin.cue", `
package decls

mutation: archiveAll: type: "archiveAll"
`)

	catalog, errs := LoadDir(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, catalog)

	assert.Equal(t, 2, catalog.FileCount)
	require.Len(t, catalog.Declarations, 2)
	assert.Equal(t, "approvePost", catalog.Declarations[0].Name)
	assert.Equal(t, "archiveAll", catalog.Declarations[1].Name)

	n, ok := catalog.Lookup("approvePost")
	require.True(t, ok)
	assert.Equal(t, "posts", n.Declaration.Resource)

	_, ok = catalog.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadDirCollectsCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `
package decls

mutation: a: resource: "posts"
mutation: b: {type: "create", payload: ratio: 0.5}
mutation: c: type: "create"
`)

	catalog, errs := LoadDir(dir, LoadModeCollectAll)
	require.NotNil(t, catalog)
	assert.Len(t, errs, 2)
	require.Len(t, catalog.Declarations, 1)
	assert.Equal(t, "c", catalog.Declarations[0].Name)

	var ce *CompileError
	require.True(t, errors.As(errs[0], &ce))
	assert.Equal(t, "mutation.a.type", ce.Field)
}

func TestLoadDirFailFast(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `
package decls

mutation: a: resource: "posts"
mutation: b: resource: "posts"
`)

	_, errs := LoadDir(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadDirErrors(t *testing.T) {
	empty := t.TempDir()
	noMutations := t.TempDir()
	writeCUE(t, noMutations, "other.cue", "package decls\n\nconfig: debug: true\n")
	file := filepath.Join(noMutations, "other.cue")

	tests := []struct {
		name string
		dir  string
		code string
	}{
		{"missing dir", filepath.Join(empty, "missing"), ErrCodeNotFound},
		{"not a dir", file, ErrCodeNotFound},
		{"no files", empty, ErrCodeNoFiles},
		{"no mutations", noMutations, ErrCodeNoMutations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := LoadDir(tt.dir, LoadModeCollectAll)
			require.Len(t, errs, 1)
			var le *LoadError
			require.True(t, errors.As(errs[0], &le), "got %T", errs[0])
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0755))
	writeCUE(t, dir, "root.cue", "package decls")
	writeCUE(t, dir, "notes.txt", "not cue")
	writeCUE(t, sub, "nested.cue", "package decls")

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
