package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func writeDoc(t *testing.T, dir, name, doc string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	return p
}

func TestImportAndTree(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	doc := writeDoc(t, dir, "doc.json", `{
		"title": "hello",
		"count": 3,
		"tags": ["a", "b"],
		"child": {"done": true}
	}`)

	id := strings.TrimSpace(run(t, "--dir", store, "import", doc))
	require.Contains(t, run(t, "--dir", store, "head"), id)

	tree := run(t, "--dir", store, "tree")
	require.Contains(t, tree, `title(String)="hello"`)
	require.Contains(t, tree, `count(Long)="3"`)
	require.Contains(t, tree, `tags(String)=["a","b"]`)
	require.Contains(t, tree, `done(Boolean)="true"`)
	require.Contains(t, tree, "child ")

	shallow := run(t, "--dir", store, "tree", "--depth", "0", id)
	require.Contains(t, shallow, "child ")
	require.NotContains(t, shallow, "done(Boolean)")

	segments := run(t, "--dir", store, "segments")
	lines := strings.Split(strings.TrimSpace(segments), "\n")
	require.Len(t, lines, 1)
	segID := strings.Fields(lines[0])[0]
	require.True(t, strings.HasPrefix(id, segID))

	records := run(t, "--dir", store, "segment", segID)
	require.Contains(t, records, "node")
	require.Contains(t, records, "template")
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "store.db")
	before := strings.TrimSpace(run(t, "--bolt", db, "import",
		writeDoc(t, dir, "before.json", `{"a": "1", "b": "2", "gone": {}, "kept": {"x": "1"}}`)))
	after := strings.TrimSpace(run(t, "--bolt", db, "import",
		writeDoc(t, dir, "after.json", `{"a": "1", "b": "3", "new": {}, "kept": {"x": "2"}}`)))

	diff := run(t, "--bolt", db, "diff", before, after)
	require.Contains(t, diff, `~ /b(String)="2" -> b(String)="3"`)
	require.Contains(t, diff, "+ /new/")
	require.Contains(t, diff, "- /gone/")
	require.Contains(t, diff, `~ /kept/x(String)="1" -> x(String)="2"`)
	require.NotContains(t, diff, "/a(")
}

func TestStoreFlags(t *testing.T) {
	for _, args := range [][]string{
		{"head"},
		{"--dir", "a", "--bolt", "b", "head"},
	} {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(args)
		require.Error(t, cmd.Execute(), "%v", args)
	}
}

func TestImportRejectsNestedArrays(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dir", filepath.Join(dir, "store"), "import",
		writeDoc(t, dir, "doc.json", `{"bad": [[1]]}`)})
	require.ErrorContains(t, cmd.Execute(), "only scalars")
}
