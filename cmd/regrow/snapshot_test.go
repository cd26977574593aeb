package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regrow.dev/regrow/internal/snapshot"
)

func withSnapDB(t *testing.T, name string) {
	t.Helper()
	old := flagSnapDB
	flagSnapDB = name
	t.Cleanup(func() { flagSnapDB = old })
}

func TestRunSnapshotThenDiff_ReportsDrift(t *testing.T) {
	dir := t.TempDir()
	path := writeTracked(t, dir, "App.src", "f(x) = x\ng() = 2\n")
	withFlags(t, ".src", "text", nil)
	withSnapDB(t, "snapshot.db")

	cmd, _ := newOutCmd()
	require.NoError(t, runSnapshot(cmd, []string{dir}))
	_, err := os.Stat(filepath.Join(dir, ".regrow", "snapshot.db"))
	require.NoError(t, err)

	// Nothing edited yet.
	cmd2, buf2 := newOutCmd()
	require.NoError(t, runDiff(cmd2, []string{dir}))
	assert.Contains(t, buf2.String(), "No drift.")

	editTracked(t, path, "f(x) = x + 1\ng() = 2\n", 2*time.Second)

	cmd3, buf3 := newOutCmd()
	require.NoError(t, runDiff(cmd3, []string{dir}))
	out := buf3.String()
	assert.Contains(t, out, "App.src")
	assert.Contains(t, out, "f(::Any)")
	assert.Contains(t, out, "-f(x) = x")
	assert.Contains(t, out, "+f(x) = x + 1")
	assert.Contains(t, out, "(snapshot)")
}

func TestRunDiff_JSONDrift(t *testing.T) {
	dir := t.TempDir()
	path := writeTracked(t, dir, "App.src", "f(x) = x\n")
	withFlags(t, ".src", "text", nil)
	withSnapDB(t, "snapshot.db")

	cmd, _ := newOutCmd()
	require.NoError(t, runSnapshot(cmd, []string{dir}))

	editTracked(t, path, "f(x) = x + 1\n", 2*time.Second)
	flagFormat = "json"

	cmd2, buf := newOutCmd()
	require.NoError(t, runDiff(cmd2, []string{dir}))

	var rows []fileDrift
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, path, rows[0].Path)
	require.Len(t, rows[0].Drifts, 1)
	d := rows[0].Drifts[0]
	assert.Equal(t, snapshot.DriftChanged, d.Kind)
	assert.Equal(t, "App", d.Scope)
	assert.Equal(t, "f(::Any)", d.Signature)
	assert.Equal(t, "f(x) = x", d.Before)
	assert.Equal(t, "f(x) = x + 1", d.After)
}

func TestRunDiff_NewUnitReportsAdded(t *testing.T) {
	dir := t.TempDir()
	writeTracked(t, dir, "App.src", "f() = 1\n")
	withFlags(t, ".src", "text", nil)
	withSnapDB(t, "snapshot.db")

	cmd, _ := newOutCmd()
	require.NoError(t, runSnapshot(cmd, []string{dir}))

	newPath := writeTracked(t, dir, "New.src", "n() = 1\n")
	flagFormat = "json"

	cmd2, buf := newOutCmd()
	require.NoError(t, runDiff(cmd2, []string{dir}))

	var rows []fileDrift
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, newPath, rows[0].Path)
	require.Len(t, rows[0].Drifts, 1)
	assert.Equal(t, snapshot.DriftAdded, rows[0].Drifts[0].Kind)
	assert.Equal(t, "New", rows[0].Drifts[0].Scope)
}

func TestRunDiff_WithoutSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	writeTracked(t, dir, "App.src", "f() = 1\n")
	withFlags(t, ".src", "text", nil)
	withSnapDB(t, "snapshot.db")

	cmd, _ := newOutCmd()
	err := runDiff(cmd, []string{dir})
	assert.ErrorContains(t, err, "run 'regrow snapshot' first")
}
