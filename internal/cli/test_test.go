package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: create_one
description: "One asset reaches both stores"
ids:
  assets: [a-1]
flow:
  - invoke: registry.create
    args:
      type: LAND
      owner: {uuid: o-1, fullName: "Owner One"}
      location: {locationName: Bagamoyo}
      parcelNumber: P-1
      plotNumber: PL-1
      titleNumber: T-1
    expect:
      case: ok
      result: {uuid: a-1, ledgerSynced: true}
assertions:
  - {type: ledger_owner, asset: a-1, owner: o-1}
  - {type: ledger_height, height: 1}
  - {type: peers_agree}
`

const failingScenario = `name: wrong_height
description: "An assertion that does not hold"
flow:
  - invoke: reconcile.sweep
    args: {}
assertions:
  - {type: ledger_height, height: 4}
`

// scenarioTree lays out <root>/scenarios with the given files and returns
// the scenarios directory.
func scenarioTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	dir := scenarioTree(t, nil)

	out, err := executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, err = executeTest(t, "json", dir)
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := scenarioTree(t, map[string]string{"create_one.yaml": passingScenario})
	golden := filepath.Join(filepath.Dir(dir), "golden", "create_one.golden")

	out, err := executeTest(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ create_one")
	require.FileExists(t, golden)

	out, err = executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(golden, []byte(`{"stale":true}`), 0o644))
	out, err = executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommandReportsFailuresAsJSON(t *testing.T) {
	dir := scenarioTree(t, map[string]string{
		"create_one.yaml":   passingScenario,
		"wrong_height.yaml": failingScenario,
	})

	out, err := executeTest(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	for _, s := range resp.Data.Scenarios {
		if s.Name == "wrong_height" {
			assert.False(t, s.Pass)
			require.Len(t, s.Errors, 1)
			assert.Contains(t, s.Errors[0], "want 4")
		}
	}
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioTree(t, map[string]string{
		"create_one.yaml":   passingScenario,
		"wrong_height.yaml": failingScenario,
	})

	out, err := executeTest(t, "text", dir, "--filter", "create_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := scenarioTree(t, map[string]string{"broken.yaml": "name: [unterminated\n"})

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load:")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "transfers")
	require.NoError(t, os.MkdirAll(subDir, 0o755))

	for _, p := range []string{
		filepath.Join(tmpDir, "sale.yaml"),
		filepath.Join(tmpDir, "sale_crash.yml"),
		filepath.Join(tmpDir, "notes.txt"),
		filepath.Join(subDir, "sale_resume.yaml"),
	} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(tmpDir, "sale_*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
