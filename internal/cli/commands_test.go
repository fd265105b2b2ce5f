package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/titlechain/internal/transfer"
)

// workspace returns the storage flags for a fresh database and peer set.
func workspace(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	return []string{
		"--dsn", filepath.Join(dir, "titlechain.db"),
		"--ledger-dir", filepath.Join(dir, "ledger"),
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestMigrateCommand(t *testing.T) {
	ws := workspace(t)

	out, err := execute(t, append([]string{"migrate", "--format", "json"}, ws...)...)
	require.NoError(t, err)
	var first migrateResult
	decodeData(t, out, &first)
	assert.Equal(t, "sqlite3", first.Dialect)
	assert.Positive(t, first.Applied)

	out, err = execute(t, append([]string{"migrate"}, ws...)...)
	require.NoError(t, err)
	assert.Equal(t, "✓ sqlite3 schema is up to date\n", out)
}

func TestReconcileCommand_EmptyStores(t *testing.T) {
	ws := workspace(t)

	out, err := execute(t, append([]string{"reconcile", "--dry-run", "--format", "json"}, ws...)...)
	require.NoError(t, err)
	var rep struct {
		DryRun  bool  `json:"dryRun"`
		Actions []any `json:"actions"`
	}
	decodeData(t, out, &rep)
	assert.True(t, rep.DryRun)
	assert.Empty(t, rep.Actions)

	out, err = execute(t, append([]string{"reconcile", "--strict"}, ws...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Reconcile sweep: 0 action(s), 0 failed, 0 divergence(s)")
}

func TestLedgerCommands_EmptyPeers(t *testing.T) {
	ws := workspace(t)

	out, err := execute(t, append([]string{"ledger", "hash", "--format", "json"}, ws...)...)
	require.NoError(t, err)
	var hashes hashResult
	decodeData(t, out, &hashes)
	assert.True(t, hashes.Agreed)
	assert.Len(t, hashes.Peers, 3)

	out, err = execute(t, append([]string{"ledger", "scan"}, ws...)...)
	require.NoError(t, err)
	assert.Equal(t, "Height 0, 0 record(s)\n", out)

	out, err = execute(t, append([]string{"ledger", "read", "a-404", "--format", "json"}, ws...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"code":"NOT_FOUND"`)
}

func TestPeersAgree(t *testing.T) {
	assert.True(t, peersAgree(map[string]string{}))
	assert.True(t, peersAgree(map[string]string{"peer0": "ab", "peer1": "ab"}))
	assert.False(t, peersAgree(map[string]string{"peer0": "ab", "peer1": "cd"}))
}

func TestReconcileResultText(t *testing.T) {
	res := reconcileResult{}
	res.DryRun = true
	res.Actions = append(res.Actions,
		transfer.Action{Kind: transfer.ActionMirrorCreate, Key: "a-3"},
		transfer.Action{Kind: transfer.ActionDeleteOrphan, Key: "x-9", Error: "ledger down"},
	)
	text := res.Text()
	assert.Contains(t, text, "Reconcile dry run: 2 action(s), 1 failed")
	assert.Contains(t, text, "mirror_create")
	assert.Contains(t, text, "✗ delete_orphan x-9: ledger down")
}
