package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := Load(path)
		require.NoError(t, err, path)
		t.Run(s.Name, func(t *testing.T) {
			res := RunWithGolden(t, s)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
			assert.Len(t, res.Trace, len(s.Flow))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := Load("testdata/scenarios/sale_end_to_end.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, string(first.Snapshot), string(second.Snapshot))
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown key",
			body: "name: x\ndescription: y\nflows: []\n",
			want: "field flows not found",
		},
		{
			name: "missing flow",
			body: "name: x\ndescription: y\nassertions: [{type: peers_agree}]\n",
			want: "flow must be non-empty",
		},
		{
			name: "unknown operation",
			body: "name: x\ndescription: y\nflow: [{invoke: registry.explode, args: {}}]\nassertions: [{type: peers_agree}]\n",
			want: `unknown operation "registry.explode"`,
		},
		{
			name: "expect without case",
			body: "name: x\ndescription: y\nflow: [{invoke: reconcile.sweep, args: {}, expect: {result: {failed: 0}}}]\nassertions: [{type: peers_agree}]\n",
			want: "case is required",
		},
		{
			name: "assertion missing field",
			body: "name: x\ndescription: y\nflow: [{invoke: reconcile.sweep, args: {}}]\nassertions: [{type: ledger_owner, asset: a-1}]\n",
			want: "owner is required for ledger_owner",
		},
		{
			name: "unknown assertion",
			body: "name: x\ndescription: y\nflow: [{invoke: reconcile.sweep, args: {}}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_ReportsEveryFailure(t *testing.T) {
	s, err := Load(writeScenario(t, `
name: wrong_expectations
description: "Expectations that do not hold"
flow:
  - invoke: deal.advance
    args: {uuid: missing, stage: NEGOTIATION}
    expect: {case: ok}
  - invoke: reconcile.sweep
    args: {}
    expect:
      case: ok
      result: {divergences: 3}
assertions:
  - {type: ledger_height, height: 7}
  - {type: peers_agree}
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0], "expected case ok, got NOT_FOUND")
	assert.Contains(t, res.Errors[1], "result.divergences")
	assert.Contains(t, res.Errors[2], "ledger height is 0, want 7")
}

func TestRun_SetupFailureIsHarnessError(t *testing.T) {
	s, err := Load(writeScenario(t, `
name: bad_setup
description: "Setup that cannot succeed"
setup:
  - invoke: registry.list
    args: {uuid: nothing, price: "10"}
flow:
  - invoke: reconcile.sweep
    args: {}
assertions:
  - {type: peers_agree}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0] registry.list")
}

func TestMatchResult(t *testing.T) {
	got := map[string]any{
		"uuid":  "a-1",
		"owner": map[string]any{"uuid": "o-1", "fullName": "Owner One"},
		"count": 2,
	}

	assert.Empty(t, matchResult(map[string]any{"owner": map[string]any{"uuid": "o-1"}}, got))
	assert.Empty(t, matchResult(map[string]any{"count": 2}, got))
	assert.Contains(t, matchResult(map[string]any{"owner": map[string]any{"uuid": "o-2"}}, got),
		"result.owner.uuid: want o-2, got o-1")
	assert.Contains(t, matchResult(map[string]any{"missing": "x"}, got), "result.missing")
}
