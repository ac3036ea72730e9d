package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
queries:
  - name: recent
    collection: album
    where: "year > 1985"
steps:
  - snapshot:
      seq: 2
      records:
        - { id: a1, collection: album, fields: { year: 1990 } }
    expect: { recent: [a1] }
  - event: { kind: update, id: a1, deltas: { year: null } }
assertions:
  - type: result_count
    query: recent
    count: 0
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Queries, 1)
	assert.Equal(t, "year > 1985", scenario.Queries[0].Where)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpSnapshot, scenario.Steps[0].Op())
	assert.Equal(t, int64(2), scenario.Steps[0].Snapshot.Seq)
	assert.Equal(t, []string{"a1"}, scenario.Steps[0].Expect["recent"])
	assert.Equal(t, OpEvent, scenario.Steps[1].Op())
	assert.Contains(t, scenario.Steps[1].Event.Deltas, "year")
	assert.Nil(t, scenario.Steps[1].Event.Deltas["year"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled key"
steps:
  - connection_lost: gone
assertion:
  - type: last_seq
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{connection_lost: x}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{connection_lost: x}]",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d",
			wantErr: "steps list is required",
		},
		{
			name:    "two ops in one step",
			yaml:    "name: n\ndescription: d\nqueries: [{name: q, collection: album}]\nsteps: [{close: q, open: q}]",
			wantErr: "exactly one of",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nsteps: [{}]",
			wantErr: "exactly one of",
		},
		{
			name:    "duplicate query",
			yaml:    "name: n\ndescription: d\nqueries: [{name: q, collection: album}, {name: q, collection: album}]\nsteps: [{close: q}]",
			wantErr: "duplicate name",
		},
		{
			name:    "query without collection",
			yaml:    "name: n\ndescription: d\nqueries: [{name: q}]\nsteps: [{close: q}]",
			wantErr: "collection is required",
		},
		{
			name:    "close unknown query",
			yaml:    "name: n\ndescription: d\nsteps: [{close: q}]",
			wantErr: `unknown query "q"`,
		},
		{
			name:    "expect unknown query",
			yaml:    "name: n\ndescription: d\nsteps: [{connection_lost: x, expect: {q: []}}]",
			wantErr: `unknown query "q"`,
		},
		{
			name:    "insert without collection",
			yaml:    "name: n\ndescription: d\nsteps: [{event: {kind: insert, id: a1}}]",
			wantErr: "collection is required for insert",
		},
		{
			name:    "unknown event kind",
			yaml:    "name: n\ndescription: d\nsteps: [{event: {kind: upsert, id: a1}}]",
			wantErr: `unknown kind "upsert"`,
		},
		{
			name:    "event without id",
			yaml:    "name: n\ndescription: d\nsteps: [{event: {kind: delete}}]",
			wantErr: "id is required",
		},
		{
			name:    "snapshot record without collection",
			yaml:    "name: n\ndescription: d\nsteps: [{snapshot: {seq: 1, records: [{id: a1}]}}]",
			wantErr: "id and collection are required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{connection_lost: x}]\nassertions: [{type: final_state}]",
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name:    "assertion without query",
			yaml:    "name: n\ndescription: d\nsteps: [{connection_lost: x}]\nassertions: [{type: result_ids}]",
			wantErr: "query is required for result_ids",
		},
		{
			name:    "negative count",
			yaml:    "name: n\ndescription: d\nsteps: [{connection_lost: x}]\nassertions: [{type: live_queries, count: -1}]",
			wantErr: "count must be non-negative",
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

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			_, err := LoadScenario(p)
			require.NoError(t, err)
		})
	}
}
