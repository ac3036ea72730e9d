package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Testdata(t *testing.T) {
	for _, name := range []string{"year_filter", "gap_resync", "shared_query"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestMarshalTrace_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace,
		TraceEvent{Step: 1, Op: OpSnapshot, Seq: 0, Results: map[string][]string{"q": {}}},
		TraceEvent{Step: 2, Op: OpConnectionLost, Results: map[string][]string{"q": {"b", "a"}}, NeedsResync: true},
	)

	data, err := MarshalTrace("canon", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"canon","trace":[`+
			`{"op":"snapshot","results":{"q":[]},"seq":0,"step":1},`+
			`{"needs_resync":true,"op":"connection_lost","results":{"q":["b","a"]},"step":2}]}`,
		string(data))
}

func TestAssertGolden_ReusesResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/year_filter.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	require.NoError(t, AssertGolden(t, scenario.Name, result))
}
