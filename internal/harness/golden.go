package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/livesync/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Snapshot and event steps always carry their seq, even
// seq 0; other ops carry none.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		results := make(map[string]any, len(event.Results))
		for name, ids := range event.Results {
			list := make([]any, len(ids))
			for j, id := range ids {
				list[j] = id
			}
			results[name] = list
		}

		eventMap := map[string]any{
			"step":    event.Step,
			"op":      event.Op,
			"results": results,
		}
		if event.Op == OpSnapshot || event.Op == OpEvent {
			eventMap["seq"] = event.Seq
		}
		if event.Kind != "" {
			eventMap["kind"] = event.Kind
		}
		if event.ID != "" {
			eventMap["id"] = event.ID
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		if event.NeedsResync {
			eventMap["needs_resync"] = true
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario": s.ScenarioName,
		"trace":    traceList,
	}
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
