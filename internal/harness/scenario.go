package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livesync/internal/ir"
)

// Scenario defines a live query scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Queries are opened, in order, before the first step.
	Queries []QueryDecl `yaml:"queries"`

	// Steps are applied to the engine one at a time.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// QueryDecl names a live query. Where uses the query grammar; empty matches
// every record in the collection.
type QueryDecl struct {
	Name       string `yaml:"name"`
	Collection string `yaml:"collection"`
	Where      string `yaml:"where,omitempty"`
}

// Step is exactly one of snapshot, event, connection_lost, open or close,
// with an optional expectation on result ids after it.
type Step struct {
	Snapshot       *SnapshotStep `yaml:"snapshot,omitempty"`
	Event          *EventStep    `yaml:"event,omitempty"`
	ConnectionLost string        `yaml:"connection_lost,omitempty"`
	Open           string        `yaml:"open,omitempty"`
	Close          string        `yaml:"close,omitempty"`

	// Expect maps query names to their expected result ids after this step.
	Expect map[string][]string `yaml:"expect,omitempty"`
}

// SnapshotStep is a full snapshot delivered by the authority.
type SnapshotStep struct {
	Seq     int64        `yaml:"seq"`
	Records []RecordSpec `yaml:"records"`
}

// RecordSpec is a record as written in a scenario.
type RecordSpec struct {
	ID         string         `yaml:"id"`
	Collection string         `yaml:"collection"`
	Fields     map[string]any `yaml:"fields"`
}

// EventStep is one change event. Seq 0 means "the next seq".
type EventStep struct {
	Seq        int64          `yaml:"seq,omitempty"`
	Kind       string         `yaml:"kind"`
	ID         string         `yaml:"id"`
	Collection string         `yaml:"collection,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty"`
	Deltas     map[string]any `yaml:"deltas,omitempty"`
}

// Assertion validates the state left behind by the steps.
type Assertion struct {
	Type  string   `yaml:"type"`
	Query string   `yaml:"query,omitempty"`
	IDs   []string `yaml:"ids,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Seq   int64    `yaml:"seq,omitempty"`
	Value bool     `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertResultIDs           = "result_ids"
	AssertResultCount         = "result_count"
	AssertObserverRuns        = "observer_runs"
	AssertNeedsResync         = "needs_resync"
	AssertLastSeq             = "last_seq"
	AssertResyncRequests      = "resync_requests"
	AssertSubscribeRequests   = "subscribe_requests"
	AssertUnsubscribeRequests = "unsubscribe_requests"
	AssertLiveQueries         = "live_queries"
)

// Step op names, as they appear in traces.
const (
	OpSnapshot       = "snapshot"
	OpEvent          = "event"
	OpConnectionLost = "connection_lost"
	OpOpen           = "open"
	OpClose          = "close"
)

// Op returns which operation the step performs.
func (s Step) Op() string {
	switch {
	case s.Snapshot != nil:
		return OpSnapshot
	case s.Event != nil:
		return OpEvent
	case s.ConnectionLost != "":
		return OpConnectionLost
	case s.Open != "":
		return OpOpen
	case s.Close != "":
		return OpClose
	}
	return ""
}

func (s Step) opCount() int {
	n := 0
	if s.Snapshot != nil {
		n++
	}
	if s.Event != nil {
		n++
	}
	if s.ConnectionLost != "" {
		n++
	}
	if s.Open != "" {
		n++
	}
	if s.Close != "" {
		n++
	}
	return n
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	declared := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if q.Collection == "" {
			return fmt.Errorf("queries[%d]: collection is required", i)
		}
		if declared[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		declared[q.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, declared); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, declared); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, declared map[string]bool) error {
	if n := step.opCount(); n != 1 {
		return fmt.Errorf("steps[%d]: exactly one of snapshot, event, connection_lost, open, close is required (got %d)", i, n)
	}
	for name := range step.Expect {
		if !declared[name] {
			return fmt.Errorf("steps[%d].expect: unknown query %q", i, name)
		}
	}

	switch step.Op() {
	case OpSnapshot:
		if step.Snapshot.Seq < 0 {
			return fmt.Errorf("steps[%d].snapshot: seq must be non-negative", i)
		}
		for j, r := range step.Snapshot.Records {
			if r.ID == "" || r.Collection == "" {
				return fmt.Errorf("steps[%d].snapshot.records[%d]: id and collection are required", i, j)
			}
		}
	case OpEvent:
		ev := step.Event
		if ev.ID == "" {
			return fmt.Errorf("steps[%d].event: id is required", i)
		}
		switch ir.ChangeKind(ev.Kind) {
		case ir.ChangeInsert:
			if ev.Collection == "" {
				return fmt.Errorf("steps[%d].event: collection is required for insert", i)
			}
		case ir.ChangeUpdate, ir.ChangeDelete:
		default:
			return fmt.Errorf("steps[%d].event: unknown kind %q", i, ev.Kind)
		}
	case OpOpen:
		if !declared[step.Open] {
			return fmt.Errorf("steps[%d].open: unknown query %q", i, step.Open)
		}
	case OpClose:
		if !declared[step.Close] {
			return fmt.Errorf("steps[%d].close: unknown query %q", i, step.Close)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, declared map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertResultIDs, AssertResultCount, AssertObserverRuns:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for %s", index, a.Type)
		}
		if !declared[a.Query] {
			return fmt.Errorf("assertions[%d]: unknown query %q", index, a.Query)
		}
	case AssertNeedsResync, AssertLastSeq, AssertResyncRequests,
		AssertSubscribeRequests, AssertUnsubscribeRequests, AssertLiveQueries:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
