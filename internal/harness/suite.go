package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that did not load, did not run, or
// failed its expectations.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios lists the *.yaml and *.yml files directly under dir, sorted.
// A path to a single file is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// RunDir loads and runs every scenario under path.
//
// A scenario that fails to load or run counts as failed; RunDir itself only
// errors when path cannot be read.
func RunDir(path string) (*SuiteResult, error) {
	paths, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, p := range paths {
		result.Total++
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))

		scenario, err := LoadScenario(p)
		if err != nil {
			result.fail(name, p, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		name = scenario.Name

		run, err := Run(scenario)
		if err != nil {
			result.fail(name, p, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !run.Pass {
			result.fail(name, p, run.Errors...)
			continue
		}
		result.Passed++
	}
	return result, nil
}

func (r *SuiteResult) fail(name, path string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}
