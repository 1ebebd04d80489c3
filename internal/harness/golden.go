package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/notesync/internal/ir"
)

// Snapshot is the golden form of a scenario result.
type Snapshot struct {
	ScenarioName string
	Messages     []MessageTrace
	Orderings    int
	State        map[string]any
}

func (s Snapshot) canonicalMap() map[string]any {
	msgs := make([]any, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = map[string]any{
			"id":      m.ID,
			"from":    m.From,
			"changes": m.Changes,
		}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"messages":      msgs,
		"orderings":     s.Orderings,
		"state":         s.State,
	}
}

// MarshalSnapshot renders the result as canonical JSON.
func MarshalSnapshot(name string, r *Result) ([]byte, error) {
	snap := Snapshot{
		ScenarioName: name,
		Messages:     r.Messages,
		Orderings:    r.Orderings,
		State:        r.State,
	}
	return ir.MarshalCanonical(snap.canonicalMap())
}

// RunWithGolden runs the scenario, fails t if it does not pass, and
// compares the converged state with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	res, err := Run(s)
	if err != nil {
		return nil, err
	}
	for _, e := range res.Errors {
		t.Errorf("%s: %s", s.Name, e)
	}

	data, err := MarshalSnapshot(s.Name, res)
	if err != nil {
		return nil, err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return res, nil
}
