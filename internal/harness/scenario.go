package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Delivery orders.
const (
	DeliveryPermutations = "permutations"
	DeliveryInOrder      = "in_order"
	DeliveryReverse      = "reverse"
)

// Scenario defines one convergence check.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Replicas lists client ids. Tie-breaks follow their byte order.
	Replicas []string `yaml:"replicas"`

	// Seed rows are hydrated into every replica with the baseline stamp.
	Seed []RowSpec `yaml:"seed,omitempty"`

	// Steps run in order on a single goroutine.
	Steps []Step `yaml:"steps"`

	// Delivery selects the orders in which in-flight messages are tried.
	// Defaults to DeliveryPermutations.
	Delivery string `yaml:"delivery,omitempty"`

	// Duplicate delivers every in-flight message twice.
	Duplicate bool `yaml:"duplicate,omitempty"`

	// Expect is checked on every replica after every ordering.
	Expect []RowExpect `yaml:"expect,omitempty"`
}

// RowSpec names a row and the cells to write.
type RowSpec struct {
	Table string         `yaml:"table"`
	Row   string         `yaml:"row"`
	Cells map[string]any `yaml:"cells"`
}

// RowRef names a row.
type RowRef struct {
	Table string `yaml:"table"`
	Row   string `yaml:"row"`
}

// Step is one local edit, or a delivery barrier.
type Step struct {
	Replica string   `yaml:"replica,omitempty"`
	Set     *RowSpec `yaml:"set,omitempty"`
	Delete  *RowRef  `yaml:"delete,omitempty"`

	// Deliver hands every message sent so far to every other replica in
	// send order before the next step.
	Deliver bool `yaml:"deliver,omitempty"`
}

// RowExpect asserts on a row of the converged state.
type RowExpect struct {
	Table string `yaml:"table"`
	Row   string `yaml:"row"`

	// Cells is a subset match.
	Cells map[string]any `yaml:"cells,omitempty"`

	// Absent asserts the row is not visible.
	Absent bool `yaml:"absent,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently weaken a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Replicas) == 0 {
		return errors.New("at least one replica is required")
	}
	known := make(map[string]bool, len(s.Replicas))
	for _, r := range s.Replicas {
		if r == "" {
			return errors.New("replica ids must not be empty")
		}
		if known[r] {
			return fmt.Errorf("duplicate replica %q", r)
		}
		known[r] = true
	}

	switch s.Delivery {
	case "", DeliveryPermutations, DeliveryInOrder, DeliveryReverse:
	default:
		return fmt.Errorf("unknown delivery %q", s.Delivery)
	}

	for i, row := range s.Seed {
		if err := validateRow(row.Table, row.Row); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if _, err := toRow(row.Cells); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, known); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, e := range s.Expect {
		if err := validateRow(e.Table, e.Row); err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
		if e.Absent && len(e.Cells) > 0 {
			return fmt.Errorf("expect[%d]: absent rows cannot have cells", i)
		}
		if _, err := toRow(e.Cells); err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, known map[string]bool) error {
	actions := 0
	if step.Set != nil {
		actions++
	}
	if step.Delete != nil {
		actions++
	}
	if step.Deliver {
		if actions > 0 || step.Replica != "" {
			return errors.New("deliver cannot be combined with an edit")
		}
		return nil
	}
	if actions != 1 {
		return errors.New("exactly one of set, delete or deliver is required")
	}
	if !known[step.Replica] {
		return fmt.Errorf("unknown replica %q", step.Replica)
	}
	if step.Set != nil {
		if err := validateRow(step.Set.Table, step.Set.Row); err != nil {
			return err
		}
		if len(step.Set.Cells) == 0 {
			return errors.New("set needs at least one cell")
		}
		_, err := toRow(step.Set.Cells)
		return err
	}
	return validateRow(step.Delete.Table, step.Delete.Row)
}

func validateRow(table, row string) error {
	if table == "" || row == "" {
		return errors.New("table and row are required")
	}
	return nil
}
