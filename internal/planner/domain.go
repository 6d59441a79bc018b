package planner

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain is an HTN planning domain: which goals it covers, how compound
// tasks decompose, and which primitive operators exist.
type Domain struct {
	// Name identifies the domain in logs.
	Name string `yaml:"name"`

	// Goals maps goal text to the root task decomposition starts from.
	// Matching is case-insensitive on the trimmed goal.
	Goals map[string]string `yaml:"goals"`

	// Methods maps a compound task to its candidate decompositions, tried
	// in order. A task with no methods entry must be an operator.
	Methods map[string][]Method `yaml:"methods"`

	// Operators maps primitive task names to their execution requirements.
	Operators map[string]Operator `yaml:"operators"`
}

// Method is one way to decompose a compound task into subtasks, executed
// in order.
type Method struct {
	// Subtasks are expanded left to right; each may be a compound task or
	// an operator.
	Subtasks []string `yaml:"subtasks"`

	// Requires names a state key that must be present and truthy for this
	// method to apply. Empty means always applicable.
	Requires string `yaml:"requires,omitempty"`
}

// Operator is a primitive task delegated to a tool at execution time.
type Operator struct {
	// Capability is the tool capability tag the operator needs.
	Capability string `yaml:"capability"`

	// Description becomes the step description.
	Description string `yaml:"description"`

	// Optional operators are dropped from the plan when no tool offers the
	// capability, instead of failing planning.
	Optional bool `yaml:"optional,omitempty"`
}

// LoadDomain reads and validates a YAML domain definition.
func LoadDomain(path string) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	return ParseDomain(data)
}

// ParseDomain parses and validates a YAML domain definition.
func ParseDomain(data []byte) (*Domain, error) {
	var d Domain
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse domain: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("invalid domain %q: %w", d.Name, err)
	}
	return &d, nil
}

// validate checks referential integrity: every goal points at a known
// task, and every subtask is either a compound task or an operator.
func (d *Domain) validate() error {
	if len(d.Goals) == 0 {
		return fmt.Errorf("no goals defined")
	}
	for goal, task := range d.Goals {
		if !d.knownTask(task) {
			return fmt.Errorf("goal %q: unknown root task %q", goal, task)
		}
	}
	for task, methods := range d.Methods {
		if len(methods) == 0 {
			return fmt.Errorf("task %q: no methods", task)
		}
		for i, m := range methods {
			if len(m.Subtasks) == 0 {
				return fmt.Errorf("task %q method %d: no subtasks", task, i)
			}
			for _, sub := range m.Subtasks {
				if !d.knownTask(sub) {
					return fmt.Errorf("task %q method %d: unknown subtask %q", task, i, sub)
				}
			}
		}
	}
	return nil
}

func (d *Domain) knownTask(name string) bool {
	if _, ok := d.Methods[name]; ok {
		return true
	}
	_, ok := d.Operators[name]
	return ok
}

// RootTask returns the root task for a goal, matched case-insensitively on
// the trimmed goal text.
func (d *Domain) RootTask(goal string) (string, bool) {
	needle := strings.TrimSpace(goal)
	for g, task := range d.Goals {
		if strings.EqualFold(strings.TrimSpace(g), needle) {
			return task, true
		}
	}
	return "", false
}
