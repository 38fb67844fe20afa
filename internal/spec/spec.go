// Package spec defines the declarative workflow format the conductor runs,
// loads it from YAML and compiles it into a graph.
//
// A minimal workflow:
//
//	version: "1.0"
//	input:
//	  - name
//	  - greeting: hello
//	tasks:
//	  task1:
//	    action: core.echo
//	    input:
//	      message: "{{ $.greeting }} {{ $.name }}"
//	    next:
//	      - when: "{{ succeeded() }}"
//	        publish:
//	          - reply: "{{ result() }}"
//	        do: task2
//	  task2:
//	    action: core.noop
//	output:
//	  reply: "{{ $.reply }}"
package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved task names. noop and fail may be used as transition targets and
// complete synchronously inside the conductor; none of them may be declared.
const (
	TaskNoop     = "noop"
	TaskFail     = "fail"
	TaskContinue = "continue"
	TaskRetry    = "retry"
)

// JoinAll makes a task wait for every inbound transition.
const JoinAll = "all"

var reserved = map[string]bool{TaskNoop: true, TaskFail: true, TaskContinue: true, TaskRetry: true}

// IsReserved reports whether name is a reserved task name.
func IsReserved(name string) bool { return reserved[name] }

// IsPassThrough reports whether name is a reserved target the conductor
// completes itself.
func IsPassThrough(name string) bool { return name == TaskNoop || name == TaskFail }

// ErrInvalidSpec is wrapped by every validation failure.
var ErrInvalidSpec = errors.New("invalid workflow spec")

// Workflow is a parsed workflow definition.
type Workflow struct {
	Version     string               `json:"version,omitempty" yaml:"version,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Input       []Input              `json:"input,omitempty" yaml:"input,omitempty"`
	Vars        map[string]any       `json:"vars,omitempty" yaml:"vars,omitempty"`
	Output      map[string]any       `json:"output,omitempty" yaml:"output,omitempty"`
	Tasks       map[string]*TaskSpec `json:"tasks" yaml:"tasks"`
}

// TaskSpec is a single task definition.
type TaskSpec struct {
	Action string         `json:"action" yaml:"action"`
	Input  map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	With   *WithSpec      `json:"with,omitempty" yaml:"with,omitempty"`
	// Join is "all" or a positive count of inbound transitions.
	Join  string      `json:"join,omitempty" yaml:"join,omitempty"`
	Retry *RetrySpec  `json:"retry,omitempty" yaml:"retry,omitempty"`
	Next  []*NextSpec `json:"next,omitempty" yaml:"next,omitempty"`
}

// WithSpec runs the task action once per item.
type WithSpec struct {
	// Items is a list or an expression rendering to a list.
	Items any `json:"items" yaml:"items"`
	// Concurrency is 0 (unlimited), a positive count or an expression.
	Concurrency any `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// RetrySpec re-runs a completed task while When holds and attempts remain.
// Count and Delay (seconds) may be expressions.
type RetrySpec struct {
	When  string `json:"when,omitempty" yaml:"when,omitempty"`
	Count any    `json:"count" yaml:"count"`
	Delay any    `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// NextSpec is one outbound transition group. Without Do it only publishes.
type NextSpec struct {
	When    string      `json:"when,omitempty" yaml:"when,omitempty"`
	Publish Assignments `json:"publish,omitempty" yaml:"publish,omitempty"`
	Do      TaskList    `json:"do,omitempty" yaml:"do,omitempty"`
}

// Load reads and validates a workflow file.
func Load(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML (or JSON) and validates the result. Unknown fields are
// rejected.
func Parse(raw []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var w Workflow
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// TaskNames returns the declared task names, sorted.
func (w *Workflow) TaskNames() []string {
	names := make([]string, 0, len(w.Tasks))
	for name := range w.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Task returns the declared task called name, or nil.
func (w *Workflow) Task(name string) *TaskSpec {
	if w == nil {
		return nil
	}
	return w.Tasks[name]
}

// Input declares a workflow input. Inputs without a default are required.
type Input struct {
	Name       string
	Default    any
	HasDefault bool
}

// UnmarshalYAML accepts "name" or "name: default".
func (in *Input) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		in.Name = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: input must have exactly one name", node.Line)
		}
		in.Name = node.Content[0].Value
		in.HasDefault = true
		return node.Content[1].Decode(&in.Default)
	}
	return fmt.Errorf("line %d: invalid input declaration", node.Line)
}

// MarshalYAML writes the same shapes UnmarshalYAML accepts.
func (in Input) MarshalYAML() (any, error) {
	if !in.HasDefault {
		return in.Name, nil
	}
	return map[string]any{in.Name: in.Default}, nil
}

// MarshalJSON writes "name" or {"name": default}.
func (in Input) MarshalJSON() ([]byte, error) {
	if !in.HasDefault {
		return json.Marshal(in.Name)
	}
	return json.Marshal(map[string]any{in.Name: in.Default})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (in *Input) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*in = Input{Name: name}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("input must have exactly one name")
	}
	for k, v := range m {
		*in = Input{Name: k, Default: v, HasDefault: true}
	}
	return nil
}

// TaskList is a list of task names, written either as one name, a comma
// separated string or a sequence.
type TaskList []string

// UnmarshalYAML accepts a scalar or a sequence.
func (l *TaskList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = splitTasks(node.Value)
		return nil
	}
	var names []string
	if err := node.Decode(&names); err != nil {
		return err
	}
	*l = names
	return nil
}

// UnmarshalJSON accepts a string or an array.
func (l *TaskList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = splitTasks(s)
		return nil
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	*l = names
	return nil
}

func splitTasks(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Assignment publishes Value under Key.
type Assignment struct {
	Key   string
	Value any
}

// Assignments keeps declaration order. It is written as a sequence of single
// key mappings; a plain mapping is also accepted and read in key order.
type Assignments []Assignment

// UnmarshalYAML accepts a mapping or a sequence of single-key mappings.
func (a *Assignments) UnmarshalYAML(node *yaml.Node) error {
	var out Assignments
	switch node.Kind {
	case yaml.MappingNode:
		var m map[string]any
		if err := node.Decode(&m); err != nil {
			return err
		}
		out = fromMap(m)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: publish entries must be single-key mappings", item.Line)
			}
			var v any
			if err := item.Content[1].Decode(&v); err != nil {
				return err
			}
			out = append(out, Assignment{Key: item.Content[0].Value, Value: v})
		}
	default:
		return fmt.Errorf("line %d: invalid publish block", node.Line)
	}
	*a = out
	return nil
}

// MarshalYAML writes a sequence of single-key mappings.
func (a Assignments) MarshalYAML() (any, error) {
	return a.pairs(), nil
}

// MarshalJSON writes an array of single-key objects.
func (a Assignments) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.pairs())
}

// UnmarshalJSON accepts an object or an array of single-key objects.
func (a *Assignments) UnmarshalJSON(b []byte) error {
	var list []map[string]any
	if err := json.Unmarshal(b, &list); err == nil {
		var out Assignments
		for _, m := range list {
			if len(m) != 1 {
				return fmt.Errorf("publish entries must be single-key objects")
			}
			out = append(out, fromMap(m)...)
		}
		*a = out
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = fromMap(m)
	return nil
}

func (a Assignments) pairs() []map[string]any {
	out := make([]map[string]any, 0, len(a))
	for _, as := range a {
		out = append(out, map[string]any{as.Key: as.Value})
	}
	return out
}

func fromMap(m map[string]any) Assignments {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Assignments, 0, len(keys))
	for _, k := range keys {
		out = append(out, Assignment{Key: k, Value: m[k]})
	}
	return out
}
