// Package expr is the default expression evaluator used by the conductor for
// transition criteria, publish values, task input and workflow output.
//
// An expression is a string wrapped in "{{ }}". Inside, operands are JSONPath
// lookups into the task context ($.a.b, $.items[0]), JSON literals or builtin
// calls, combined with ! == != < <= > >= && ||.
//
// Builtins read the markers the conductor places in the context before
// evaluating a transition:
//
//	succeeded()  failed()  completed()  result()  item()  item("key")
//	ctx("name")  len(x)
package expr

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	// CurrentTaskKey holds {"id", "status", "result"} of the task whose
	// transitions are being evaluated.
	CurrentTaskKey = "__current_task"

	// CurrentItemKey holds the item being rendered for a with-items task.
	CurrentItemKey = "__current_item"
)

var (
	// ErrSyntax is returned for expressions that cannot be parsed.
	ErrSyntax = errors.New("expression syntax error")

	// ErrNotFound is returned when a path does not resolve in the context.
	ErrNotFound = errors.New("expression path not found")
)

// EvaluationError wraps a failure to evaluate a single expression.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("unable to evaluate %q: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Evaluator evaluates a single expression against a context.
type Evaluator interface {
	Evaluate(expression string, ctx map[string]any) (any, error)
}

// PathEvaluator is the builtin Evaluator. Parsed expressions are cached, so a
// single PathEvaluator may be shared by many conductors.
type PathEvaluator struct {
	cache sync.Map // string -> node
}

// NewEvaluator returns a PathEvaluator.
func NewEvaluator() *PathEvaluator {
	return &PathEvaluator{}
}

// Evaluate evaluates expression against ctx. The "{{ }}" wrapper is optional.
func (e *PathEvaluator) Evaluate(expression string, ctx map[string]any) (any, error) {
	body := expression
	if inner, ok := unwrap(expression); ok {
		body = inner
	}
	n, err := e.compile(body)
	if err != nil {
		return nil, &EvaluationError{Expr: expression, Err: err}
	}
	v, err := n.eval(ctx)
	if err != nil {
		return nil, &EvaluationError{Expr: expression, Err: err}
	}
	return v, nil
}

func (e *PathEvaluator) compile(body string) (node, error) {
	if n, ok := e.cache.Load(body); ok {
		return n.(node), nil
	}
	n, err := parse(body)
	if err != nil {
		return nil, err
	}
	e.cache.Store(body, n)
	return n, nil
}

// Check parses expression without evaluating it.
func Check(expression string) error {
	body := expression
	if inner, ok := unwrap(expression); ok {
		body = inner
	}
	if _, err := parse(body); err != nil {
		return &EvaluationError{Expr: expression, Err: err}
	}
	return nil
}

// IsExpression reports whether s is a single "{{ }}" expression.
func IsExpression(s string) bool {
	_, ok := unwrap(s)
	return ok
}

func unwrap(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") || len(t) < 4 {
		return "", false
	}
	inner := t[2 : len(t)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// Truthy reports the boolean value of an evaluation result: nil, false, zero
// numbers and empty strings, lists and maps are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
