package conductor

import "github.com/petrijr/conductor/internal/spec"

// RetryBuilder provides a fluent way to construct task retry policies for use
// with WithRetry.
type RetryBuilder struct {
	policy spec.RetrySpec
}

// Retry creates a RetryBuilder that re-runs a task up to count more times.
// count may be an int or an expression rendering to one.
//
// By default a task is retried when its attempt failed or expired.
func Retry(count any) RetryBuilder {
	return RetryBuilder{policy: spec.RetrySpec{Count: count}}
}

// Delay sets the wait before each retry, in seconds. delay may be an int or
// an expression.
//
// Example:
//
//	conductor.Retry(3).Delay(5)
func (r RetryBuilder) Delay(delay any) RetryBuilder {
	p := r.policy
	p.Delay = delay
	return RetryBuilder{policy: p}
}

// When replaces the default retry condition with an expression evaluated
// against the completed attempt, e.g. `{{ result().code == 503 }}`.
func (r RetryBuilder) When(expression string) RetryBuilder {
	p := r.policy
	p.When = expression
	return RetryBuilder{policy: p}
}

// Policy returns a copy of the underlying retry definition.
func (r RetryBuilder) Policy() *spec.RetrySpec {
	p := r.policy
	return &p
}
