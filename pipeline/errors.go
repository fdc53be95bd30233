package pipeline

import (
	"fmt"
	"strings"
)

// MissingValueError is returned by Get when a key has no value.
type MissingValueError struct {
	Key string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("pipeline: missing value for key %q", e.Key)
}

// IllegalVariableAccessError is returned by ViewGet when a step's action
// reads a key outside its declared consumes.
type IllegalVariableAccessError struct {
	Key string
}

func (e *IllegalVariableAccessError) Error() string {
	return fmt.Sprintf("pipeline: illegal read of key %q (not in step's consumes)", e.Key)
}

// IllegalVariableSetError is returned by ViewSet when a step's action
// writes a key outside its declared produces.
type IllegalVariableSetError struct {
	Key string
}

func (e *IllegalVariableSetError) Error() string {
	return fmt.Sprintf("pipeline: illegal write of key %q (not in step's produces)", e.Key)
}

// CyclicPipelineError is returned when the dependency graph among a
// pipeline's steps is not acyclic.
type CyclicPipelineError struct {
	Pipeline string
	Remaining []string
}

func (e *CyclicPipelineError) Error() string {
	return fmt.Sprintf("pipeline %q: cyclic dependency among steps %s", e.Pipeline, strings.Join(e.Remaining, ", "))
}

// DuplicateStepNameError is returned by Validate when two steps share a
// name. NewPipeline and Execute do not check step names.
type DuplicateStepNameError struct {
	Name string
}

func (e *DuplicateStepNameError) Error() string {
	return fmt.Sprintf("pipeline: duplicate step name %q", e.Name)
}

// InvalidInputShapeError is returned at Execute entry when the seed
// context does not satisfy any option of the pipeline's input spec.
type InvalidInputShapeError struct {
	Pipeline string
}

func (e *InvalidInputShapeError) Error() string {
	return fmt.Sprintf("pipeline %q: seed context does not satisfy any input shape option", e.Pipeline)
}

// StepDidNotProduceError is returned when a step's action returns without
// having set every one of its declared produces in the view's pending map.
type StepDidNotProduceError struct {
	Step    string
	Missing []string
}

func (e *StepDidNotProduceError) Error() string {
	return fmt.Sprintf("pipeline: step %q did not produce %s", e.Step, strings.Join(e.Missing, ", "))
}

// UnsupportedStructuralHashError marks a persisted record whose
// structural hash no longer matches its VariableSet's current
// declaration. It is non-fatal: the persistence loader logs it and skips
// the record rather than returning it as an error to the caller.
type UnsupportedStructuralHashError struct {
	Key string
}

func (e *UnsupportedStructuralHashError) Error() string {
	return fmt.Sprintf("pipeline: stored structural hash for key %q does not match current declaration", e.Key)
}

// ExceededRetryAttemptsError is returned when a RetryPolicy's loop
// exhausts max_attempts without a successful attempt. Its message
// concatenates every accumulated failure in order.
type ExceededRetryAttemptsError struct {
	Failures []error
}

func (e *ExceededRetryAttemptsError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("pipeline: exceeded retry attempts: %s", strings.Join(msgs, "; "))
}

func (e *ExceededRetryAttemptsError) Unwrap() []error { return e.Failures }

// UnreachableError is returned by CountStepsToTerminal when no option of
// the output spec can be satisfied from the given starting keys.
type UnreachableError struct {
	Pipeline string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("pipeline %q: output spec is unreachable from the given starting keys", e.Pipeline)
}
