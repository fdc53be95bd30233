package pipeline

import "context"

// HookFunc receives a clone of the current context at a whole-execution
// boundary (before_execution / after_execution). Mutating the clone never
// affects the running pipeline.
type HookFunc func(ctx context.Context, snapshot *SourceTracked)

// StepHookFunc receives a clone of the context around a single step
// (before_each_step / after_each_step), plus whether that step was
// skipped (only meaningful for before_each_step).
type StepHookFunc func(ctx context.Context, step *Step, snapshot *SourceTracked, skipped bool)

// FailureHookFn reacts to a step failing outright (on_step_failure),
// after retries (if any) have been exhausted.
type FailureHookFn func(ctx context.Context, step *Step, snapshot *SourceTracked, err error)

type hookSlot[T any] struct {
	fn T
	id int
}

// Hooks holds the five hook families from spec.md §4.6. Each family is
// invoked in registration order. Hook functions return no error; a hook
// that panics aborts the pipeline run, and the panic propagates to the
// caller of Execute.
type Hooks struct {
	beforeExecution []hookSlot[HookFunc]
	beforeEachStep  []hookSlot[StepHookFunc]
	afterEachStep   []hookSlot[StepHookFunc]
	onStepFailure   []hookSlot[FailureHookFn]
	afterExecution  []hookSlot[HookFunc]
	nextID          int
}

// NewHooks returns an empty Hooks set.
func NewHooks() *Hooks { return &Hooks{} }

// Clone returns a copy of h whose families can be extended independently
// without mutating h itself — used by the Executor façade to layer
// per-run hooks on top of a pipeline's permanent ones without leaking
// them back onto the shared Pipeline across repeated runs.
func (h *Hooks) Clone() *Hooks {
	out := &Hooks{nextID: h.nextID}
	out.beforeExecution = append(out.beforeExecution, h.beforeExecution...)
	out.beforeEachStep = append(out.beforeEachStep, h.beforeEachStep...)
	out.afterEachStep = append(out.afterEachStep, h.afterEachStep...)
	out.onStepFailure = append(out.onStepFailure, h.onStepFailure...)
	out.afterExecution = append(out.afterExecution, h.afterExecution...)
	return out
}

// OnBeforeExecution registers fn and returns an unregister func.
func (h *Hooks) OnBeforeExecution(fn HookFunc) func() {
	h.nextID++
	id := h.nextID
	h.beforeExecution = append(h.beforeExecution, hookSlot[HookFunc]{fn: fn, id: id})
	return func() { h.removeBeforeExecution(id) }
}

func (h *Hooks) removeBeforeExecution(id int) {
	for i, s := range h.beforeExecution {
		if s.id == id {
			h.beforeExecution = append(h.beforeExecution[:i], h.beforeExecution[i+1:]...)
			return
		}
	}
}

// OnBeforeEachStep registers fn and returns an unregister func.
func (h *Hooks) OnBeforeEachStep(fn StepHookFunc) func() {
	h.nextID++
	id := h.nextID
	h.beforeEachStep = append(h.beforeEachStep, hookSlot[StepHookFunc]{fn: fn, id: id})
	return func() {
		for i, s := range h.beforeEachStep {
			if s.id == id {
				h.beforeEachStep = append(h.beforeEachStep[:i], h.beforeEachStep[i+1:]...)
				return
			}
		}
	}
}

// OnAfterEachStep registers fn and returns an unregister func.
func (h *Hooks) OnAfterEachStep(fn StepHookFunc) func() {
	h.nextID++
	id := h.nextID
	h.afterEachStep = append(h.afterEachStep, hookSlot[StepHookFunc]{fn: fn, id: id})
	return func() {
		for i, s := range h.afterEachStep {
			if s.id == id {
				h.afterEachStep = append(h.afterEachStep[:i], h.afterEachStep[i+1:]...)
				return
			}
		}
	}
}

// OnStepFailure registers fn and returns an unregister func.
func (h *Hooks) OnStepFailure(fn FailureHookFn) func() {
	h.nextID++
	id := h.nextID
	h.onStepFailure = append(h.onStepFailure, hookSlot[FailureHookFn]{fn: fn, id: id})
	return func() {
		for i, s := range h.onStepFailure {
			if s.id == id {
				h.onStepFailure = append(h.onStepFailure[:i], h.onStepFailure[i+1:]...)
				return
			}
		}
	}
}

// OnAfterExecution registers fn and returns an unregister func.
func (h *Hooks) OnAfterExecution(fn HookFunc) func() {
	h.nextID++
	id := h.nextID
	h.afterExecution = append(h.afterExecution, hookSlot[HookFunc]{fn: fn, id: id})
	return func() {
		for i, s := range h.afterExecution {
			if s.id == id {
				h.afterExecution = append(h.afterExecution[:i], h.afterExecution[i+1:]...)
				return
			}
		}
	}
}

func (h *Hooks) fireBeforeExecution(ctx context.Context, snap *SourceTracked) {
	for _, s := range h.beforeExecution {
		s.fn(ctx, snap.Clone())
	}
}

func (h *Hooks) fireBeforeEachStep(ctx context.Context, step *Step, snap *SourceTracked, skipped bool) {
	for _, s := range h.beforeEachStep {
		s.fn(ctx, step, snap.Clone(), skipped)
	}
}

func (h *Hooks) fireAfterEachStep(ctx context.Context, step *Step, snap *SourceTracked) {
	for _, s := range h.afterEachStep {
		s.fn(ctx, step, snap.Clone(), false)
	}
}

func (h *Hooks) fireOnStepFailure(ctx context.Context, step *Step, snap *SourceTracked, err error) {
	for _, s := range h.onStepFailure {
		s.fn(ctx, step, snap.Clone(), err)
	}
}

func (h *Hooks) fireAfterExecution(ctx context.Context, snap *SourceTracked) {
	for _, s := range h.afterExecution {
		s.fn(ctx, snap.Clone())
	}
}
