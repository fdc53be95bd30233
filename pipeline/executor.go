package pipeline

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence surface the Executor façade needs: enough to
// save a run's context without pipeline importing the persistence package
// (which itself imports pipeline). Implemented by *persistence.Store.
type Store interface {
	SerializePipeline(ctx context.Context, runID string, p *Pipeline, vs *VariableSet, ctxData *SourceTracked) error
}

// Preparer builds up a pipeline run before executing it: an optional seed
// context block and optional extra hooks, composed fluently. This is the
// Go rendering of the "prepare(pipeline, variable_set)" entry point from
// spec.md §4.8.
type Preparer struct {
	pipeline *Pipeline
	vs       *VariableSet
	seed     *SourceTracked
	hooks    []func(*Hooks)
}

// Prepare starts building a run of p against vs, seeded with an empty
// context.
func Prepare(p *Pipeline, vs *VariableSet) *Preparer {
	return &Preparer{pipeline: p, vs: vs, seed: NewSourceTracked()}
}

// Context runs fn against an unrestricted MutableView over the current
// seed, freezing its writes into the seed before Execute runs. Use this to
// populate external inputs before a run.
func (pr *Preparer) Context(fn func(v *MutableView)) *Preparer {
	view := NewMutableView(pr.seed, nil, nil)
	fn(view)
	pr.seed = view.FreezeTracked(nil)
	return pr
}

// Seed replaces the run's seed context outright, e.g. with one loaded from
// a Store via LoadContextForPipeline.
func (pr *Preparer) Seed(ctx *SourceTracked) *Preparer {
	pr.seed = ctx
	return pr
}

// Hooks registers additional hooks for just this run, layered on top of
// whatever is already registered on the Pipeline itself.
func (pr *Preparer) Hooks(fn func(h *Hooks)) *Preparer {
	pr.hooks = append(pr.hooks, fn)
	return pr
}

// Execute runs the prepared pipeline and wraps the result (or error) in an
// Executed, which exposes typed result access. Hooks registered via
// Preparer.Hooks are layered on top of the pipeline's own (via Hooks.Clone)
// for the duration of this call only — they never leak back onto the
// shared Pipeline, so repeated Prepare(...).Hooks(...).Execute(...) calls
// never accumulate duplicate registrations.
func (pr *Preparer) Execute(ctx context.Context) (*Executed, error) {
	base := pr.pipeline.Hooks
	if base == nil {
		base = NewHooks()
	}

	runHooks := base
	if len(pr.hooks) > 0 {
		runHooks = base.Clone()
		for _, fn := range pr.hooks {
			fn(runHooks)
		}
	}

	saved := pr.pipeline.Hooks
	pr.pipeline.Hooks = runHooks
	defer func() { pr.pipeline.Hooks = saved }()

	result, err := pr.pipeline.Execute(ctx, pr.vs, pr.seed)
	ex := &Executed{pipeline: pr.pipeline, vs: pr.vs, result: result}
	return ex, err
}

// Executed wraps the outcome of running a pipeline: its final
// SourceTracked context plus the VariableSet it was run against, for
// typed access via Result/ResultOrZero.
type Executed struct {
	pipeline *Pipeline
	vs       *VariableSet
	runID    string
	result   *SourceTracked
}

// Tracked returns the run's final SourceTracked context.
func (e *Executed) Tracked() *SourceTracked { return e.result }

// Vars returns the run's final context as a read-only Plain snapshot.
func (e *Executed) Vars() *Plain { return e.result.AsPlain() }

// Result reads a typed value out of the run's final context.
func Result[T any](e *Executed, k Key[T]) (T, error) {
	return Get(e.result, k)
}

// ResultOrZero reads a typed value out of the run's final context,
// returning ok=false instead of an error when absent.
func ResultOrZero[T any](e *Executed, k Key[T]) (T, bool) {
	return GetOrZero(e.result, k)
}

// ExecuteAndSave runs the prepared pipeline and, on success, serializes its
// full final context (every key declared by the pipeline's steps) to
// store under runID. If runID is empty, a fresh one is generated with
// google/uuid, matching the teacher's run-identifier convention elsewhere
// in the corpus.
func (pr *Preparer) ExecuteAndSave(ctx context.Context, store Store, runID string) (*Executed, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	ex, err := pr.Execute(ctx)
	if err != nil {
		return ex, err
	}
	ex.runID = runID
	if saveErr := store.SerializePipeline(ctx, runID, pr.pipeline, pr.vs, ex.result); saveErr != nil {
		return ex, saveErr
	}
	return ex, nil
}

// RunID returns the run identifier used by ExecuteAndSave, empty if the
// run was never saved.
func (e *Executed) RunID() string { return e.runID }
