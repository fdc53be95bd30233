package pipeline

import (
	"context"
	"log/slog"
)

// Pipeline is an ordered set of Steps plus an optional RetryPolicy and
// Hooks, the unit the topological scheduler and invalidation logic
// operate over.
type Pipeline struct {
	ID     string
	Steps  []*Step
	Retry  *RetryPolicy
	Hooks  *Hooks
	Logger *slog.Logger
}

// NewPipeline builds a Pipeline from its steps, in declaration order.
// Declaration order is also the topological tie-break order (§4.4.1).
func NewPipeline(id string, steps ...*Step) *Pipeline {
	return &Pipeline{ID: id, Steps: steps, Hooks: NewHooks()}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Validate checks the pipeline's invariants without executing it:
// unique step names and an acyclic dependency graph.
func (p *Pipeline) Validate() error {
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.Name()] {
			return &DuplicateStepNameError{Name: s.Name()}
		}
		seen[s.Name()] = true
	}
	_, err := p.topologicalOrder()
	return err
}

// topologicalOrder runs Kahn's algorithm over the produces/consumes
// dependency graph (A→B iff A.produces ∩ B.consumes ≠ ∅), breaking ties
// by declaration index, per §4.4.1.
func (p *Pipeline) topologicalOrder() ([]*Step, error) {
	n := len(p.Steps)
	indegree := make([]int, n)

	producers := make(map[KeyID][]int) // key -> indices of steps producing it
	for i, s := range p.Steps {
		for _, k := range s.Produces() {
			producers[k.id()] = append(producers[k.id()], i)
		}
	}

	for i, s := range p.Steps {
		seenProducer := make(map[int]bool)
		for _, k := range s.Consumes() {
			for _, pi := range producers[k.id()] {
				if pi == i || seenProducer[pi] {
					continue
				}
				seenProducer[pi] = true
				indegree[i]++
			}
		}
	}

	emitted := make([]bool, n)
	order := make([]*Step, 0, n)

	for len(order) < n {
		progressed := false
		for i := 0; i < n; i++ {
			if emitted[i] || indegree[i] != 0 {
				continue
			}
			emitted[i] = true
			order = append(order, p.Steps[i])
			progressed = true

			for j, s := range p.Steps {
				if emitted[j] {
					continue
				}
				shares := false
				for _, k := range s.Consumes() {
					for _, pk := range p.Steps[i].Produces() {
						if k.id() == pk.id() {
							shares = true
							break
						}
					}
					if shares {
						break
					}
				}
				if shares {
					indegree[j]--
				}
			}
			// Rescan from index 0 so the lowest-indexed ready step is
			// always the next one emitted.
			break
		}
		if !progressed {
			break
		}
	}

	if len(order) < n {
		var remaining []string
		for i, s := range p.Steps {
			if !emitted[i] {
				remaining = append(remaining, s.Name())
			}
		}
		return nil, &CyclicPipelineError{Pipeline: p.ID, Remaining: remaining}
	}

	return order, nil
}

// StepNamed finds a step by name.
func (p *Pipeline) StepNamed(name string) (*Step, bool) {
	for _, s := range p.Steps {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// AllVariables returns the union of every step's consumes (and, when
// includeOutputs is true, produces) across the pipeline.
func (p *Pipeline) AllVariables(includeOutputs bool) []AnyKey {
	seen := make(map[KeyID]bool)
	var out []AnyKey
	add := func(k AnyKey) {
		if !seen[k.id()] {
			seen[k.id()] = true
			out = append(out, k)
		}
	}
	for _, s := range p.Steps {
		for _, k := range s.Consumes() {
			add(k)
		}
		if includeOutputs {
			for _, k := range s.Produces() {
				add(k)
			}
		}
	}
	return out
}

// Execute runs the pipeline against seed, per spec.md §4.4.2: invalidate,
// before_execution hooks, then for each topologically-sorted step, skip
// if already satisfied, else execute (under Retry, with a fresh view per
// attempt), commit on success with the step's input-hash provenance.
func (p *Pipeline) Execute(ctx context.Context, vs *VariableSet, seed *SourceTracked) (*SourceTracked, error) {
	if vs != nil && vs.InputSpec() != nil {
		if !vs.InputSpec().Satisfies(seed.availableNames(vs)) {
			return seed, &InvalidInputShapeError{Pipeline: p.ID}
		}
	}

	order, err := p.topologicalOrder()
	if err != nil {
		return seed, err
	}

	working := seed.Clone()
	if err := working.Invalidate(p); err != nil {
		return working, err
	}

	hooks := p.Hooks
	if hooks == nil {
		hooks = NewHooks()
	}
	logger := p.logger()

	hooks.fireBeforeExecution(ctx, working)

	for _, step := range order {
		skip := true
		for _, k := range step.Produces() {
			if !working.Exists(k) {
				skip = false
				break
			}
		}

		hooks.fireBeforeEachStep(ctx, step, working, skip)

		if skip {
			logger.Info("pipeline step skipped", "pipeline", p.ID, "step", step.Name())
			continue
		}

		logger.Info("pipeline step started", "pipeline", p.ID, "step", step.Name())

		var resultView *MutableView
		runErr := p.Retry.Retry(ctx, func() error {
			v, err := step.run(ctx, working)
			resultView = v
			return err
		})

		if runErr != nil {
			logger.Error("pipeline step failed", "pipeline", p.ID, "step", step.Name(), "error", runErr)
			hooks.fireOnStepFailure(ctx, step, working, runErr)
			return working, runErr
		}

		stepHash, err := step.HashInputs(working)
		if err != nil {
			return working, err
		}

		working = resultView.FreezeTracked(&Source{StepName: step.Name(), InputHash: stepHash})

		logger.Info("pipeline step completed", "pipeline", p.ID, "step", step.Name())
		hooks.fireAfterEachStep(ctx, step, working)
	}

	hooks.fireAfterExecution(ctx, working)

	return working, nil
}

// CountStepsToTerminal simulates execution from startingKeys to count how
// many steps must run to satisfy some option of outputSpec, per
// spec.md §4.4.4. When skipSatisfied is true, a step is only eligible if
// it has at least one produced key not yet available (mirroring the
// engine's own skip logic).
func CountStepsToTerminal(pipelineID string, steps []*Step, startingKeys []AnyKey, outputSpec *ShapeSpec, skipSatisfied bool) (int, error) {
	available := make(map[KeyID]bool)
	availableNames := make(map[string]bool)
	for _, k := range startingKeys {
		available[k.id()] = true
		availableNames[k.Name()] = true
	}

	executed := make([]bool, len(steps))
	count := 0

	for {
		if outputSpec.Satisfies(availableNames) {
			return count, nil
		}

		progressIdx := -1
		for i, s := range steps {
			if executed[i] {
				continue
			}
			ready := true
			for _, k := range s.Consumes() {
				if !available[k.id()] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if skipSatisfied {
				hasNew := false
				for _, k := range s.Produces() {
					if !available[k.id()] {
						hasNew = true
						break
					}
				}
				if !hasNew {
					continue
				}
			}
			progressIdx = i
			break
		}

		if progressIdx == -1 {
			return count, &UnreachableError{Pipeline: pipelineID}
		}

		executed[progressIdx] = true
		for _, k := range steps[progressIdx].Produces() {
			available[k.id()] = true
			availableNames[k.Name()] = true
		}
		count++
	}
}
