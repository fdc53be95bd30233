package pipeline

import "context"

// StepAction is the asynchronous body of a Step. It receives a
// MutableView restricted to the step's declared consumes/produces; it
// must set every key in produces before returning for the step to be
// considered successful.
type StepAction func(ctx context.Context, v *MutableView) error

// Step is a single named unit of work in a Pipeline: it declares the
// keys it reads (consumes) and writes (produces), and an async action.
type Step struct {
	name     string
	consumes []AnyKey
	produces []AnyKey
	action   StepAction
}

// NewStep builds a Step. consumes and produces should come from the same
// VariableSet the owning Pipeline is built against.
func NewStep(name string, consumes, produces []AnyKey, action StepAction) *Step {
	return &Step{name: name, consumes: consumes, produces: produces, action: action}
}

func (s *Step) Name() string        { return s.name }
func (s *Step) Consumes() []AnyKey  { return s.consumes }
func (s *Step) Produces() []AnyKey  { return s.produces }

// HashInputs computes a stable hash over the values at s.consumes, in
// declaration order, rendered through their structured-text (JSON) form
// for stability across process restarts.
func (s *Step) HashInputs(r readable) (uint64, error) {
	h := newDigest()
	for _, k := range s.consumes {
		env, ok := r.valueFor(k.id())
		if !ok {
			h.writeString("<absent:" + k.Name() + ">")
			continue
		}
		data, err := jsonMarshal(env.value)
		if err != nil {
			return 0, err
		}
		h.writeBytes(data)
	}
	return h.sum(), nil
}

// run executes the step's action against a fresh MutableView built from
// base, restricted to consumes/produces. It is the unit the retry engine
// re-invokes on each attempt — a fresh view means a failed attempt's
// partial pending writes never leak into the next attempt.
func (s *Step) run(ctx context.Context, base readable) (*MutableView, error) {
	view := NewMutableView(base, s.consumes, s.produces)
	if err := s.action(ctx, view); err != nil {
		return view, err
	}
	var missing []string
	for _, k := range s.produces {
		if !view.pendingHas(k) {
			missing = append(missing, k.Name())
		}
	}
	if len(missing) > 0 {
		return view, &StepDidNotProduceError{Step: s.name, Missing: missing}
	}
	return view, nil
}
