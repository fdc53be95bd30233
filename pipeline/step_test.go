package pipeline

import (
	"context"
	"testing"
)

func TestStep_RunSucceedsWhenAllProducesAreSet(t *testing.T) {
	vs := NewVariableSet("step")
	in := IntSlot(vs, "in", false)
	out := IntSlot(vs, "out", false)

	step := NewStep("double", []AnyKey{in}, []AnyKey{out}, func(_ context.Context, v *MutableView) error {
		n, err := ViewGet(v, in)
		if err != nil {
			return err
		}
		return ViewSet(v, out, n*2)
	})

	base := NewSourceTracked()
	Set(base, in, 21, nil)

	view, err := step.run(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ViewGet(view, out)
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d (%v)", got, err)
	}
}

func TestStep_RunFailsWithStepDidNotProduceError(t *testing.T) {
	vs := NewVariableSet("step")
	in := IntSlot(vs, "in", false)
	out := IntSlot(vs, "out", false)

	step := NewStep("forgetful", []AnyKey{in}, []AnyKey{out}, func(_ context.Context, v *MutableView) error {
		return nil
	})

	base := NewSourceTracked()
	Set(base, in, 1, nil)

	_, err := step.run(context.Background(), base)
	var target *StepDidNotProduceError
	if !errorsAs(err, &target) {
		t.Fatalf("expected *StepDidNotProduceError, got %T (%v)", err, err)
	}
	if len(target.Missing) != 1 || target.Missing[0] != out.Name() {
		t.Errorf("unexpected missing list: %v", target.Missing)
	}
}

func TestStep_HashInputsStableForSameValues(t *testing.T) {
	vs := NewVariableSet("step")
	in := StringSlot(vs, "in", false)
	out := StringSlot(vs, "out", false)
	step := NewStep("ident", []AnyKey{in}, []AnyKey{out}, nil)

	s1 := NewSourceTracked()
	Set(s1, in, "same", nil)
	s2 := NewSourceTracked()
	Set(s2, in, "same", nil)

	h1, err := step.HashInputs(s1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := step.HashInputs(s2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected identical inputs to hash identically")
	}
}

func TestStep_HashInputsChangesWithValue(t *testing.T) {
	vs := NewVariableSet("step")
	in := StringSlot(vs, "in", false)
	out := StringSlot(vs, "out", false)
	step := NewStep("ident", []AnyKey{in}, []AnyKey{out}, nil)

	s1 := NewSourceTracked()
	Set(s1, in, "a", nil)
	s2 := NewSourceTracked()
	Set(s2, in, "b", nil)

	h1, _ := step.HashInputs(s1)
	h2, _ := step.HashInputs(s2)
	if h1 == h2 {
		t.Fatal("expected different inputs to hash differently")
	}
}

// errorsAs is a tiny local wrapper so tests don't need to import errors
// just for this one assertion helper.
func errorsAs(err error, target **StepDidNotProduceError) bool {
	e, ok := err.(*StepDidNotProduceError)
	if !ok {
		return false
	}
	*target = e
	return true
}
