package pipeline

import "fmt"

// availabilitySet is the set of key names present in a context at the
// point a ShapeSpec is evaluated.
type availabilitySet map[string]bool

// Constraint is one clause of a shape-spec Option: Required, Forbidden,
// AtLeastOneOf, ExactlyOneOf, AtMostOneOf, or Conditional.
type Constraint interface {
	satisfied(available availabilitySet) bool
	// mentions returns the key names this constraint talks about, used by
	// the declaration-time invariant checks in Option.validate.
	mentions() []string
	kind() constraintKind
}

type constraintKind int

const (
	kindRequired constraintKind = iota
	kindForbidden
	kindAtLeastOneOf
	kindExactlyOneOf
	kindAtMostOneOf
	kindConditional
)

type requiredConstraint struct{ keys []string }

func (c requiredConstraint) satisfied(a availabilitySet) bool {
	for _, k := range c.keys {
		if !a[k] {
			return false
		}
	}
	return true
}
func (c requiredConstraint) mentions() []string    { return c.keys }
func (c requiredConstraint) kind() constraintKind  { return kindRequired }

type forbiddenConstraint struct{ keys []string }

func (c forbiddenConstraint) satisfied(a availabilitySet) bool {
	for _, k := range c.keys {
		if a[k] {
			return false
		}
	}
	return true
}
func (c forbiddenConstraint) mentions() []string   { return c.keys }
func (c forbiddenConstraint) kind() constraintKind { return kindForbidden }

type atLeastOneOfConstraint struct{ keys []string }

func (c atLeastOneOfConstraint) satisfied(a availabilitySet) bool {
	for _, k := range c.keys {
		if a[k] {
			return true
		}
	}
	return len(c.keys) == 0
}
func (c atLeastOneOfConstraint) mentions() []string   { return c.keys }
func (c atLeastOneOfConstraint) kind() constraintKind { return kindAtLeastOneOf }

type exactlyOneOfConstraint struct{ keys []string }

func (c exactlyOneOfConstraint) satisfied(a availabilitySet) bool {
	n := 0
	for _, k := range c.keys {
		if a[k] {
			n++
		}
	}
	return n == 1
}
func (c exactlyOneOfConstraint) mentions() []string   { return c.keys }
func (c exactlyOneOfConstraint) kind() constraintKind { return kindExactlyOneOf }

type atMostOneOfConstraint struct{ keys []string }

func (c atMostOneOfConstraint) satisfied(a availabilitySet) bool {
	n := 0
	for _, k := range c.keys {
		if a[k] {
			n++
		}
	}
	return n <= 1
}
func (c atMostOneOfConstraint) mentions() []string   { return c.keys }
func (c atMostOneOfConstraint) kind() constraintKind { return kindAtMostOneOf }

// Condition gates a Conditional constraint: IfMissingAny or IfProvided.
type Condition interface {
	active(available availabilitySet) bool
}

type ifMissingAny struct{ keys []string }

func (c ifMissingAny) active(a availabilitySet) bool {
	for _, k := range c.keys {
		if !a[k] {
			return true
		}
	}
	return false
}

type ifProvided struct{ keys []string }

func (c ifProvided) active(a availabilitySet) bool {
	for _, k := range c.keys {
		if !a[k] {
			return false
		}
	}
	return len(c.keys) > 0
}

// IfMissingAny builds a Condition active when any of keys is absent.
func IfMissingAny(keys ...AnyKey) Condition { return ifMissingAny{keys: names(keys)} }

// IfProvided builds a Condition active when every one of keys is present.
func IfProvided(keys ...AnyKey) Condition { return ifProvided{keys: names(keys)} }

type conditionalConstraint struct {
	cond  Condition
	inner []Constraint
}

func (c conditionalConstraint) satisfied(a availabilitySet) bool {
	if !c.cond.active(a) {
		return true
	}
	for _, inner := range c.inner {
		if !inner.satisfied(a) {
			return false
		}
	}
	return true
}
func (c conditionalConstraint) mentions() []string {
	var out []string
	for _, inner := range c.inner {
		out = append(out, inner.mentions()...)
	}
	return out
}
func (c conditionalConstraint) kind() constraintKind { return kindConditional }

func names(keys []AnyKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Name()
	}
	return out
}

// Required / Forbidden / AtLeastOneOf / ExactlyOneOf / AtMostOneOf /
// Conditional build the Constraint variants from spec.md's DATA MODEL.
func Required(keys ...AnyKey) Constraint      { return requiredConstraint{keys: names(keys)} }
func Forbidden(keys ...AnyKey) Constraint     { return forbiddenConstraint{keys: names(keys)} }
func AtLeastOneOf(keys ...AnyKey) Constraint  { return atLeastOneOfConstraint{keys: names(keys)} }
func ExactlyOneOf(keys ...AnyKey) Constraint  { return exactlyOneOfConstraint{keys: names(keys)} }
func AtMostOneOf(keys ...AnyKey) Constraint   { return atMostOneOfConstraint{keys: names(keys)} }
func Conditional(cond Condition, inner ...Constraint) Constraint {
	return conditionalConstraint{cond: cond, inner: inner}
}

// Option is one conjunctive clause (an "and" of constraints) of a
// ShapeSpec's disjunction.
type Option struct {
	constraints []Constraint
}

// Opt builds an Option, the Go rendering of the `option(keys…)` /
// `option{ required(...); at_least_one_of(...); ... }` DSL. Opt takes
// Constraint values only (the block form); the bare `option(keys…)`
// shorthand is RequiredOpt.
func Opt(constraints ...Constraint) Option {
	return Option{constraints: constraints}
}

// RequiredOpt is shorthand for Opt(Required(keys...)) — the DSL's bare
// `option(keys…)` form.
func RequiredOpt(keys ...AnyKey) Option {
	return Opt(Required(keys...))
}

func (o Option) satisfied(a availabilitySet) bool {
	for _, c := range o.constraints {
		if !c.satisfied(a) {
			return false
		}
	}
	return true
}

// validate enforces the shape invariants from spec.md §3: within a single
// option, a key may not be both Required and Forbidden; ExactlyOneOf /
// AtMostOneOf must not transitively force more than one Required key; and
// cardinality constraints must not mention a Forbidden key.
func (o Option) validate() error {
	required := map[string]bool{}
	forbidden := map[string]bool{}
	for _, c := range o.constraints {
		switch c.kind() {
		case kindRequired:
			for _, k := range c.mentions() {
				required[k] = true
			}
		case kindForbidden:
			for _, k := range c.mentions() {
				forbidden[k] = true
			}
		}
	}
	for k := range required {
		if forbidden[k] {
			return fmt.Errorf("pipeline: shape option: key %q is both Required and Forbidden", k)
		}
	}
	for _, c := range o.constraints {
		switch c.kind() {
		case kindExactlyOneOf, kindAtMostOneOf:
			reqCount := 0
			for _, k := range c.mentions() {
				if forbidden[k] {
					return fmt.Errorf("pipeline: shape option: cardinality constraint mentions forbidden key %q", k)
				}
				if required[k] {
					reqCount++
				}
			}
			if reqCount > 1 {
				return fmt.Errorf("pipeline: shape option: cardinality constraint over %v forces more than one Required key", c.mentions())
			}
		}
	}
	return nil
}

// ShapeSpec is a disjunction of Options, each a conjunction of
// Constraints, describing admissible input or terminal-output shapes.
type ShapeSpec struct {
	options []Option
}

// NewShapeSpec builds a ShapeSpec from its Options, validating each one's
// invariants immediately. It panics on an invalid option, matching the
// "validated at declaration time" contract in spec.md — shape mistakes are
// a programming error, not a runtime condition.
func NewShapeSpec(options ...Option) *ShapeSpec {
	for _, o := range options {
		if err := o.validate(); err != nil {
			panic("pipeline: " + err.Error())
		}
	}
	return &ShapeSpec{options: options}
}

// Satisfies reports whether the given available key names satisfy at
// least one option of spec.
func (s *ShapeSpec) Satisfies(availableNames map[string]bool) bool {
	if s == nil || len(s.options) == 0 {
		return true
	}
	for _, o := range s.options {
		if o.satisfied(availabilitySet(availableNames)) {
			return true
		}
	}
	return false
}
