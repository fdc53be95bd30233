package pipeline

// valueEnvelope is the type-erased storage cell. It holds only the value;
// it does not record the key's TypeTag. Typed retrieval (Get[T]) verifies
// T against the stored value through a plain type assertion; the TypeTag
// lives on the Key and is only consulted for structural hashing.
type valueEnvelope struct {
	value any
}

// Source marks a context value as produced by a given step with a given
// input fingerprint. A nil *Source denotes an externally seeded value.
type Source struct {
	StepName  string
	InputHash uint64
}

// readable is the unexported read surface shared by Plain, SourceTracked
// and MutableView. Keeping it unexported means only this package can
// supply new context layers, matching the "erased values" design note.
type readable interface {
	valueFor(id KeyID) (valueEnvelope, bool)
}

// Get reads the typed value at k from any readable context layer,
// returning MissingValueError if k is absent.
func Get[T any](r readable, k Key[T]) (T, error) {
	var zero T
	env, ok := r.valueFor(k.id())
	if !ok {
		return zero, &MissingValueError{Key: k.Name()}
	}
	v, ok := env.value.(T)
	if !ok {
		return zero, &MissingValueError{Key: k.Name()}
	}
	return v, nil
}

// GetOrZero reads the typed value at k, returning ok=false instead of an
// error when absent — the Go rendering of get_or_null.
func GetOrZero[T any](r readable, k Key[T]) (T, bool) {
	var zero T
	env, ok := r.valueFor(k.id())
	if !ok {
		return zero, false
	}
	v, ok := env.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// ---- Plain ----

// Plain is an immutable, read-only {Key → Value} snapshot.
type Plain struct {
	values map[KeyID]valueEnvelope
}

func NewPlain() *Plain {
	return &Plain{values: make(map[KeyID]valueEnvelope)}
}

func (p *Plain) valueFor(id KeyID) (valueEnvelope, bool) {
	env, ok := p.values[id]
	return env, ok
}

// Exists reports whether k has a value in p.
func (p *Plain) Exists(k AnyKey) bool {
	_, ok := p.values[k.id()]
	return ok
}

func (p *Plain) set(id KeyID, env valueEnvelope) {
	p.values[id] = env
}

// ---- SourceTracked ----

type trackedEntry struct {
	env    valueEnvelope
	source *Source
}

// SourceTracked is a mutable {Key → (Value, Source)} context: the
// persisted/working form of a pipeline's state between runs.
type SourceTracked struct {
	entries map[KeyID]trackedEntry
}

func NewSourceTracked() *SourceTracked {
	return &SourceTracked{entries: make(map[KeyID]trackedEntry)}
}

func (s *SourceTracked) valueFor(id KeyID) (valueEnvelope, bool) {
	e, ok := s.entries[id]
	if !ok {
		return valueEnvelope{}, false
	}
	return e.env, true
}

// Exists reports whether k has a tracked value in s.
func (s *SourceTracked) Exists(k AnyKey) bool {
	_, ok := s.entries[k.id()]
	return ok
}

// Set records a typed value for k with optional provenance.
func Set[T any](s *SourceTracked, k Key[T], v T, src *Source) {
	s.entries[k.id()] = trackedEntry{env: valueEnvelope{value: v}, source: src}
}

// Remove deletes any tracked value for k.
func (s *SourceTracked) Remove(k AnyKey) {
	delete(s.entries, k.id())
}

// GetTracked returns the typed value at k along with its Source (nil for
// externally seeded values), and whether it was present at all.
func GetTracked[T any](s *SourceTracked, k Key[T]) (T, *Source, bool) {
	var zero T
	e, ok := s.entries[k.id()]
	if !ok {
		return zero, nil, false
	}
	v, ok := e.env.value.(T)
	if !ok {
		return zero, nil, false
	}
	return v, e.source, true
}

// RawGet returns the type-erased value and Source at k, for callers (such
// as the persistence package) that only hold an AnyKey and cannot supply
// the static T a generic Get needs.
func (s *SourceTracked) RawGet(k AnyKey) (any, *Source, bool) {
	e, ok := s.entries[k.id()]
	if !ok {
		return nil, nil, false
	}
	return e.env.value, e.source, true
}

// RawSet stores a type-erased value and Source at k, the counterpart to
// RawGet used when decoding a persisted record back into a context.
func (s *SourceTracked) RawSet(k AnyKey, value any, src *Source) {
	s.entries[k.id()] = trackedEntry{env: valueEnvelope{value: value}, source: src}
}

// Clone returns an independent deep-enough copy of s (the value map is
// copied; the stored values themselves are assumed immutable once set,
// matching how hook callbacks are meant to receive a snapshot they cannot
// use to affect the running pipeline).
func (s *SourceTracked) Clone() *SourceTracked {
	out := NewSourceTracked()
	for id, e := range s.entries {
		out.entries[id] = e
	}
	return out
}

// AsPlain returns a read-only Plain snapshot of s's current values.
func (s *SourceTracked) AsPlain() *Plain {
	p := NewPlain()
	for id, e := range s.entries {
		p.set(id, e.env)
	}
	return p
}

// availableNames returns the set of key names currently present in s,
// keyed by name, for ShapeSpec evaluation. Because VariableSet enforces
// unique names, collapsing KeyID to Name here is lossless for a single
// VariableSet's shape checks.
func (s *SourceTracked) availableNames(vs *VariableSet) map[string]bool {
	out := make(map[string]bool, len(s.entries))
	for _, k := range vs.Keys() {
		if s.Exists(k) {
			out[k.Name()] = true
		}
	}
	return out
}

// From lifts a Plain snapshot into a SourceTracked context, tagging every
// entry with a nil (externally-seeded) Source. It is the "from(any_ctx)"
// constructor from spec.md §4.2 for the Plain case; FromTracked below
// covers the already-tracked case (clone).
func From(p *Plain) *SourceTracked {
	out := NewSourceTracked()
	for id, env := range p.values {
		out.entries[id] = trackedEntry{env: env, source: nil}
	}
	return out
}

// FromTracked is the already-tracked branch of spec.md's "from(any_ctx)":
// it simply clones.
func FromTracked(s *SourceTracked) *SourceTracked {
	return s.Clone()
}

// Invalidate drops every value in s whose key belongs to p's variables
// and whose recorded StepSource input hash no longer matches the step's
// current hashInputs(s) — implementing spec.md §4.2's recomputation rule.
func (s *SourceTracked) Invalidate(p *Pipeline) error {
	for _, step := range p.Steps {
		for _, k := range step.Produces() {
			e, ok := s.entries[k.id()]
			if !ok || e.source == nil {
				continue
			}
			if e.source.StepName != step.Name() {
				continue
			}
			current, err := step.HashInputs(s)
			if err != nil {
				return err
			}
			if current != e.source.InputHash {
				delete(s.entries, k.id())
			}
		}
	}
	return nil
}

// ---- MutableView ----

// MutableView is the scoped overlay a running step's action sees: writes
// land in pending and are only visible to the base context once frozen
// back by the engine; reads fall through pending then base. allowGet/
// allowSet, when non-nil, restrict the visible/writable key surface to
// exactly the step's declared consumes/produces.
type MutableView struct {
	base     readable
	pending  map[KeyID]valueEnvelope
	allowGet map[KeyID]bool
	allowSet map[KeyID]bool
}

// NewMutableView builds a view over base restricted to allowGet/allowSet
// (nil means unrestricted — used by the Executor façade's seed-context
// block, which may touch any key in the VariableSet).
func NewMutableView(base readable, allowGet, allowSet []AnyKey) *MutableView {
	v := &MutableView{base: base, pending: make(map[KeyID]valueEnvelope)}
	if allowGet != nil {
		v.allowGet = toIDSet(allowGet)
	}
	if allowSet != nil {
		v.allowSet = toIDSet(allowSet)
	}
	return v
}

func toIDSet(keys []AnyKey) map[KeyID]bool {
	out := make(map[KeyID]bool, len(keys))
	for _, k := range keys {
		out[k.id()] = true
	}
	return out
}

func (v *MutableView) valueFor(id KeyID) (valueEnvelope, bool) {
	if env, ok := v.pending[id]; ok {
		return env, true
	}
	return v.base.valueFor(id)
}

// Exists ignores allowGet/allowSet restrictions, per spec.md §4.2.
func (v *MutableView) Exists(k AnyKey) bool {
	_, ok := v.valueFor(k.id())
	return ok
}

// ViewGet reads k through a MutableView, honoring allowGet.
func ViewGet[T any](v *MutableView, k Key[T]) (T, error) {
	var zero T
	id := k.id()
	if v.allowGet != nil && !v.allowGet[id] {
		return zero, &IllegalVariableAccessError{Key: k.Name()}
	}
	env, ok := v.valueFor(id)
	if !ok {
		return zero, &MissingValueError{Key: k.Name()}
	}
	val, ok := env.value.(T)
	if !ok {
		return zero, &MissingValueError{Key: k.Name()}
	}
	return val, nil
}

// ViewSet writes k into the view's pending map, honoring allowSet.
func ViewSet[T any](v *MutableView, k Key[T], val T) error {
	id := k.id()
	if v.allowSet != nil && !v.allowSet[id] {
		return &IllegalVariableSetError{Key: k.Name()}
	}
	v.pending[id] = valueEnvelope{value: val}
	return nil
}

// pendingHas reports whether k has been written to pending in this view.
func (v *MutableView) pendingHas(k AnyKey) bool {
	_, ok := v.pending[k.id()]
	return ok
}

// Freeze returns an immutable Plain snapshot combining base and pending.
func (v *MutableView) Freeze() *Plain {
	out := NewPlain()
	switch base := v.base.(type) {
	case *Plain:
		for id, env := range base.values {
			out.set(id, env)
		}
	case *SourceTracked:
		for id, e := range base.entries {
			out.set(id, e.env)
		}
	}
	for id, env := range v.pending {
		out.set(id, env)
	}
	return out
}

// FreezeTracked merges pending into a clone of base (which must be a
// *SourceTracked) tagging every merged entry with src.
func (v *MutableView) FreezeTracked(src *Source) *SourceTracked {
	base, ok := v.base.(*SourceTracked)
	if !ok {
		base = NewSourceTracked()
	}
	out := base.Clone()
	for id, env := range v.pending {
		out.entries[id] = trackedEntry{env: env, source: src}
	}
	return out
}
