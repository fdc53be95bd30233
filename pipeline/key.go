// Package pipeline implements typed, directed-acyclic pipelines of
// asynchronous steps with persistent source-tracked state, partial
// recomputation based on input fingerprinting, and retry orchestration.
package pipeline

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// TypeTag carries the fully qualified type of a Key, including generic
// parameters, used for structural hashing. Deserializers are chosen from T
// when a slot is registered and looked up by key name, not by TypeTag. It
// is never used for the compile-time contract — that's Key[T]'s T.
type TypeTag struct {
	name string
}

func (t TypeTag) String() string { return t.name }

func typeTagFor[T any]() TypeTag {
	var zero T
	rt := reflect.TypeOf(&zero).Elem()
	return TypeTag{name: rt.String()}
}

// KeyID is the type-erased identity of a Key: its declaration site
// (owning VariableSet) plus its name. Two keys are equal iff their KeyIDs
// are equal.
type KeyID struct {
	setID uint64
	name  string
}

// AnyKey is the type-erased surface of a Key[T], implemented by every
// Key[T] regardless of T. It is what ShapeSpec constraints, context
// removal/existence checks, and AllVariables() traffic in, since those
// operations never need the compile-time type.
type AnyKey interface {
	id() KeyID
	Name() string
	typeTag() TypeTag
	Transient() bool
	// Owner indirects through the process-wide variable-set registry
	// rather than holding a direct back-reference, avoiding the
	// Key<->VariableSet reference cycle.
	Owner() *VariableSet
}

// Key is a named, typed handle for a slot in a pipeline Context. It
// carries the static type T as its compile-time contract, and a TypeTag
// carrying the same type information at runtime for structural hashing.
type Key[T any] struct {
	name      string
	typ       TypeTag
	transient bool
	setID     uint64
}

func (k Key[T]) id() KeyID         { return KeyID{setID: k.setID, name: k.name} }
func (k Key[T]) Name() string      { return k.name }
func (k Key[T]) typeTag() TypeTag  { return k.typ }
func (k Key[T]) Transient() bool   { return k.transient }
func (k Key[T]) Owner() *VariableSet {
	return lookupVariableSet(k.setID)
}

var (
	registryMu  sync.RWMutex
	registry    = map[uint64]*VariableSet{}
	nextSetID   uint64
)

func registerVariableSet(vs *VariableSet) uint64 {
	id := atomic.AddUint64(&nextSetID, 1)
	registryMu.Lock()
	registry[id] = vs
	registryMu.Unlock()
	return id
}

func lookupVariableSet(id uint64) *VariableSet {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[id]
}

// Deserializer decodes a structured-text (JSON) encoded value back into
// its typed form for a specific key.
type Deserializer func(data []byte) (any, error)

// VariableSet is an immutable-after-construction, declarative container of
// keys scoped to one pipeline. Field declarations happen through the
// package-level Slot/StringSlot/IntSlot/... constructors, which is this
// module's explicit-registration stand-in for the delegated-property idiom
// described in the design notes — no runtime reflection over struct tags
// is used to discover keys.
type VariableSet struct {
	id            uint64
	name          string
	order         []string
	keysByName    map[string]AnyKey
	deserializers map[string]Deserializer
	inputSpec     *ShapeSpec
	outputSpec    *ShapeSpec
}

// NewVariableSet creates an empty VariableSet. name is used only for error
// messages. Call Slot/StringSlot/... to register keys, then SetInputSpec /
// SetOutputSpec before using it with a Pipeline.
func NewVariableSet(name string) *VariableSet {
	vs := &VariableSet{
		name:          name,
		keysByName:    make(map[string]AnyKey),
		deserializers: make(map[string]Deserializer),
	}
	vs.id = registerVariableSet(vs)
	return vs
}

func (vs *VariableSet) register(k AnyKey, d Deserializer) {
	name := k.Name()
	if _, exists := vs.keysByName[name]; exists {
		panic(fmt.Sprintf("pipeline: variable set %q: duplicate key name %q", vs.name, name))
	}
	vs.keysByName[name] = k
	vs.deserializers[name] = d
	vs.order = append(vs.order, name)
}

// Slot registers a new typed Key[T] on vs and returns it. Prefer the
// convenience wrappers (StringSlot, IntSlot, ...) for common types.
func Slot[T any](vs *VariableSet, name string, transient bool) Key[T] {
	k := Key[T]{name: name, typ: typeTagFor[T](), transient: transient, setID: vs.id}
	vs.register(k, defaultDeserializer[T]())
	return k
}

func defaultDeserializer[T any]() Deserializer {
	return func(data []byte) (any, error) {
		var v T
		if err := jsonUnmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// StringSlot, IntSlot, BoolSlot, ListSlot, SetSlot, MapSlot and TypeSlot
// are the typed slot factories named in the configuration surface: the Go
// rendering of `string()`, `int()`, `boolean()`, `list<T>()`, `set<T>()`,
// `map<K,V>()` and `type<T>()`.
func StringSlot(vs *VariableSet, name string, transient bool) Key[string] {
	return Slot[string](vs, name, transient)
}

func IntSlot(vs *VariableSet, name string, transient bool) Key[int] {
	return Slot[int](vs, name, transient)
}

func BoolSlot(vs *VariableSet, name string, transient bool) Key[bool] {
	return Slot[bool](vs, name, transient)
}

func ListSlot[T any](vs *VariableSet, name string, transient bool) Key[[]T] {
	return Slot[[]T](vs, name, transient)
}

// SetSlot models a set<T> as a map[T]struct{}, matching how the Go
// ecosystem represents sets without a dedicated container type.
func SetSlot[T comparable](vs *VariableSet, name string, transient bool) Key[map[T]struct{}] {
	return Slot[map[T]struct{}](vs, name, transient)
}

func MapSlot[K comparable, V any](vs *VariableSet, name string, transient bool) Key[map[K]V] {
	return Slot[map[K]V](vs, name, transient)
}

// TypeSlot is an alias of Slot, named to mirror the `type<T>()` factory in
// the configuration surface for arbitrary user types.
func TypeSlot[T any](vs *VariableSet, name string, transient bool) Key[T] {
	return Slot[T](vs, name, transient)
}

// SetInputSpec / SetOutputSpec attach the declarative shape specs used to
// validate seed contexts and to drive CountStepsToTerminal.
func (vs *VariableSet) SetInputSpec(spec *ShapeSpec) { vs.inputSpec = spec }
func (vs *VariableSet) SetOutputSpec(spec *ShapeSpec) { vs.outputSpec = spec }

func (vs *VariableSet) InputSpec() *ShapeSpec  { return vs.inputSpec }
func (vs *VariableSet) OutputSpec() *ShapeSpec { return vs.outputSpec }

// Keys returns all keys declared on vs, in declaration order.
func (vs *VariableSet) Keys() []AnyKey {
	out := make([]AnyKey, 0, len(vs.order))
	for _, name := range vs.order {
		out = append(out, vs.keysByName[name])
	}
	return out
}

// KeyNamed looks up a previously registered key by its declared name.
func (vs *VariableSet) KeyNamed(name string) (AnyKey, bool) {
	k, ok := vs.keysByName[name]
	return k, ok
}

// DeserializerFor returns the decoder registered for k's name.
func (vs *VariableSet) DeserializerFor(k AnyKey) (Deserializer, bool) {
	d, ok := vs.deserializers[k.Name()]
	return d, ok
}

// StructuralHash is a deterministic hash over the sorted, non-transient
// (unless includeTransients) keys' names, fully-qualified types and
// transience flags. It changes whenever a declaration's shape changes in
// a way that could break a previously-persisted value's decode, and is
// stable under mere reordering of the Slot(...) calls.
func (vs *VariableSet) StructuralHash(includeTransients bool) uint64 {
	names := make([]string, 0, len(vs.order))
	for _, name := range vs.order {
		k := vs.keysByName[name]
		if !includeTransients && k.Transient() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := newDigest()
	for _, name := range names {
		k := vs.keysByName[name]
		h.writeString(k.Name())
		h.writeString(k.typeTag().String())
		h.writeBool(k.Transient())
	}
	return h.sum()
}
