package opgraph

import (
	"slices"

	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/pkg/errors"
)

// SlotDef declares an input or output slot of an operator.
type SlotDef struct {
	Name string

	// Optional inputs may be left unconnected with an unset desc.
	Optional bool

	// Dynamic slots are a variadic group: a node gets any number of them, named Name with the index appended.
	Dynamic bool
}

// AttrDef declares an attribute of an operator.
type AttrDef struct {
	Name string
	Kind attrs.Kind

	// Required attributes must be set on every node, checked by Engine.VerifyNode.
	Required bool

	// Default value used when the attribute is not set. Ignored for required attributes.
	Default attrs.Value
}

// InferFunc computes the output descs of a node from its input descs and attributes.
type InferFunc func(ctx *InferContext) error

// VerifyFunc checks the attribute invariants of a node that go beyond the attribute kinds: enumerated
// values, list lengths, consistency between attributes and inputs.
type VerifyFunc func(ctx *InferContext) error

// OpDef is the definition of an operator type.
type OpDef struct {
	Type    optypes.OpType
	Inputs  []SlotDef
	Outputs []SlotDef
	Attrs   []AttrDef

	Infer  InferFunc
	Verify VerifyFunc
}

// Attr returns the definition of the named attribute, or nil.
func (def *OpDef) Attr(name string) *AttrDef {
	for ii := range def.Attrs {
		if def.Attrs[ii].Name == name {
			return &def.Attrs[ii]
		}
	}
	return nil
}

// Input returns the definition of the named input slot (or dynamic group), or nil.
func (def *OpDef) Input(name string) *SlotDef {
	for ii := range def.Inputs {
		if def.Inputs[ii].Name == name {
			return &def.Inputs[ii]
		}
	}
	return nil
}

// Registry maps operator types to their definitions.
//
// A Registry is populated once and then only read: it is safe to share a populated Registry among
// engines and goroutines.
type Registry struct {
	defs map[optypes.OpType]*OpDef
}

// NewRegistry returns an empty registry. See DefaultRegistry for one with the built-in operators.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[optypes.OpType]*OpDef)}
}

// Register an operator definition. It fails if the type is already registered or the definition is
// incomplete.
func (r *Registry) Register(def *OpDef) error {
	if def == nil || def.Type == optypes.Invalid {
		return errors.New("Registry.Register: definition without an op type")
	}
	if def.Infer == nil {
		return errors.Errorf("Registry.Register(%s): missing inference function", def.Type)
	}
	if _, found := r.defs[def.Type]; found {
		return errors.Errorf("Registry.Register(%s): op type already registered", def.Type)
	}
	for _, attrDef := range def.Attrs {
		if !attrDef.Required && attrDef.Default.Ok() && attrDef.Default.Kind() != attrDef.Kind {
			return errors.Errorf("Registry.Register(%s): attribute %q of kind %s has a default of kind %s",
				def.Type, attrDef.Name, attrDef.Kind, attrDef.Default.Kind())
		}
	}
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition of an operator type, or an error if it is not registered.
func (r *Registry) Lookup(opType optypes.OpType) (*OpDef, error) {
	def, found := r.defs[opType]
	if !found {
		return nil, errors.Errorf("op type %q is not registered", opType)
	}
	return def, nil
}

// Types returns the registered op types, sorted.
func (r *Registry) Types() []optypes.OpType {
	types := make([]optypes.OpType, 0, len(r.defs))
	for opType := range r.defs {
		types = append(types, opType)
	}
	slices.Sort(types)
	return types
}

// DefaultRegistry returns a new registry with all the built-in operators.
// Each call returns a fresh registry, which can be extended without affecting others.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range builtinOpDefs() {
		if err := r.Register(def); err != nil {
			// Built-in definitions are static.
			panic(err)
		}
	}
	return r
}
