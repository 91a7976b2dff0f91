package opgraph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/tensordesc"
)

// Builder is used to construct a Graph declaratively. See Build.
//
// Builder methods panic (with exceptions.Panicf) on misuse, like unknown op types, duplicate names or
// wrong number of inputs: Build converts the panic back to an error.
//
// Shapes are not inferred while building: run Engine.InferGraph on the result.
type Builder struct {
	g        *Graph
	registry *Registry
}

// NewBuilder creates a Builder for a new graph, using the slot definitions of registry.
// If registry is nil, DefaultRegistry is used.
func NewBuilder(name string, registry *Registry) *Builder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Builder{g: NewGraph(name), registry: registry}
}

// Build creates a graph named name by calling fn with a Builder, using the built-in operators.
// Any panic raised by the builder (or fn) is returned as an error.
func Build(name string, fn func(b *Builder)) (g *Graph, err error) {
	b := NewBuilder(name, nil)
	err = exceptions.TryCatch[error](func() { fn(b) })
	if err != nil {
		return nil, err
	}
	return b.g, nil
}

// Graph being built.
func (b *Builder) Graph() *Graph { return b.g }

// Attrs creates an attrs.Map from name/value pairs (see attrs.NewMap), panicking on invalid values.
func Attrs(pairs ...any) attrs.Map {
	m, err := attrs.NewMap(pairs...)
	if err != nil {
		exceptions.Panicf("Attrs: %v", err)
	}
	return m
}

// Data adds a graph input with the given desc. If name is empty a unique one is generated.
func (b *Builder) Data(name string, desc tensordesc.Desc) Port {
	if !desc.Ok() {
		exceptions.Panicf("Builder.Data(%q): invalid desc", name)
	}
	if err := desc.Check(); err != nil {
		exceptions.Panicf("Builder.Data(%q): %v", name, err)
	}
	node := b.Op(optypes.Data, name, attrs.Map{})
	node.outputs[0].Desc = desc.Clone()
	return node.OutputPort(0)
}

// Const adds a constant node with the given value.
func (b *Builder) Const(name string, value *literal.Literal) Port {
	if value == nil {
		exceptions.Panicf("Builder.Const(%q): nil value", name)
	}
	return b.Op(optypes.Const, name, Attrs(AttrValue, value)).OutputPort(0)
}

// Op adds a node of type opType, connecting inputs to its input slots in order.
//
// If the op has a dynamic input group, it takes all the inputs not assigned to the other slots.
// Trailing optional inputs can be omitted, and NoPort leaves an optional input unconnected.
// If name is empty a unique one is generated.
func (b *Builder) Op(opType optypes.OpType, name string, nodeAttrs attrs.Map, inputs ...Port) *Node {
	def, err := b.registry.Lookup(opType)
	if err != nil {
		exceptions.Panicf("Builder.Op(%s, %q): %v", opType, name, err)
	}
	if name == "" {
		name = b.g.UniqueName(opType)
	}

	// Assign inputs to slot definitions.
	numFixed, dynamicGroup := 0, ""
	for _, slotDef := range def.Inputs {
		if slotDef.Dynamic {
			if dynamicGroup != "" {
				exceptions.Panicf("Builder.Op(%s, %q): ops with more than one dynamic input group must be created with Graph.AddNode",
					opType, name)
			}
			dynamicGroup = slotDef.Name
			continue
		}
		numFixed++
	}
	dynamicCounts := make(map[string]int)
	if dynamicGroup != "" {
		dynamicCounts[dynamicGroup] = max(len(inputs)-numFixed, 0)
	} else if len(inputs) > numFixed {
		exceptions.Panicf("Builder.Op(%s, %q): %d inputs given, but the op has only %d inputs", opType, name, len(inputs), numFixed)
	}

	node, err := b.g.AddNode(def, name, nodeAttrs, dynamicCounts)
	if err != nil {
		exceptions.Panicf("Builder.Op: %v", err)
	}
	for ii, src := range inputs {
		if !src.Ok() {
			if slotDef := def.Input(node.inputs[ii].Name); slotDef == nil || !slotDef.Optional {
				exceptions.Panicf("Builder.Op(%s, %q): required input %q cannot be NoPort", opType, name, node.inputs[ii].Name)
			}
			continue
		}
		if err = b.g.Connect(src, node.id, ii); err != nil {
			exceptions.Panicf("Builder.Op(%s, %q): %v", opType, name, err)
		}
	}
	for ii := len(inputs); ii < node.NumInputs(); ii++ {
		slotDef := def.Input(node.inputs[ii].Name)
		if slotDef == nil || !slotDef.Optional {
			exceptions.Panicf("Builder.Op(%s, %q): missing required input %q", opType, name, node.inputs[ii].Name)
		}
	}
	return node
}

// Output sets the graph outputs.
func (b *Builder) Output(ports ...Port) {
	if err := b.g.SetOutputs(ports...); err != nil {
		exceptions.Panicf("Builder.Output: %v", err)
	}
}
