package opgraph

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine runs shape inference and attribute verification over graphs, using the operator definitions
// of a Registry.
type Engine struct {
	registry *Registry
	verify   bool
}

// NewEngine creates an engine for the operators in registry. If registry is nil, DefaultRegistry is used.
func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{registry: registry}
}

// WithVerify configures InferGraph to verify the attributes of each node before inferring it.
// It returns the engine, so configuration calls can be chained.
func (e *Engine) WithVerify(verify bool) *Engine {
	e.verify = verify
	return e
}

// Registry used by the engine.
func (e *Engine) Registry() *Registry { return e.registry }

// InferReport summarizes an InferGraph run.
type InferReport struct {
	// Visited lists the nodes inferred, in order.
	Visited []NodeID

	// Dynamic counts the outputs with a dynamic shape (unknown dimensions or rank) after inference.
	Dynamic int
}

// InferNode computes the output descs of node from its input descs and attributes. The descs of connected
// inputs are first copied from their producers' outputs.
//
// Outputs are only updated if inference succeeds: on error the node keeps its previous output descs.
func (e *Engine) InferNode(node *Node) error {
	def, err := e.registry.Lookup(node.Type)
	if err != nil {
		return errors.WithMessagef(err, "node %q", node.Name)
	}
	node.pullInputDescs()
	ctx := newInferContext(node, def)
	if err = ctx.checkRequiredInputs(); err != nil {
		return err
	}
	if err = def.Infer(ctx); err != nil {
		return errors.WithMessagef(err, "inferring node %q (%s)", node.Name, node.Type)
	}
	for ii, out := range node.outputs {
		staged, found := ctx.staged[ii]
		if !found {
			return errors.Errorf("inferring node %q (%s): output %q was not set", node.Name, node.Type, out.Name)
		}
		if err = staged.Check(); err != nil {
			return errors.WithMessagef(err, "inferring node %q (%s): invalid output %q", node.Name, node.Type, out.Name)
		}
	}
	for ii, out := range node.outputs {
		out.Desc = ctx.staged[ii]
	}
	if klog.V(2).Enabled() {
		for _, out := range node.outputs {
			klog.Infof("  %s (%s) %s: %s", node.Name, node.Type, out.Name, out.Desc)
		}
	}
	return nil
}

// InferGraph infers every node of the graph in topological order, so the output descs of the producers
// are propagated to the input slots of their consumers.
//
// It stops at the first node that fails: nodes visited before keep their new descs, the others are untouched.
func (e *Engine) InferGraph(g *Graph) (*InferReport, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("inferring graph %q: %d nodes", g.Name, len(order))
	report := &InferReport{}
	for _, node := range order {
		if e.verify {
			if err = e.VerifyNode(node); err != nil {
				return report, err
			}
		}
		if err = e.InferNode(node); err != nil {
			return report, err
		}
		report.Visited = append(report.Visited, node.id)
		for _, out := range node.outputs {
			if out.Desc.Shape.IsDynamic() {
				report.Dynamic++
			}
		}
	}
	klog.V(1).Infof("graph %q inferred: %d dynamic outputs", g.Name, report.Dynamic)
	return report, nil
}

// VerifyNode checks the node attributes against its op definition: required attributes are set, attribute
// kinds match, and the op specific invariants hold.
func (e *Engine) VerifyNode(node *Node) error {
	def, err := e.registry.Lookup(node.Type)
	if err != nil {
		return errors.WithMessagef(err, "node %q", node.Name)
	}
	node.pullInputDescs()
	for _, attrDef := range def.Attrs {
		v, found := node.Attrs.Get(attrDef.Name)
		if !found {
			if attrDef.Required {
				return errors.Errorf("node %q (%s): missing required attribute %q", node.Name, node.Type, attrDef.Name)
			}
			continue
		}
		if !kindCompatible(attrDef.Kind, v.Kind()) {
			return errors.Errorf("node %q (%s): attribute %q must be of kind %s, got %s", node.Name, node.Type,
				attrDef.Name, attrDef.Kind, v.Kind())
		}
	}
	if def.Verify == nil {
		return nil
	}
	if err = def.Verify(newInferContext(node, def)); err != nil {
		return errors.WithMessagef(err, "verifying node %q (%s)", node.Name, node.Type)
	}
	return nil
}

// VerifyGraph runs VerifyNode on every node and returns the first error.
func (e *Engine) VerifyGraph(g *Graph) error {
	for _, node := range g.Nodes() {
		if err := e.VerifyNode(node); err != nil {
			return err
		}
	}
	return nil
}

// kindCompatible accepts the promotions done by the attrs.Value accessors.
func kindCompatible(want, got attrs.Kind) bool {
	switch {
	case want == got:
		return true
	case want == attrs.KindFloat && got == attrs.KindInt:
		return true
	case want == attrs.KindFloats && got == attrs.KindInts:
		return true
	case want == attrs.KindDType && got == attrs.KindString:
		return true
	}
	return false
}

// InferContext is the view of a node given to inference and verification functions.
type InferContext struct {
	Node *Node
	Def  *OpDef

	staged map[int]tensordesc.Desc
}

func newInferContext(node *Node, def *OpDef) *InferContext {
	return &InferContext{Node: node, Def: def, staged: make(map[int]tensordesc.Desc)}
}

func (ctx *InferContext) errorf(format string, args ...any) error {
	return errors.WithMessagef(errors.Errorf(format, args...), "node %q (%s)", ctx.Node.Name, ctx.Node.Type)
}

// checkRequiredInputs returns an error if a non-optional input has no desc.
func (ctx *InferContext) checkRequiredInputs() error {
	for _, slotDef := range ctx.Def.Inputs {
		if slotDef.Optional || slotDef.Dynamic {
			continue
		}
		slot := ctx.Node.InputByName(slotDef.Name)
		if slot == nil || !slot.Desc.Ok() {
			return ctx.errorf("required input %q is not set", slotDef.Name)
		}
	}
	return nil
}

// Input returns a copy of the desc of the named input. It panics if the slot doesn't exist, which means
// the inference function doesn't match the op definition.
func (ctx *InferContext) Input(name string) tensordesc.Desc {
	slot := ctx.Node.InputByName(name)
	if slot == nil {
		panic(errors.Errorf("op %s has no input %q", ctx.Node.Type, name))
	}
	return slot.Desc.Clone()
}

// OptionalInput returns a copy of the desc of the named input, and whether it is set.
func (ctx *InferContext) OptionalInput(name string) (tensordesc.Desc, bool) {
	desc := ctx.Input(name)
	return desc, desc.Ok()
}

// DynamicInputs returns copies of the descs of the dynamic input group.
func (ctx *InferContext) DynamicInputs(name string) []tensordesc.Desc {
	count := ctx.Node.DynamicInputs[name]
	descs := make([]tensordesc.Desc, count)
	for ii := range count {
		descs[ii] = ctx.Input(dynamicSlotName(name, ii))
	}
	return descs
}

// InputValue returns the constant value of the named input, or nil if it is not known.
func (ctx *InferContext) InputValue(name string) *literal.Literal {
	slot := ctx.Node.InputByName(name)
	if slot == nil {
		return nil
	}
	return slot.Desc.Value
}

// attr returns the attribute value, or its declared default.
func (ctx *InferContext) attr(name string) (attrs.Value, error) {
	if v, found := ctx.Node.Attrs.Get(name); found {
		return v, nil
	}
	if attrDef := ctx.Def.Attr(name); attrDef != nil && attrDef.Default.Ok() {
		return attrDef.Default, nil
	}
	return attrs.Value{}, ctx.errorf("attribute %q not set", name)
}

// HasAttr returns whether the attribute is set on the node, or has a default.
func (ctx *InferContext) HasAttr(name string) bool {
	_, err := ctx.attr(name)
	return err == nil
}

// AttrInt returns an int attribute, or its default.
func (ctx *InferContext) AttrInt(name string) (int, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	return i, errors.WithMessagef(err, "attribute %q", name)
}

// AttrInts returns an int list attribute, or its default.
func (ctx *InferContext) AttrInts(name string) ([]int, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return nil, err
	}
	ints, err := v.AsInts()
	return ints, errors.WithMessagef(err, "attribute %q", name)
}

// AttrFloat returns a float attribute, or its default.
func (ctx *InferContext) AttrFloat(name string) (float64, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat()
	return f, errors.WithMessagef(err, "attribute %q", name)
}

// AttrBool returns a bool attribute, or its default.
func (ctx *InferContext) AttrBool(name string) (bool, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	return b, errors.WithMessagef(err, "attribute %q", name)
}

// AttrString returns a string attribute, or its default.
func (ctx *InferContext) AttrString(name string) (string, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	return s, errors.WithMessagef(err, "attribute %q", name)
}

// AttrDType returns a dtype attribute, or its default.
func (ctx *InferContext) AttrDType(name string) (dtypes.DType, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	dtype, err := v.AsDType()
	return dtype, errors.WithMessagef(err, "attribute %q", name)
}

// AttrLiteral returns a literal attribute.
func (ctx *InferContext) AttrLiteral(name string) (*literal.Literal, error) {
	v, err := ctx.attr(name)
	if err != nil {
		return nil, err
	}
	l, err := v.AsLiteral()
	return l, errors.WithMessagef(err, "attribute %q", name)
}

// SetOutput stages the desc of the named output. It is committed to the node once inference succeeds.
func (ctx *InferContext) SetOutput(name string, desc tensordesc.Desc) error {
	idx := ctx.Node.OutputIndex(name)
	if idx < 0 {
		return ctx.errorf("no output named %q", name)
	}
	ctx.staged[idx] = desc.Clone()
	return nil
}
