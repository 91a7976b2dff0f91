package fusion

import (
	"slices"

	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NotApplicableError is returned by Apply when the candidate can't be fused. The graph is left unchanged.
type NotApplicableError struct {
	Reason error
}

// Error implements the error interface.
func (e *NotApplicableError) Error() string { return "not applicable: " + e.Reason.Error() }

// Unwrap returns the reason.
func (e *NotApplicableError) Unwrap() error { return e.Reason }

func notApplicable(reason error) error { return &NotApplicableError{Reason: reason} }

// IsNotApplicable returns whether err, or any error it wraps, is a NotApplicableError.
func IsNotApplicable(err error) bool {
	var target *NotApplicableError
	return errors.As(err, &target)
}

// Apply replaces the nodes of the candidate with the fused node it describes, and returns the fused node id.
//
// The fused node's input slots are connected to Replacement.Inputs, the consumers (and graph output
// references) of each boundary output are moved to the mapped output of the fused node, and finally the
// matched nodes are removed.
//
// If engine is not nil the outputs of the fused node are inferred, and must be compatible with the
// boundary outputs they replace. Otherwise, the output descriptions are copied from the boundary outputs.
//
// Problems found before the graph is changed are returned as a NotApplicableError, with the graph
// unchanged. Any other error means the graph was left invalid.
func Apply(g *opgraph.Graph, engine *opgraph.Engine, candidate Candidate) (opgraph.NodeID, error) {
	repl, err := candidate.Replacement(g)
	if err != nil {
		return opgraph.InvalidNodeID, notApplicable(err)
	}
	internal := utils.SetWith(candidate.Nodes()...)
	boundaries := make([]opgraph.Port, len(repl.Outputs))
	for ii, mapping := range repl.Outputs {
		boundaries[ii] = mapping.Boundary
	}
	if hasExternalConsumers(g, internal, boundaries...) {
		return opgraph.InvalidNodeID, notApplicable(
			errors.New("an output of the matched nodes other than the boundary ones is used outside of them"))
	}
	for _, p := range repl.Inputs {
		if internal.Has(p.Node) {
			return opgraph.InvalidNodeID, notApplicable(errors.Errorf("input %s of the fused node is a matched node", p))
		}
	}
	if p, found := inputDependsOnBoundary(g, internal, repl); found {
		return opgraph.InvalidNodeID, notApplicable(
			errors.Errorf("input %s of the fused node depends on a replaced output, fusing would create a cycle", p))
	}
	registry := opgraph.DefaultRegistry()
	if engine != nil {
		registry = engine.Registry()
	}
	def, err := registry.Lookup(repl.Type)
	if err != nil {
		return opgraph.InvalidNodeID, notApplicable(err)
	}

	node, err := addFusedNode(g, engine, def, repl)
	if err != nil {
		return opgraph.InvalidNodeID, err
	}

	// From here on the graph is changed.
	for _, mapping := range repl.Outputs {
		if err = g.ReplaceAllUses(mapping.Boundary, node.OutputPort(mapping.Index)); err != nil {
			return node.ID(), err
		}
	}
	for id := range internal {
		for ii := range g.Node(id).NumInputs() {
			if err = g.Disconnect(id, ii); err != nil {
				return node.ID(), err
			}
		}
	}
	for _, id := range utils.Sorted(internal) {
		if err = g.RemoveNode(id); err != nil {
			return node.ID(), err
		}
	}
	if err = g.Validate(); err != nil {
		return node.ID(), errors.WithMessage(err, "graph invalid after fusion")
	}
	klog.V(2).Infof("fused %d nodes into %q (%s)", len(internal), node.Name, node.Type)
	return node.ID(), nil
}

// inputDependsOnBoundary returns the first input of the replacement whose producer is reachable from the
// consumers of a boundary output. Internal nodes are not followed: their only way out is through the
// boundaries.
func inputDependsOnBoundary(g *opgraph.Graph, internal utils.Set[opgraph.NodeID], repl *Replacement) (opgraph.Port, bool) {
	visited := utils.MakeSet[opgraph.NodeID]()
	var stack []opgraph.NodeID
	for _, mapping := range repl.Outputs {
		if slices.Contains(repl.Inputs, mapping.Boundary) {
			return mapping.Boundary, true
		}
		for _, ref := range g.Node(mapping.Boundary.Node).Consumers(mapping.Boundary.Index) {
			stack = append(stack, ref.Node)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if internal.Has(id) || visited.Has(id) {
			continue
		}
		visited.Insert(id)
		node := g.Node(id)
		for ii := range node.NumOutputs() {
			for _, ref := range node.Consumers(ii) {
				stack = append(stack, ref.Node)
			}
		}
	}
	for _, p := range repl.Inputs {
		if p.Ok() && visited.Has(p.Node) {
			return p, true
		}
	}
	return opgraph.Port{}, false
}

// addFusedNode creates the fused node, connects its inputs and sets its outputs. If anything fails the
// node is removed again and a NotApplicableError returned.
func addFusedNode(g *opgraph.Graph, engine *opgraph.Engine, def *opgraph.OpDef, repl *Replacement) (*opgraph.Node, error) {
	name := repl.Name
	if name == "" || g.NodeByName(name) != nil {
		name = g.UniqueName(repl.Type)
	}
	node, err := g.AddNode(def, name, repl.Attrs, nil)
	if err != nil {
		return nil, notApplicable(err)
	}
	reason := connectAndInfer(g, engine, node, repl)
	if reason == nil {
		return node, nil
	}
	for ii := range node.NumInputs() {
		if err = g.Disconnect(node.ID(), ii); err != nil {
			return nil, err
		}
	}
	if err = g.RemoveNode(node.ID()); err != nil {
		return nil, err
	}
	return nil, notApplicable(reason)
}

func connectAndInfer(g *opgraph.Graph, engine *opgraph.Engine, node *opgraph.Node, repl *Replacement) error {
	if len(repl.Inputs) > node.NumInputs() {
		return errors.Errorf("%d inputs given to %s, which has %d", len(repl.Inputs), repl.Type, node.NumInputs())
	}
	for ii, src := range repl.Inputs {
		if !src.Ok() {
			continue
		}
		if err := g.Connect(src, node.ID(), ii); err != nil {
			return err
		}
	}
	for _, mapping := range repl.Outputs {
		if mapping.Index < 0 || mapping.Index >= node.NumOutputs() {
			return errors.Errorf("output #%d of %s doesn't exist", mapping.Index, repl.Type)
		}
	}

	if engine == nil {
		for _, mapping := range repl.Outputs {
			boundary := g.Node(mapping.Boundary.Node).Output(mapping.Boundary.Index)
			if err := node.UpdateOutputDesc(node.Output(mapping.Index).Name, boundary.Desc); err != nil {
				return err
			}
		}
		return nil
	}
	if err := engine.InferNode(node); err != nil {
		return err
	}
	for _, mapping := range repl.Outputs {
		boundary := g.Node(mapping.Boundary.Node).Output(mapping.Boundary.Index).Desc
		fused := node.Output(mapping.Index)
		if !boundary.Ok() {
			continue
		}
		if boundary.DType() != fused.Desc.DType() || !boundary.Shape.Compatible(fused.Desc.Shape) {
			return errors.Errorf("fused output %q %s doesn't match the replaced output %s",
				fused.Name, fused.Desc.Shape, boundary.Shape)
		}
	}
	return nil
}
