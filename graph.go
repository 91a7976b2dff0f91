package opgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/pkg/errors"
)

// Graph is a directed acyclic graph of operator nodes.
//
// Nodes live in an arena indexed by NodeID: removing a node leaves a hole, so the IDs of the remaining nodes
// are stable across rewrites. Edges are stored on both ends, in the consumer's InputSlot and in the
// producer's OutputSlot.
//
// A Graph is not safe for concurrent use: inference and fusion passes mutate it in place.
type Graph struct {
	// Name of the graph, informative only.
	Name string

	nodes   []*Node
	byName  map[string]NodeID
	outputs []Port

	// nextAutoName counts names generated by UniqueName.
	nextAutoName int
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{Name: name, byName: make(map[string]NodeID)}
}

// AddNode creates a node with the slots declared by def, all inputs unconnected.
//
// The name must be unique in the graph. dynamicCounts gives the number of slots of each dynamic input or
// output group of def; groups not listed get zero slots.
func (g *Graph) AddNode(def *OpDef, name string, nodeAttrs attrs.Map, dynamicCounts map[string]int) (*Node, error) {
	if def == nil {
		return nil, errors.Errorf("AddNode(%q): nil op definition", name)
	}
	if name == "" {
		return nil, errors.Errorf("AddNode(%s): empty node name", def.Type)
	}
	if _, found := g.byName[name]; found {
		return nil, errors.Errorf("AddNode(%s): a node named %q already exists in graph %q", def.Type, name, g.Name)
	}
	node := &Node{
		graph:          g,
		id:             NodeID(len(g.nodes)),
		Name:           name,
		Type:           def.Type,
		Attrs:          nodeAttrs.Clone(),
		DynamicInputs:  make(map[string]int),
		DynamicOutputs: make(map[string]int),
	}
	for _, slotDef := range def.Inputs {
		if !slotDef.Dynamic {
			node.inputs = append(node.inputs, &InputSlot{Name: slotDef.Name, Src: NoPort})
			continue
		}
		count := dynamicCounts[slotDef.Name]
		if count < 0 {
			return nil, errors.Errorf("AddNode(%s, %q): negative count %d for dynamic input %q", def.Type, name, count, slotDef.Name)
		}
		node.DynamicInputs[slotDef.Name] = count
		for ii := range count {
			node.inputs = append(node.inputs, &InputSlot{Name: dynamicSlotName(slotDef.Name, ii), Src: NoPort})
		}
	}
	for _, slotDef := range def.Outputs {
		if !slotDef.Dynamic {
			node.outputs = append(node.outputs, &OutputSlot{Name: slotDef.Name})
			continue
		}
		count := dynamicCounts[slotDef.Name]
		if count < 0 {
			return nil, errors.Errorf("AddNode(%s, %q): negative count %d for dynamic output %q", def.Type, name, count, slotDef.Name)
		}
		node.DynamicOutputs[slotDef.Name] = count
		for ii := range count {
			node.outputs = append(node.outputs, &OutputSlot{Name: dynamicSlotName(slotDef.Name, ii)})
		}
	}
	g.nodes = append(g.nodes, node)
	g.byName[name] = node.id
	return node, nil
}

// dynamicSlotName returns the name of slot ii of a dynamic group.
func dynamicSlotName(group string, ii int) string {
	return fmt.Sprintf("%s%d", group, ii)
}

// UniqueName returns a node name not yet used in the graph, derived from the op type (e.g. "batch_mat_mul_3").
func (g *Graph) UniqueName(opType optypes.OpType) string {
	prefix := utils.ToSnakeCase(opType.String())
	for {
		name := fmt.Sprintf("%s_%d", prefix, g.nextAutoName)
		g.nextAutoName++
		if _, found := g.byName[name]; !found {
			return name
		}
	}
}

// Node returns the node with the given id, or nil if it doesn't exist or was removed.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeByName returns the node with the given name, or nil.
func (g *Graph) NodeByName(name string) *Node {
	id, found := g.byName[name]
	if !found {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns the live nodes in insertion order. See TopologicalOrder for an execution order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.byName))
	for _, node := range g.nodes {
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int { return len(g.byName) }

// FindByType returns the live nodes of the given type, in insertion order.
func (g *Graph) FindByType(opType optypes.OpType) []*Node {
	var found []*Node
	for _, node := range g.nodes {
		if node != nil && node.Type == opType {
			found = append(found, node)
		}
	}
	return found
}

// HasType returns whether any live node has the given type.
func (g *Graph) HasType(opType optypes.OpType) bool {
	return len(g.FindByType(opType)) > 0
}

func (g *Graph) checkPort(p Port) (*Node, error) {
	node := g.Node(p.Node)
	if node == nil {
		return nil, errors.Errorf("port %s refers to a missing node", p)
	}
	if p.Index < 0 || p.Index >= len(node.outputs) {
		return nil, errors.Errorf("port %s out of range, node %q has %d outputs", p, node.Name, len(node.outputs))
	}
	return node, nil
}

// Connect the output src to the input slot inputIdx of dst.
// The slot must not be connected already: Disconnect it first.
func (g *Graph) Connect(src Port, dst NodeID, inputIdx int) error {
	producer, err := g.checkPort(src)
	if err != nil {
		return errors.WithMessage(err, "Connect")
	}
	consumer := g.Node(dst)
	if consumer == nil {
		return errors.Errorf("Connect: destination node #%d doesn't exist", dst)
	}
	if inputIdx < 0 || inputIdx >= len(consumer.inputs) {
		return errors.Errorf("Connect: input #%d out of range, node %q has %d inputs", inputIdx, consumer.Name, len(consumer.inputs))
	}
	slot := consumer.inputs[inputIdx]
	if slot.Src.Ok() {
		return errors.Errorf("Connect: input %q of node %q is already connected to %s", slot.Name, consumer.Name, slot.Src)
	}
	slot.Src = src
	out := producer.outputs[src.Index]
	out.consumers = append(out.consumers, InputRef{Node: dst, Index: inputIdx})
	return nil
}

// ConnectByName is like Connect, but addresses the destination input slot by name.
func (g *Graph) ConnectByName(src Port, dst NodeID, inputName string) error {
	consumer := g.Node(dst)
	if consumer == nil {
		return errors.Errorf("ConnectByName: destination node #%d doesn't exist", dst)
	}
	inputIdx := consumer.InputIndex(inputName)
	if inputIdx < 0 {
		return errors.Errorf("ConnectByName: node %q (%s) has no input named %q", consumer.Name, consumer.Type, inputName)
	}
	return g.Connect(src, dst, inputIdx)
}

// Disconnect the input slot inputIdx of node dst. It is a no-op if the slot is not connected.
func (g *Graph) Disconnect(dst NodeID, inputIdx int) error {
	consumer := g.Node(dst)
	if consumer == nil {
		return errors.Errorf("Disconnect: node #%d doesn't exist", dst)
	}
	if inputIdx < 0 || inputIdx >= len(consumer.inputs) {
		return errors.Errorf("Disconnect: input #%d out of range, node %q has %d inputs", inputIdx, consumer.Name, len(consumer.inputs))
	}
	slot := consumer.inputs[inputIdx]
	if !slot.Src.Ok() {
		return nil
	}
	producer, err := g.checkPort(slot.Src)
	if err != nil {
		return errors.WithMessagef(err, "Disconnect(%q, %q)", consumer.Name, slot.Name)
	}
	out := producer.outputs[slot.Src.Index]
	ref := InputRef{Node: dst, Index: inputIdx}
	out.consumers = slices.DeleteFunc(out.consumers, func(r InputRef) bool { return r == ref })
	slot.Src = NoPort
	return nil
}

// ReplaceAllUses moves every consumer of the output from, and every graph output referring to it, to the
// output to.
func (g *Graph) ReplaceAllUses(from, to Port) error {
	if from == to {
		return nil
	}
	fromNode, err := g.checkPort(from)
	if err != nil {
		return errors.WithMessage(err, "ReplaceAllUses")
	}
	if _, err = g.checkPort(to); err != nil {
		return errors.WithMessage(err, "ReplaceAllUses")
	}
	for _, ref := range fromNode.Consumers(from.Index) {
		if err = g.Disconnect(ref.Node, ref.Index); err != nil {
			return err
		}
		if err = g.Connect(to, ref.Node, ref.Index); err != nil {
			return err
		}
	}
	for ii, out := range g.outputs {
		if out == from {
			g.outputs[ii] = to
		}
	}
	return nil
}

// RemoveNode disconnects the inputs of the node and removes it from the graph.
//
// It fails if any of its outputs still has consumers or is a graph output.
func (g *Graph) RemoveNode(id NodeID) error {
	node := g.Node(id)
	if node == nil {
		return errors.Errorf("RemoveNode: node #%d doesn't exist", id)
	}
	for ii, out := range node.outputs {
		if len(out.consumers) > 0 {
			return errors.Errorf("RemoveNode(%q): output %q still feeds %d consumers", node.Name, out.Name, len(out.consumers))
		}
		if slices.Contains(g.outputs, node.OutputPort(ii)) {
			return errors.Errorf("RemoveNode(%q): output %q is a graph output", node.Name, out.Name)
		}
	}
	for ii := range node.inputs {
		if err := g.Disconnect(id, ii); err != nil {
			return err
		}
	}
	g.nodes[id] = nil
	delete(g.byName, node.Name)
	return nil
}

// SetOutputs sets the graph outputs.
func (g *Graph) SetOutputs(ports ...Port) error {
	for _, p := range ports {
		if _, err := g.checkPort(p); err != nil {
			return errors.WithMessage(err, "SetOutputs")
		}
	}
	g.outputs = slices.Clone(ports)
	return nil
}

// Outputs returns the graph outputs.
func (g *Graph) Outputs() []Port { return slices.Clone(g.outputs) }

// TopologicalOrder returns the live nodes ordered so that every producer comes before its consumers.
// Ties are broken by NodeID, so the order is deterministic.
//
// It returns an error if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	pending := make(map[NodeID]int, len(g.byName))
	var ready []NodeID
	for _, node := range g.nodes {
		if node == nil {
			continue
		}
		count := 0
		for _, slot := range node.inputs {
			if slot.Src.Ok() {
				count++
			}
		}
		pending[node.id] = count
		if count == 0 {
			ready = append(ready, node.id)
		}
	}

	order := make([]*Node, 0, len(g.byName))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		node := g.nodes[id]
		order = append(order, node)
		var released []NodeID
		for _, out := range node.outputs {
			for _, ref := range out.consumers {
				pending[ref.Node]--
				if pending[ref.Node] == 0 {
					released = append(released, ref.Node)
				}
			}
		}
		slices.Sort(released)
		ready = append(ready, released...)
	}
	if len(order) != len(g.byName) {
		var stuck []string
		for id, count := range pending {
			if count > 0 {
				stuck = append(stuck, g.nodes[id].Name)
			}
		}
		slices.Sort(stuck)
		return nil, errors.Errorf("graph %q has a cycle involving nodes %v", g.Name, stuck)
	}
	return order, nil
}

// Validate checks the structural invariants of the graph: both ends of every edge agree, no edge refers
// to a removed node, graph outputs are live, connected inputs have the dtype of their producers (once both
// are known), and the graph is acyclic.
func (g *Graph) Validate() error {
	for _, node := range g.nodes {
		if node == nil {
			continue
		}
		for ii, slot := range node.inputs {
			if !slot.Src.Ok() {
				continue
			}
			producer, err := g.checkPort(slot.Src)
			if err != nil {
				return errors.WithMessagef(err, "node %q input %q", node.Name, slot.Name)
			}
			out := producer.outputs[slot.Src.Index]
			if !slices.Contains(out.consumers, InputRef{Node: node.id, Index: ii}) {
				return errors.Errorf("edge %s -> %q:%q is missing from the producer's consumers", slot.Src, node.Name, slot.Name)
			}
			if out.Desc.Ok() && slot.Desc.Ok() && out.Desc.DType() != slot.Desc.DType() {
				return errors.Errorf("node %q input %q has dtype %s, but its producer %q output %q has dtype %s",
					node.Name, slot.Name, slot.Desc.DType(), producer.Name, out.Name, out.Desc.DType())
			}
		}
		for ii, out := range node.outputs {
			for _, ref := range out.consumers {
				consumer := g.Node(ref.Node)
				if consumer == nil {
					return errors.Errorf("node %q output %q feeds the removed node #%d", node.Name, out.Name, ref.Node)
				}
				if ref.Index < 0 || ref.Index >= len(consumer.inputs) || consumer.inputs[ref.Index].Src != node.OutputPort(ii) {
					return errors.Errorf("edge %q:%q -> %q input #%d is missing from the consumer", node.Name, out.Name, consumer.Name, ref.Index)
				}
			}
		}
	}
	for _, p := range g.outputs {
		if _, err := g.checkPort(p); err != nil {
			return errors.WithMessage(err, "graph output")
		}
	}
	_, err := g.TopologicalOrder()
	return err
}

// String dumps the graph in topological order (or insertion order if it has a cycle).
// Two graphs with the same structure and descriptors print the same.
func (g *Graph) String() string {
	nodes, err := g.TopologicalOrder()
	if err != nil {
		nodes = g.Nodes()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s {\n", g.Name)
	for _, node := range nodes {
		for _, line := range strings.Split(node.String(), "\n") {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}
	fmt.Fprintf(&sb, "  outputs: %v\n}\n", g.outputs)
	return sb.String()
}
