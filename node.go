package opgraph

import (
	"fmt"
	"strings"

	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// NodeID is the stable handle of a node in its Graph. It is never reused, even after the node is removed.
type NodeID int

// InvalidNodeID is used for unconnected ports.
const InvalidNodeID NodeID = -1

// Port identifies one output of a node, the source of edges.
type Port struct {
	Node  NodeID
	Index int
}

// NoPort is the Port of an unconnected input slot, or of an absent optional input.
var NoPort = Port{Node: InvalidNodeID}

// Ok returns whether the port refers to a node.
func (p Port) Ok() bool { return p.Node != InvalidNodeID }

// String implements fmt.Stringer.
func (p Port) String() string {
	if !p.Ok() {
		return "<none>"
	}
	return fmt.Sprintf("#%d:%d", p.Node, p.Index)
}

// InputRef identifies one input slot of a node, the destination of an edge.
type InputRef struct {
	Node  NodeID
	Index int
}

// InputSlot is an input of a node.
type InputSlot struct {
	// Name of the slot. Slots of a dynamic group are named after the group with their index appended ("x0", "x1", ...).
	Name string

	// Desc of the tensor received. It is copied from the producer by the Engine, or set with Node.UpdateInputDesc
	// for unconnected inputs.
	Desc tensordesc.Desc

	// Src is the producer of the input, or NoPort.
	Src Port
}

// OutputSlot is an output of a node.
type OutputSlot struct {
	// Name of the slot.
	Name string

	// Desc of the tensor produced, written by shape inference.
	Desc tensordesc.Desc

	// consumers of the output, in the order they were connected.
	consumers []InputRef
}

// Node is one operator in a Graph, with its input and output slots and attributes.
//
// Nodes are created with Graph.AddNode (or a Builder) and owned by the graph.
type Node struct {
	graph *Graph
	id    NodeID

	// Name is unique within the graph.
	Name string

	// Type is the operator type tag, used to look up its definition in the Registry.
	Type optypes.OpType

	// Attrs are the attributes of the operator.
	Attrs attrs.Map

	// DynamicInputs and DynamicOutputs hold the number of slots of each dynamic group.
	DynamicInputs, DynamicOutputs map[string]int

	inputs  []*InputSlot
	outputs []*OutputSlot
}

// ID returns the stable handle of the node.
func (n *Node) ID() NodeID { return n.id }

// Graph returns the graph owning the node.
func (n *Node) Graph() *Graph { return n.graph }

// NumInputs returns the number of input slots.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NumOutputs returns the number of output slots.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Input returns the input slot at index i.
func (n *Node) Input(i int) *InputSlot { return n.inputs[i] }

// Output returns the output slot at index i.
func (n *Node) Output(i int) *OutputSlot { return n.outputs[i] }

// InputIndex returns the index of the named input slot, or -1 if there is none.
func (n *Node) InputIndex(name string) int {
	for ii, slot := range n.inputs {
		if slot.Name == name {
			return ii
		}
	}
	return -1
}

// OutputIndex returns the index of the named output slot, or -1 if there is none.
func (n *Node) OutputIndex(name string) int {
	for ii, slot := range n.outputs {
		if slot.Name == name {
			return ii
		}
	}
	return -1
}

// InputByName returns the named input slot, or nil.
func (n *Node) InputByName(name string) *InputSlot {
	if ii := n.InputIndex(name); ii >= 0 {
		return n.inputs[ii]
	}
	return nil
}

// OutputByName returns the named output slot, or nil.
func (n *Node) OutputByName(name string) *OutputSlot {
	if ii := n.OutputIndex(name); ii >= 0 {
		return n.outputs[ii]
	}
	return nil
}

// OutputPort returns the Port of the output at index i.
func (n *Node) OutputPort(i int) Port { return Port{Node: n.id, Index: i} }

// NamedOutputPort returns the Port of the named output, or NoPort if there is no such output.
func (n *Node) NamedOutputPort(name string) Port {
	if ii := n.OutputIndex(name); ii >= 0 {
		return n.OutputPort(ii)
	}
	return NoPort
}

// Producer returns the node connected to the input at index i, or nil if it is not connected.
func (n *Node) Producer(i int) *Node {
	src := n.inputs[i].Src
	if !src.Ok() {
		return nil
	}
	return n.graph.Node(src.Node)
}

// Consumers returns the input slots fed by the output at index i.
func (n *Node) Consumers(i int) []InputRef {
	return append([]InputRef(nil), n.outputs[i].consumers...)
}

// ConsumerNodes returns the nodes fed by the output at index i, in connection order.
// A node consuming the output in more than one slot is listed once per slot.
func (n *Node) ConsumerNodes(i int) []*Node {
	nodes := make([]*Node, 0, len(n.outputs[i].consumers))
	for _, ref := range n.outputs[i].consumers {
		nodes = append(nodes, n.graph.Node(ref.Node))
	}
	return nodes
}

// UpdateInputDesc sets the desc of the named input slot.
// For connected inputs it is overwritten with the producer's output when the graph is inferred.
func (n *Node) UpdateInputDesc(name string, desc tensordesc.Desc) error {
	slot := n.InputByName(name)
	if slot == nil {
		return errors.Errorf("node %q (%s) has no input named %q", n.Name, n.Type, name)
	}
	slot.Desc = desc.Clone()
	return nil
}

// UpdateOutputDesc sets the desc of the named output slot.
func (n *Node) UpdateOutputDesc(name string, desc tensordesc.Desc) error {
	slot := n.OutputByName(name)
	if slot == nil {
		return errors.Errorf("node %q (%s) has no output named %q", n.Name, n.Type, name)
	}
	slot.Desc = desc.Clone()
	return nil
}

// SetAttr sets (or replaces) an attribute.
func (n *Node) SetAttr(name string, value attrs.Value) {
	n.Attrs.Set(name, value)
}

// pullInputDescs copies the output desc of each producer into the connected input slots.
func (n *Node) pullInputDescs() {
	for _, slot := range n.inputs {
		if !slot.Src.Ok() {
			continue
		}
		producer := n.graph.Node(slot.Src.Node)
		slot.Desc = producer.outputs[slot.Src.Index].Desc.Clone()
	}
}

// String implements fmt.Stringer, with one line per input and output.
func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s = %s", n.id, n.Name, n.Type)
	if n.Attrs.Len() > 0 {
		sb.WriteString(n.Attrs.String())
	}
	for _, slot := range n.inputs {
		fmt.Fprintf(&sb, "\n  in  %s <- %s: %s", slot.Name, slot.Src, slot.Desc)
	}
	for _, slot := range n.outputs {
		fmt.Fprintf(&sb, "\n  out %s: %s", slot.Name, slot.Desc)
		if len(slot.consumers) > 0 {
			fmt.Fprintf(&sb, " -> %v", slot.consumers)
		}
	}
	return sb.String()
}
