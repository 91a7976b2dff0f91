// Package fusion implements graph fusion passes: each pass detects subgraphs matching a pattern of
// operators and, when applicable, replaces each of them with a single fused operator node.
//
// A pass that finds nothing to fuse, or whose matches are not applicable, is not an error: the graph is
// left untouched and the Report says why. Only a rewrite that would corrupt the graph structure is an error.
package fusion

import (
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/attrs"
)

// Status is the outcome of running a pass over a graph.
type Status int

const (
	// NoMatch means the pass didn't find its pattern.
	NoMatch Status = iota

	// NotApplicable means the pattern was found, but none of the matches could be fused.
	NotApplicable

	// Rewritten means at least one match was fused.
	Rewritten

	// Failed means a rewrite left the graph invalid. RunPass also returns an error.
	Failed
)

var statusNames = []string{"NoMatch", "NotApplicable", "Rewritten", "Failed"}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Status(?)"
	}
	return statusNames[s]
}

// Pass detects the candidates for fusion in a graph.
type Pass interface {
	// Name identifies the pass in a PassManager.
	Name() string

	// Detect returns the matches of the pass pattern. It must not change the graph.
	Detect(g *opgraph.Graph) []Candidate
}

// Candidate is a matched subgraph that may be replaced by a fused node.
type Candidate interface {
	// Nodes returns the matched nodes, all of which are removed if the candidate is fused.
	Nodes() []opgraph.NodeID

	// Check returns nil if the candidate can be fused, or the reason why it can't.
	Check(g *opgraph.Graph) error

	// Replacement describes the fused node. It is called right before the rewrite, so it should
	// read the ports from the graph at that time.
	Replacement(g *opgraph.Graph) (*Replacement, error)
}

// OutputMapping moves the consumers of a boundary output of the matched subgraph to an output of the
// fused node.
type OutputMapping struct {
	Boundary opgraph.Port
	Index    int
}

// Replacement describes the fused node replacing a Candidate.
type Replacement struct {
	Type  optypes.OpType
	Name  string
	Attrs attrs.Map

	// Inputs are connected to the input slots of the fused node in order. NoPort leaves an optional
	// input unconnected.
	Inputs []opgraph.Port

	Outputs []OutputMapping
}

// Report of running one pass over a graph.
type Report struct {
	Pass   string
	Status Status

	// Candidates found by the pass, and how many were Rewritten.
	Candidates, Rewritten int

	NodesBefore, NodesAfter int

	// Fused lists the nodes created.
	Fused []opgraph.NodeID

	// Reasons why candidates were not fused.
	Reasons []string
}

// Fired returns whether the pass changed the graph.
func (r *Report) Fired() bool { return r.Status == Rewritten }

// soleConsumer returns the only consumer of p and the input slot it uses, or nil if p has zero or
// more than one consumer, or is a graph output.
func soleConsumer(g *opgraph.Graph, p opgraph.Port) (*opgraph.Node, int) {
	producer := g.Node(p.Node)
	if producer == nil {
		return nil, -1
	}
	refs := producer.Consumers(p.Index)
	if len(refs) != 1 || isGraphOutput(g, p) {
		return nil, -1
	}
	return g.Node(refs[0].Node), refs[0].Index
}

// soleConsumerOfType is like soleConsumer, but returns nil if the consumer is not of one of the given types.
func soleConsumerOfType(g *opgraph.Graph, p opgraph.Port, opTypes ...optypes.OpType) (*opgraph.Node, int) {
	consumer, idx := soleConsumer(g, p)
	if consumer == nil {
		return nil, -1
	}
	for _, opType := range opTypes {
		if consumer.Type == opType {
			return consumer, idx
		}
	}
	return nil, -1
}

func isGraphOutput(g *opgraph.Graph, p opgraph.Port) bool {
	for _, out := range g.Outputs() {
		if out == p {
			return true
		}
	}
	return false
}

// otherInput returns the source of the input of a two-input node that is not known.
func otherInput(node *opgraph.Node, known opgraph.Port) (opgraph.Port, bool) {
	if node.NumInputs() != 2 {
		return opgraph.NoPort, false
	}
	a, b := node.Input(0).Src, node.Input(1).Src
	switch known {
	case a:
		return b, b.Ok()
	case b:
		return a, a.Ok()
	}
	return opgraph.NoPort, false
}

// hasExternalConsumers returns whether any output of the internal nodes, other than the boundary
// outputs, feeds a node outside of the group or is a graph output.
func hasExternalConsumers(g *opgraph.Graph, internal utils.Set[opgraph.NodeID], boundaries ...opgraph.Port) bool {
	boundarySet := utils.SetWith(boundaries...)
	for id := range internal {
		node := g.Node(id)
		if node == nil {
			return true
		}
		for ii := range node.NumOutputs() {
			p := node.OutputPort(ii)
			if boundarySet.Has(p) {
				continue
			}
			if isGraphOutput(g, p) {
				return true
			}
			for _, ref := range node.Consumers(ii) {
				if !internal.Has(ref.Node) {
					return true
				}
			}
		}
	}
	return false
}

// constScalar returns the value of p if its producer is a Const holding a single number.
func constScalar(g *opgraph.Graph, p opgraph.Port) (float64, bool) {
	producer := g.Node(p.Node)
	if producer == nil || producer.Type != optypes.Const {
		return 0, false
	}
	v, found := producer.Attrs.Get(opgraph.AttrValue)
	if !found {
		return 0, false
	}
	l, err := v.AsLiteral()
	if err != nil || l.Size() != 1 {
		return 0, false
	}
	value, err := l.ScalarFloat()
	if err != nil {
		return 0, false
	}
	return value, true
}

// copyAttrs copies the named attributes set on node into m.
func copyAttrs(m *attrs.Map, node *opgraph.Node, names ...string) {
	for _, name := range names {
		if v, found := node.Attrs.Get(name); found {
			m.Set(name, v)
		}
	}
}

// nodeIDs returns the ids of the non-nil nodes.
func nodeIDs(nodes ...*opgraph.Node) []opgraph.NodeID {
	ids := make([]opgraph.NodeID, 0, len(nodes))
	for _, node := range nodes {
		if node != nil {
			ids = append(ids, node.ID())
		}
	}
	return ids
}
