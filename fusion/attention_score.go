package fusion

import (
	"slices"

	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// AttentionScoreFusionPass fuses the scaled dot-product attention subgraph
//
//	BatchMatMul(Q, K^T) -> Mul|RealDiv(scalar const) -> [Add(mask)] -> Softmax(-1) -> [Dropout] -> BatchMatMul(., V)
//
// into AttentionScore, with the BNSD layout. K^T is either the adj_x2 flag of the first BatchMatMul or
// a TransposeD swapping the last two axes of K.
type AttentionScoreFusionPass struct{}

// Name implements Pass.
func (AttentionScoreFusionPass) Name() string { return "AttentionScoreFusionPass" }

type attentionScoreCandidate struct {
	transpose *opgraph.Node // Optional.
	scoresMM  *opgraph.Node
	scale     *opgraph.Node
	maskAdd   *opgraph.Node // Optional.
	softmax   *opgraph.Node
	dropout   *opgraph.Node // Optional.
	outputMM  *opgraph.Node

	query, key, value, mask opgraph.Port
	scaleValue              float64
}

// boolAttr returns the value of a boolean attribute, false if not set.
func boolAttr(node *opgraph.Node, name string) bool {
	v, err := node.Attrs.GetBool(name)
	return err == nil && v
}

// portDesc returns the description of the tensor at p.
func portDesc(g *opgraph.Graph, p opgraph.Port) tensordesc.Desc {
	producer := g.Node(p.Node)
	if producer == nil || p.Index < 0 || p.Index >= producer.NumOutputs() {
		return tensordesc.Desc{}
	}
	return producer.Output(p.Index).Desc
}

// Detect implements Pass.
func (AttentionScoreFusionPass) Detect(g *opgraph.Graph) []Candidate {
	var candidates []Candidate
	for _, scoresMM := range g.FindByType(optypes.BatchMatMul) {
		c := matchAttentionScore(g, scoresMM)
		if c == nil {
			continue
		}
		if hasExternalConsumers(g, utils.SetWith(c.Nodes()...), c.outputMM.OutputPort(0)) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// matchAttentionScore matches the pattern starting at the BatchMatMul computing the attention scores.
func matchAttentionScore(g *opgraph.Graph, scoresMM *opgraph.Node) *attentionScoreCandidate {
	if boolAttr(scoresMM, "adj_x1") {
		return nil
	}
	c := &attentionScoreCandidate{scoresMM: scoresMM, query: scoresMM.Input(0).Src, mask: opgraph.NoPort}
	if !c.query.Ok() || !c.matchKey(g) {
		return nil
	}

	// Scale.
	scores := scoresMM.OutputPort(0)
	scale, idx := soleConsumerOfType(g, scores, optypes.Mul, optypes.RealDiv)
	if scale == nil {
		return nil
	}
	factorPort, _ := otherInput(scale, scores)
	factor, ok := constScalar(g, factorPort)
	if !ok {
		return nil
	}
	if scale.Type == optypes.RealDiv {
		if idx != 0 || factor == 0 {
			return nil
		}
		factor = 1 / factor
	}
	c.scale, c.scaleValue = scale, factor
	current := scale.OutputPort(0)

	// Optional mask.
	if add, _ := soleConsumerOfType(g, current, optypes.Add); add != nil {
		mask, ok := otherInput(add, current)
		maskDesc := portDesc(g, mask)
		if !ok || !maskDesc.Ok() || maskDesc.Shape.IsUnknownRank() || maskDesc.Shape.Rank() > 4 {
			return nil
		}
		c.maskAdd, c.mask = add, mask
		current = add.OutputPort(0)
	}

	// Softmax over the last axis.
	softmax, _ := soleConsumerOfType(g, current, optypes.Softmax)
	if softmax == nil || !lastAxisOnly(softmax, portDesc(g, current)) {
		return nil
	}
	c.softmax = softmax
	current = softmax.OutputPort(0)

	// Optional dropout: its mask output must be unused.
	if dropout, _ := soleConsumerOfType(g, current, optypes.Dropout); dropout != nil {
		c.dropout = dropout
		current = dropout.NamedOutputPort("y")
	}

	outputMM, idx := soleConsumerOfType(g, current, optypes.BatchMatMul)
	if outputMM == nil || idx != 0 || boolAttr(outputMM, "adj_x1") || boolAttr(outputMM, "adj_x2") {
		return nil
	}
	c.outputMM, c.value = outputMM, outputMM.Input(1).Src
	if !c.value.Ok() {
		return nil
	}
	return c
}

// matchKey sets the key from the second input of the scores BatchMatMul, which must be transposed.
func (c *attentionScoreCandidate) matchKey(g *opgraph.Graph) bool {
	keyT := c.scoresMM.Input(1).Src
	if !keyT.Ok() {
		return false
	}
	if boolAttr(c.scoresMM, "adj_x2") {
		c.key = keyT
		return true
	}
	transpose := g.Node(keyT.Node)
	if transpose == nil || transpose.Type != optypes.TransposeD {
		return false
	}
	perm, err := transpose.Attrs.GetInts("perm")
	if err != nil || !swapsLastTwoAxes(perm) {
		return false
	}
	c.key = transpose.Input(0).Src
	if consumer, _ := soleConsumer(g, keyT); consumer == c.scoresMM {
		c.transpose = transpose
	}
	return c.key.Ok()
}

func swapsLastTwoAxes(perm []int) bool {
	rank := len(perm)
	if rank < 2 {
		return false
	}
	for ii := range rank - 2 {
		if perm[ii] != ii {
			return false
		}
	}
	return perm[rank-2] == rank-1 && perm[rank-1] == rank-2
}

// lastAxisOnly returns whether the Softmax normalizes only over the last axis of x.
func lastAxisOnly(softmax *opgraph.Node, x tensordesc.Desc) bool {
	axes := []int{-1}
	if softmax.Attrs.Has(opgraph.AttrAxes) {
		var err error
		if axes, err = softmax.Attrs.GetInts(opgraph.AttrAxes); err != nil {
			return false
		}
	}
	if len(axes) != 1 {
		return false
	}
	return axes[0] == -1 || (!x.Shape.IsUnknownRank() && axes[0] == x.Shape.Rank()-1)
}

func (c *attentionScoreCandidate) Nodes() []opgraph.NodeID {
	return nodeIDs(c.transpose, c.scoresMM, c.scale, c.maskAdd, c.softmax, c.dropout, c.outputMM)
}

func (c *attentionScoreCandidate) Check(g *opgraph.Graph) error {
	if slices.ContainsFunc(c.Nodes(), func(id opgraph.NodeID) bool { return g.Node(id) == nil }) {
		return errors.New("matched nodes were removed")
	}
	query := portDesc(g, c.query)
	if query.Shape.IsUnknownRank() || query.Shape.Rank() != 4 {
		return errors.Errorf("AttentionScore requires a query of rank 4 (BNSD), got %s", query.Shape)
	}
	if query.Shape.Dim(1) < 0 || query.Shape.Dim(3) < 0 {
		return errors.Errorf("AttentionScore requires a static number of heads and head dimension, got query %s",
			query.Shape)
	}
	return nil
}

func (c *attentionScoreCandidate) Replacement(g *opgraph.Graph) (*Replacement, error) {
	repl := &Replacement{
		Type:    optypes.AttentionScore,
		Name:    c.outputMM.Name + "_attention",
		Inputs:  []opgraph.Port{c.query, c.key, c.value, c.mask},
		Outputs: []OutputMapping{{Boundary: c.outputMM.OutputPort(0), Index: 0}},
	}
	repl.Attrs.Set(opgraph.AttrScaleValue, attrs.Float(c.scaleValue))
	if c.dropout != nil {
		copyAttrs(&repl.Attrs, c.dropout, opgraph.AttrKeepProb)
	}
	repl.Attrs.Set(opgraph.AttrHeadNum, attrs.Int(portDesc(g, c.query).Shape.Dim(1)))
	repl.Attrs.Set(opgraph.AttrInputLayout, attrs.String("BNSD"))
	return repl, nil
}
