package fusion

import (
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/shapeinference"
	"github.com/pkg/errors"
)

// checkAttnHeadNum returns nil if the attn_head_num attribute of node is set, positive and divides
// the hidden dimension of the given input.
func checkAttnHeadNum(g *opgraph.Graph, node *opgraph.Node, inputName string) error {
	if g.Node(node.ID()) != node {
		return errors.Errorf("node %q was removed", node.Name)
	}
	headNum, err := node.Attrs.GetInt(opgraph.AttrAttnHeadNum)
	if err != nil {
		return errors.WithMessagef(err, "node %q", node.Name)
	}
	src := node.InputByName(inputName).Src
	producer := g.Node(src.Node)
	if producer == nil {
		return errors.Errorf("input %q of node %q is not connected", inputName, node.Name)
	}
	if err = shapeinference.CheckHeadNum(producer.Output(src.Index).Desc, headNum); err != nil {
		return errors.WithMessagef(err, "node %q", node.Name)
	}
	return nil
}

// MultiHeadAttentionFusionPass fuses MultiHeadAttention followed by the residual Add of its query and a
// LayerNorm into MultiHeadAttentionLayerNorm.
type MultiHeadAttentionFusionPass struct{}

// Name implements Pass.
func (MultiHeadAttentionFusionPass) Name() string { return "MultiHeadAttentionFusionPass" }

type mhaCandidate struct {
	mha, add, layerNorm *opgraph.Node
}

// Detect implements Pass.
func (MultiHeadAttentionFusionPass) Detect(g *opgraph.Graph) []Candidate {
	var candidates []Candidate
	for _, mha := range g.FindByType(optypes.MultiHeadAttention) {
		y := mha.NamedOutputPort("y")
		add, _ := soleConsumerOfType(g, y, optypes.Add)
		if add == nil {
			continue
		}
		residual, ok := otherInput(add, y)
		if !ok || residual != mha.InputByName("query").Src {
			continue
		}
		layerNorm, idx := soleConsumerOfType(g, add.OutputPort(0), optypes.LayerNorm)
		if layerNorm == nil || idx != layerNorm.InputIndex("x") {
			continue
		}
		c := &mhaCandidate{mha: mha, add: add, layerNorm: layerNorm}
		internal := utils.SetWith(c.Nodes()...)
		if hasExternalConsumers(g, internal, c.boundaries()...) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func (c *mhaCandidate) Nodes() []opgraph.NodeID { return nodeIDs(c.mha, c.add, c.layerNorm) }

func (c *mhaCandidate) boundaries() []opgraph.Port {
	return []opgraph.Port{c.layerNorm.OutputPort(0), c.layerNorm.OutputPort(1), c.layerNorm.OutputPort(2),
		c.mha.NamedOutputPort("attention_probs")}
}

func (c *mhaCandidate) Check(g *opgraph.Graph) error {
	return checkAttnHeadNum(g, c.mha, "query")
}

func (c *mhaCandidate) Replacement(*opgraph.Graph) (*Replacement, error) {
	repl := &Replacement{
		Type: optypes.MultiHeadAttentionLayerNorm,
		Name: c.layerNorm.Name + "_mha",
		Inputs: []opgraph.Port{
			c.mha.InputByName("query").Src, c.mha.InputByName("key").Src, c.mha.InputByName("value").Src,
			c.layerNorm.InputByName("gamma").Src, c.layerNorm.InputByName("beta").Src,
		},
	}
	copyAttrs(&repl.Attrs, c.mha, opgraph.AttrAttnHeadNum, opgraph.AttrKeepProb)
	copyAttrs(&repl.Attrs, c.layerNorm, opgraph.AttrBeginNormAxis, opgraph.AttrBeginParamAxis, opgraph.AttrEpsilon)
	for ii, boundary := range c.boundaries() {
		repl.Outputs = append(repl.Outputs, OutputMapping{Boundary: boundary, Index: ii})
	}
	return repl, nil
}

// MultiHeadAttentionGradFusionPass fuses a MultiHeadAttentionGrad of a self-attention (query, key and
// value are the same tensor), whose three gradients are summed by one AddN, into SelfAttentionGrad.
type MultiHeadAttentionGradFusionPass struct{}

// Name implements Pass.
func (MultiHeadAttentionGradFusionPass) Name() string { return "MultiHeadAttentionGradFusionPass" }

type mhaGradCandidate struct {
	grad, addN *opgraph.Node
}

// Detect implements Pass.
func (MultiHeadAttentionGradFusionPass) Detect(g *opgraph.Graph) []Candidate {
	var candidates []Candidate
	for _, grad := range g.FindByType(optypes.MultiHeadAttentionGrad) {
		x := grad.InputByName("query").Src
		if !x.Ok() || grad.InputByName("key").Src != x || grad.InputByName("value").Src != x {
			continue
		}
		var addN *opgraph.Node
		matched := true
		for ii := range grad.NumOutputs() {
			consumer, _ := soleConsumerOfType(g, grad.OutputPort(ii), optypes.AddN)
			if consumer == nil || (addN != nil && consumer != addN) {
				matched = false
				break
			}
			addN = consumer
		}
		if !matched || addN == nil || addN.NumInputs() != grad.NumOutputs() {
			continue
		}
		c := &mhaGradCandidate{grad: grad, addN: addN}
		if hasExternalConsumers(g, utils.SetWith(c.Nodes()...), addN.OutputPort(0)) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func (c *mhaGradCandidate) Nodes() []opgraph.NodeID { return nodeIDs(c.grad, c.addN) }

func (c *mhaGradCandidate) Check(g *opgraph.Graph) error {
	return checkAttnHeadNum(g, c.grad, "query")
}

func (c *mhaGradCandidate) Replacement(*opgraph.Graph) (*Replacement, error) {
	repl := &Replacement{
		Type:    optypes.SelfAttentionGrad,
		Name:    c.grad.Name + "_self",
		Inputs:  []opgraph.Port{c.grad.InputByName("query").Src, c.grad.InputByName("dy").Src},
		Outputs: []OutputMapping{{Boundary: c.addN.OutputPort(0), Index: 0}},
	}
	copyAttrs(&repl.Attrs, c.grad, opgraph.AttrAttnHeadNum, opgraph.AttrKeepProb)
	return repl, nil
}
