package fusion

import (
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/pkg/errors"
)

// DenseFusionPass fuses MatMul -> [BiasAdd|Add(1-D bias)] -> [Relu|Gelu] into FusedDense. At least one of
// the bias or the activation must be present.
type DenseFusionPass struct{}

// Name implements Pass.
func (DenseFusionPass) Name() string { return "DenseFusionPass" }

type denseCandidate struct {
	matMul, biasAdd, activation *opgraph.Node
	bias                        opgraph.Port
}

var denseActivations = map[optypes.OpType]string{
	optypes.Relu: "relu",
	optypes.Gelu: "gelu",
}

// Detect implements Pass.
func (DenseFusionPass) Detect(g *opgraph.Graph) []Candidate {
	var candidates []Candidate
	for _, matMul := range g.Nodes() {
		if matMul.Type != optypes.MatMul && matMul.Type != optypes.MatMulV2 {
			continue
		}
		if matMul.InputByName("bias").Src.Ok() {
			continue
		}
		c := &denseCandidate{matMul: matMul, bias: opgraph.NoPort}
		current := matMul.OutputPort(0)
		if add, _ := soleConsumerOfType(g, current, optypes.BiasAdd, optypes.Add); add != nil {
			if bias, ok := denseBias(g, add, current); ok {
				c.biasAdd, c.bias = add, bias
				current = add.OutputPort(0)
			}
		}
		if activation, _ := soleConsumerOfType(g, current, optypes.Relu, optypes.Gelu); activation != nil {
			c.activation = activation
			current = activation.OutputPort(0)
		}
		if c.biasAdd == nil && c.activation == nil {
			continue
		}
		if hasExternalConsumers(g, utils.SetWith(c.Nodes()...), current) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// denseBias returns the bias added to the matmul output y by add, if it is a 1-D tensor added over
// the last axis.
func denseBias(g *opgraph.Graph, add *opgraph.Node, y opgraph.Port) (opgraph.Port, bool) {
	bias, ok := otherInput(add, y)
	if !ok {
		return opgraph.NoPort, false
	}
	if add.Type == optypes.BiasAdd {
		if add.Input(0).Src != y {
			return opgraph.NoPort, false
		}
		if format, err := add.Attrs.GetString(opgraph.AttrDataFormat); err == nil && format == "NCHW" &&
			portDesc(g, y).Shape.Rank() != 2 {
			return opgraph.NoPort, false
		}
	}
	desc := portDesc(g, bias)
	if !desc.Ok() || desc.Shape.IsUnknownRank() || desc.Shape.Rank() != 1 {
		return opgraph.NoPort, false
	}
	return bias, true
}

func (c *denseCandidate) Nodes() []opgraph.NodeID { return nodeIDs(c.matMul, c.biasAdd, c.activation) }

func (c *denseCandidate) last() *opgraph.Node {
	if c.activation != nil {
		return c.activation
	}
	return c.biasAdd
}

func (c *denseCandidate) Check(g *opgraph.Graph) error {
	x := portDesc(g, c.matMul.Input(0).Src)
	if !x.Shape.IsUnknownRank() && x.Shape.Rank() != 2 {
		return errors.Errorf("FusedDense requires a 2D input, got %s", x.Shape)
	}
	return nil
}

func (c *denseCandidate) Replacement(*opgraph.Graph) (*Replacement, error) {
	last := c.last()
	repl := &Replacement{
		Type:    optypes.FusedDense,
		Name:    last.Name + "_dense",
		Inputs:  []opgraph.Port{c.matMul.Input(0).Src, c.matMul.Input(1).Src, c.bias},
		Outputs: []OutputMapping{{Boundary: last.OutputPort(0), Index: 0}},
	}
	copyAttrs(&repl.Attrs, c.matMul, opgraph.AttrTransposeX1, opgraph.AttrTransposeX2)
	activation := ""
	if c.activation != nil {
		activation = denseActivations[c.activation.Type]
	}
	repl.Attrs.Set(opgraph.AttrActivation, attrs.String(activation))
	return repl, nil
}
