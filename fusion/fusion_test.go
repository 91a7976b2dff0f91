package fusion

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/graphtest"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outputDesc(g *opgraph.Graph, p opgraph.Port) tensordesc.Desc {
	return g.Node(p.Node).Output(p.Index).Desc
}

func checkShape(t *testing.T, desc tensordesc.Desc, dims ...int) {
	t.Helper()
	want := shapes.Make(dtypes.Float32, dims...)
	assert.Truef(t, want.Equal(desc.Shape), "expected shape %s, got %s", want, desc.Shape)
}

func TestMultiHeadAttentionFusionPass(t *testing.T) {
	for _, headNum := range []int{16, -1, 17} {
		t.Run(fmt.Sprintf("head_num=%d", headNum), func(t *testing.T) {
			g := graphtest.MultiHeadAttentionLayerNorm(headNum)
			before, numNodes := g.String(), g.NumNodes()
			report, err := DefaultPassManager().RunPass("MultiHeadAttentionFusionPass", g)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Candidates)
			assert.Equal(t, numNodes, report.NodesBefore)

			if headNum != 16 {
				// Not applicable: the graph is left untouched.
				assert.Equal(t, NotApplicable, report.Status)
				assert.False(t, report.Fired())
				assert.Len(t, report.Reasons, 1)
				assert.True(t, g.HasType(optypes.MultiHeadAttention))
				assert.Equal(t, before, g.String())
				assert.Equal(t, numNodes, report.NodesAfter)
				return
			}

			assert.Equal(t, Rewritten, report.Status)
			assert.True(t, report.Fired())
			assert.False(t, g.HasType(optypes.MultiHeadAttention))
			assert.False(t, g.HasType(optypes.LayerNorm))
			fused := g.FindByType(optypes.MultiHeadAttentionLayerNorm)
			require.Len(t, fused, 1)
			assert.Equal(t, []opgraph.NodeID{fused[0].ID()}, report.Fused)
			// MultiHeadAttention, Add and LayerNorm replaced by one node.
			assert.Equal(t, numNodes-2, g.NumNodes())
			assert.Equal(t, numNodes-2, report.NodesAfter)
			assert.Equal(t, 16, must.M1(fused[0].Attrs.GetInt(opgraph.AttrAttnHeadNum)))

			outputs := g.Outputs()
			require.Len(t, outputs, 2)
			for _, p := range outputs {
				assert.Equal(t, fused[0].ID(), p.Node)
			}
			checkShape(t, outputDesc(g, outputs[0]), 2, 128, 1024)
			checkShape(t, outputDesc(g, outputs[1]), 2, 16, 128, 128)
			require.NoError(t, g.Validate())
		})
	}
}

// mhaWithDependentGamma builds MultiHeadAttention -> Add -> LayerNorm where the LayerNorm gamma is
// computed from the attention probabilities: fusing it would make the fused node consume its own output.
func mhaWithDependentGamma() *opgraph.Graph {
	g := must.M1(opgraph.Build("dependent_gamma", func(b *opgraph.Builder) {
		desc := tensordesc.Make(dtypes.Float32, graphtest.Batch, graphtest.SeqLen, graphtest.Hidden)
		q, k, v := b.Data("query", desc), b.Data("key", desc), b.Data("value", desc)
		mha := b.MultiHeadAttention(q, k, v, 16)
		probs := mha.NamedOutputPort("attention_probs")
		axes := b.Const("axes", must.M1(literal.FromFlat([]int32{0, 1, 2}, 3)))
		parts := make([]opgraph.Port, graphtest.Hidden/graphtest.SeqLen)
		for ii := range parts {
			parts[ii] = b.ReduceSum(probs, axes, false)
		}
		gamma := b.ConcatV2(b.Const("concat_dim", literal.Scalar(int32(0))), parts...)
		beta := b.Data("beta", tensordesc.Make(dtypes.Float32, graphtest.Hidden))
		ln := b.LayerNorm(b.Add(mha.NamedOutputPort("y"), q), gamma, beta, -1, -1)
		b.Output(ln.NamedOutputPort("y"), probs)
	}))
	must.M1(opgraph.NewEngine(nil).InferGraph(g))
	return g
}

func TestMultiHeadAttentionFusionPass_InputDependsOnOutput(t *testing.T) {
	g := mhaWithDependentGamma()
	checkShape(t, outputDesc(g, g.FindByType(optypes.ConcatV2)[0].OutputPort(0)), graphtest.Hidden)
	before, numNodes := g.String(), g.NumNodes()
	report, err := DefaultPassManager().RunPass("MultiHeadAttentionFusionPass", g)
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, report.Status)
	assert.Equal(t, 1, report.Candidates)
	require.Len(t, report.Reasons, 1)
	assert.Contains(t, report.Reasons[0], "cycle")
	assert.Equal(t, numNodes, report.NodesAfter)
	assert.Equal(t, before, g.String())
	assert.True(t, g.HasType(optypes.MultiHeadAttention))
	require.NoError(t, g.Validate())
}

func TestMultiHeadAttentionGradFusionPass(t *testing.T) {
	for _, headNum := range []int{16, -1, 17} {
		t.Run(fmt.Sprintf("head_num=%d", headNum), func(t *testing.T) {
			g := graphtest.SelfAttentionGrad(headNum)
			before, numNodes := g.String(), g.NumNodes()
			report := must.M1(DefaultPassManager().RunPass("MultiHeadAttentionGradFusionPass", g))
			if headNum != 16 {
				assert.Equal(t, NotApplicable, report.Status)
				assert.True(t, g.HasType(optypes.MultiHeadAttentionGrad))
				assert.Equal(t, before, g.String())
				return
			}
			assert.Equal(t, Rewritten, report.Status)
			assert.False(t, g.HasType(optypes.MultiHeadAttentionGrad))
			assert.False(t, g.HasType(optypes.AddN))
			assert.Equal(t, numNodes-1, g.NumNodes())
			fused := g.FindByType(optypes.SelfAttentionGrad)
			require.Len(t, fused, 1)
			assert.Equal(t, "x", g.Node(fused[0].InputByName("x").Src.Node).Name)
			assert.Equal(t, "dy", g.Node(fused[0].InputByName("dy").Src.Node).Name)
			checkShape(t, outputDesc(g, g.Outputs()[0]), 2, 128, 1024)
		})
	}

	t.Run("not self-attention", func(t *testing.T) {
		g := must.M1(opgraph.Build(t.Name(), func(b *opgraph.Builder) {
			desc := tensordesc.Make(dtypes.Float32, 2, 128, 1024)
			x, y, dy := b.Data("x", desc), b.Data("y", desc), b.Data("dy", desc)
			grad := b.MultiHeadAttentionGrad(x, y, y, dy, 16)
			b.Output(b.AddN(grad.OutputPort(0), grad.OutputPort(1), grad.OutputPort(2)))
		}))
		must.M1(opgraph.NewEngine(nil).InferGraph(g))
		report := must.M1(DefaultPassManager().RunPass("MultiHeadAttentionGradFusionPass", g))
		assert.Equal(t, NoMatch, report.Status)
		assert.Zero(t, report.Candidates)
	})
}

func TestAttentionScoreFusionPass(t *testing.T) {
	testCases := []struct {
		name    string
		opts    graphtest.AttentionScoreOptions
		matched int
	}{
		{"adj_x2", graphtest.AttentionScoreOptions{Heads: 16}, 4},
		{"transposed key", graphtest.AttentionScoreOptions{Heads: 16, TransposeKey: true}, 5},
		{"divide with mask", graphtest.AttentionScoreOptions{Heads: 16, Divide: true, Mask: true}, 5},
		{"all", graphtest.AttentionScoreOptions{Heads: 16, TransposeKey: true, Mask: true, Dropout: true}, 7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := graphtest.AttentionScore(tc.opts)
			numNodes := g.NumNodes()
			report := must.M1(DefaultPassManager().RunPass("AttentionScoreFusionPass", g))
			require.Equal(t, Rewritten, report.Status, "reasons: %v", report.Reasons)
			assert.Equal(t, numNodes-tc.matched+1, g.NumNodes())
			assert.False(t, g.HasType(optypes.BatchMatMul))
			assert.False(t, g.HasType(optypes.Softmax))
			assert.False(t, g.HasType(optypes.TransposeD))

			fused := g.FindByType(optypes.AttentionScore)
			require.Len(t, fused, 1)
			node := fused[0]
			assert.InDelta(t, 0.125, must.M1(node.Attrs.GetFloat(opgraph.AttrScaleValue)), 1e-9)
			assert.Equal(t, 16, must.M1(node.Attrs.GetInt(opgraph.AttrHeadNum)))
			assert.Equal(t, "BNSD", must.M1(node.Attrs.GetString(opgraph.AttrInputLayout)))
			if tc.opts.Dropout {
				assert.InDelta(t, 0.9, must.M1(node.Attrs.GetFloat(opgraph.AttrKeepProb)), 1e-9)
			}
			assert.Equal(t, "key", g.Node(node.InputByName("key").Src.Node).Name)
			assert.Equal(t, tc.opts.Mask, node.InputByName("atten_mask").Src.Ok())
			checkShape(t, outputDesc(g, g.Outputs()[0]), 2, 16, 128, 64)
		})
	}

	t.Run("dynamic heads", func(t *testing.T) {
		g := graphtest.AttentionScore(graphtest.AttentionScoreOptions{Heads: -1})
		before := g.String()
		report := must.M1(DefaultPassManager().RunPass("AttentionScoreFusionPass", g))
		assert.Equal(t, NotApplicable, report.Status)
		assert.Equal(t, before, g.String())
	})
}

func TestDenseFusionPass(t *testing.T) {
	testCases := []struct {
		bias       bool
		activation string
		status     Status
	}{
		{true, "relu", Rewritten},
		{true, "", Rewritten},
		{false, "gelu", Rewritten},
		{false, "", NoMatch},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("bias=%v,activation=%q", tc.bias, tc.activation), func(t *testing.T) {
			g := graphtest.Dense(tc.bias, tc.activation)
			report := must.M1(DefaultPassManager().RunPass("DenseFusionPass", g))
			require.Equal(t, tc.status, report.Status)
			if tc.status != Rewritten {
				assert.True(t, g.HasType(optypes.MatMulV2))
				return
			}
			assert.False(t, g.HasType(optypes.MatMulV2))
			fused := g.FindByType(optypes.FusedDense)
			require.Len(t, fused, 1)
			assert.Equal(t, tc.activation, must.M1(fused[0].Attrs.GetString(opgraph.AttrActivation)))
			assert.Equal(t, tc.bias, fused[0].InputByName("bias").Src.Ok())
			checkShape(t, outputDesc(g, g.Outputs()[0]), 4, 16)
		})
	}

	t.Run("matmul output used outside", func(t *testing.T) {
		g := must.M1(opgraph.Build(t.Name(), func(b *opgraph.Builder) {
			y := b.MatMul(b.Data("x", tensordesc.Make(dtypes.Float32, 4, 8)), b.Data("w", tensordesc.Make(dtypes.Float32, 8, 16)),
				false, false)
			b.Output(b.BiasAdd(y, b.Data("bias", tensordesc.Make(dtypes.Float32, 16)), "NHWC"), y)
		}))
		must.M1(opgraph.NewEngine(nil).InferGraph(g))
		report := must.M1(DefaultPassManager().RunPass("DenseFusionPass", g))
		assert.Equal(t, NoMatch, report.Status)
	})
}

func TestPassManager(t *testing.T) {
	pm := DefaultPassManager()
	assert.Equal(t, []string{"AttentionScoreFusionPass", "MultiHeadAttentionFusionPass",
		"MultiHeadAttentionGradFusionPass", "DenseFusionPass"}, pm.Passes())
	assert.Panics(t, func() { pm.Register(DenseFusionPass{}) })

	g := graphtest.MultiHeadAttentionLayerNorm(16)
	_, err := pm.RunPass("NoSuchPass", g)
	require.ErrorContains(t, err, "unknown fusion pass")

	reports, err := pm.RunAll(g)
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for ii, report := range reports {
		if report.Pass == "MultiHeadAttentionFusionPass" {
			assert.Equal(t, Rewritten, report.Status)
		} else {
			assert.Equalf(t, NoMatch, report.Status, "pass #%d %s", ii, report.Pass)
		}
	}

	// A second run finds nothing.
	reports = must.M1(pm.RunAll(g))
	for _, report := range reports {
		assert.Equal(t, NoMatch, report.Status)
	}
}

// doubledPass returns every candidate of its pass twice.
type doubledPass struct {
	Pass
}

func (p doubledPass) Name() string { return "doubled" }

func (p doubledPass) Detect(g *opgraph.Graph) []Candidate {
	candidates := p.Pass.Detect(g)
	return append(candidates, candidates...)
}

func TestOverlappingCandidates(t *testing.T) {
	g := graphtest.Dense(true, "relu")
	pm := NewPassManager(nil).Register(doubledPass{DenseFusionPass{}})
	report := must.M1(pm.RunPass("doubled", g))
	assert.Equal(t, Rewritten, report.Status)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Rewritten)
	require.Len(t, report.Reasons, 1)
	assert.Contains(t, report.Reasons[0], "overlaps")
	require.NoError(t, g.Validate())
}

// corruptingCandidate replaces a Relu with an Identity, but changes the dtype seen by the Relu's
// consumer while building the replacement, so the graph is invalid after the rewrite.
type corruptingCandidate struct {
	relu, neg *opgraph.Node
}

func (c *corruptingCandidate) Nodes() []opgraph.NodeID    { return []opgraph.NodeID{c.relu.ID()} }
func (c *corruptingCandidate) Check(*opgraph.Graph) error { return nil }

func (c *corruptingCandidate) Replacement(*opgraph.Graph) (*Replacement, error) {
	if err := c.neg.UpdateInputDesc("x", tensordesc.Make(dtypes.Int32, 4, 8)); err != nil {
		return nil, err
	}
	return &Replacement{
		Type:    optypes.Identity,
		Inputs:  []opgraph.Port{c.relu.Input(0).Src},
		Outputs: []OutputMapping{{Boundary: c.relu.OutputPort(0), Index: 0}},
	}, nil
}

type corruptingPass struct{}

func (corruptingPass) Name() string { return "corrupting" }

func (corruptingPass) Detect(g *opgraph.Graph) []Candidate {
	return []Candidate{&corruptingCandidate{relu: g.FindByType(optypes.Relu)[0], neg: g.FindByType(optypes.Neg)[0]}}
}

func TestRunPass_InvalidGraph(t *testing.T) {
	g := must.M1(opgraph.Build("invalid", func(b *opgraph.Builder) {
		b.Output(b.Neg(b.Relu(b.Data("x", tensordesc.Make(dtypes.Float32, 4, 8)))))
	}))
	must.M1(opgraph.NewEngine(nil).InferGraph(g))
	report, err := NewPassManager(nil).Register(corruptingPass{}).RunPass("corrupting", g)
	require.ErrorContains(t, err, "graph invalid after fusion")
	require.NotNil(t, report)
	assert.Equal(t, Failed, report.Status)
	assert.Equal(t, "Failed", report.Status.String())
	assert.False(t, report.Fired())
	assert.Equal(t, 3, report.NodesBefore)
	assert.Equal(t, 3, report.NodesAfter)
}

// fixedCandidate fuses the given nodes with a fixed replacement.
type fixedCandidate struct {
	nodes []opgraph.NodeID
	repl  *Replacement
}

func (c *fixedCandidate) Nodes() []opgraph.NodeID                          { return c.nodes }
func (c *fixedCandidate) Check(*opgraph.Graph) error                       { return nil }
func (c *fixedCandidate) Replacement(*opgraph.Graph) (*Replacement, error) { return c.repl, nil }

func TestApply(t *testing.T) {
	newCandidate := func(g *opgraph.Graph, activation string) *fixedCandidate {
		matMul := g.FindByType(optypes.MatMulV2)[0]
		relu := g.FindByType(optypes.Relu)[0]
		repl := &Replacement{
			Type:    optypes.FusedDense,
			Inputs:  []opgraph.Port{matMul.Input(0).Src, matMul.Input(1).Src},
			Outputs: []OutputMapping{{Boundary: relu.OutputPort(0), Index: 0}},
		}
		repl.Attrs.Set(opgraph.AttrActivation, attrs.String(activation))
		return &fixedCandidate{nodes: []opgraph.NodeID{matMul.ID(), relu.ID()}, repl: repl}
	}

	t.Run("inference failure rolls back", func(t *testing.T) {
		g := graphtest.Dense(false, "relu")
		before, numNodes := g.String(), g.NumNodes()
		_, err := Apply(g, opgraph.NewEngine(nil), newCandidate(g, "tanh"))
		require.Error(t, err)
		assert.True(t, IsNotApplicable(err))
		assert.Equal(t, before, g.String())
		assert.Equal(t, numNodes, g.NumNodes())
		require.NoError(t, g.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		g := graphtest.Dense(false, "relu")
		c := newCandidate(g, "relu")
		c.repl.Type = "NoSuchOp"
		_, err := Apply(g, nil, c)
		assert.True(t, IsNotApplicable(err))
	})

	t.Run("internal output used outside", func(t *testing.T) {
		g := graphtest.Dense(false, "relu")
		c := newCandidate(g, "relu")
		c.repl.Outputs = nil
		_, err := Apply(g, nil, c)
		assert.True(t, IsNotApplicable(err))
	})

	t.Run("without engine", func(t *testing.T) {
		g := graphtest.Dense(false, "relu")
		id, err := Apply(g, nil, newCandidate(g, "relu"))
		require.NoError(t, err)
		fused := g.Node(id)
		require.NotNil(t, fused)
		assert.Equal(t, optypes.FusedDense, fused.Type)
		checkShape(t, fused.Output(0).Desc, 4, 16)
		assert.Equal(t, fused.OutputPort(0), g.Outputs()[0])
		assert.Equal(t, 3, g.NumNodes())
	})
}
