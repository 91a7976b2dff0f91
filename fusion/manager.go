package fusion

import (
	"slices"

	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PassManager holds an ordered list of passes and runs them over graphs.
//
// Candidates of a pass are fused greedily in detection order: a candidate sharing a node with one
// already fused is skipped.
type PassManager struct {
	engine *opgraph.Engine
	passes []Pass
}

// NewPassManager creates a PassManager without passes. The engine is used to infer the outputs of the
// fused nodes; if nil, an engine with the default registry is used.
func NewPassManager(engine *opgraph.Engine) *PassManager {
	if engine == nil {
		engine = opgraph.NewEngine(nil)
	}
	return &PassManager{engine: engine}
}

// BuiltinPasses returns the built-in passes, in the order they should run.
func BuiltinPasses() []Pass {
	return []Pass{AttentionScoreFusionPass{}, MultiHeadAttentionFusionPass{}, MultiHeadAttentionGradFusionPass{},
		DenseFusionPass{}}
}

// DefaultPassManager returns a PassManager with the default engine and the BuiltinPasses.
func DefaultPassManager() *PassManager {
	pm := NewPassManager(nil)
	for _, pass := range BuiltinPasses() {
		pm.Register(pass)
	}
	return pm
}

// Register appends a pass. It panics if a pass with the same name is already registered.
// It returns the manager, so calls can be chained.
func (pm *PassManager) Register(pass Pass) *PassManager {
	if slices.ContainsFunc(pm.passes, func(p Pass) bool { return p.Name() == pass.Name() }) {
		panic(errors.Errorf("fusion pass %q already registered", pass.Name()))
	}
	pm.passes = append(pm.passes, pass)
	return pm
}

// Passes returns the names of the registered passes, in order.
func (pm *PassManager) Passes() []string {
	names := make([]string, len(pm.passes))
	for ii, pass := range pm.passes {
		names[ii] = pass.Name()
	}
	return names
}

// RunPass runs the named pass over g.
// It returns an error only if the pass is unknown, or if a rewrite left the graph invalid, in which case
// the partial report has status Failed.
func (pm *PassManager) RunPass(name string, g *opgraph.Graph) (*Report, error) {
	idx := slices.IndexFunc(pm.passes, func(p Pass) bool { return p.Name() == name })
	if idx < 0 {
		return nil, errors.Errorf("unknown fusion pass %q, registered passes are %q", name, pm.Passes())
	}
	pass := pm.passes[idx]
	report := &Report{Pass: name, NodesBefore: g.NumNodes()}
	candidates := pass.Detect(g)
	report.Candidates = len(candidates)
	claimed := utils.MakeSet[opgraph.NodeID]()
	for ii, candidate := range candidates {
		nodes := candidate.Nodes()
		if claimed.HasAny(nodes...) {
			report.Reasons = append(report.Reasons, "candidate overlaps with a fused one")
			continue
		}
		if err := candidate.Check(g); err != nil {
			klog.V(1).Infof("%s: candidate #%d not applicable: %v", name, ii, err)
			report.Reasons = append(report.Reasons, err.Error())
			continue
		}
		fused, err := Apply(g, pm.engine, candidate)
		if err != nil {
			if IsNotApplicable(err) {
				klog.V(1).Infof("%s: candidate #%d: %v", name, ii, err)
				report.Reasons = append(report.Reasons, err.Error())
				continue
			}
			report.Status = Failed
			report.NodesAfter = g.NumNodes()
			return report, errors.WithMessagef(err, "fusion pass %q", name)
		}
		claimed.Insert(nodes...)
		report.Rewritten++
		report.Fused = append(report.Fused, fused)
	}
	report.NodesAfter = g.NumNodes()
	switch {
	case report.Rewritten > 0:
		report.Status = Rewritten
	case report.Candidates > 0:
		report.Status = NotApplicable
	default:
		report.Status = NoMatch
	}
	klog.V(1).Infof("%s: %s, %d of %d candidates fused, %d -> %d nodes", name, report.Status,
		report.Rewritten, report.Candidates, report.NodesBefore, report.NodesAfter)
	return report, nil
}

// RunAll runs all passes in order, and returns their reports.
func (pm *PassManager) RunAll(g *opgraph.Graph) ([]*Report, error) {
	reports := make([]*Report, 0, len(pm.passes))
	for _, pass := range pm.passes {
		report, err := pm.RunPass(pass.Name(), g)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
