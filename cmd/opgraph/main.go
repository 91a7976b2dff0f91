// opgraph loads a graph described in YAML, infers the shapes of its tensors and runs the fusion passes
// over it, printing a report of the nodes and of the passes.
//
// Usage:
//
//	opgraph [-passes=all|none|Pass1,Pass2] [-verify] [-no_color] <graph.yaml>
//	opgraph -list_ops
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/fusion"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagPasses = flag.String("passes", "all", "Comma-separated list of fusion passes to run, in order. "+
		"Use \"all\" for all the built-in passes and \"none\" to only infer the shapes.")
	flagVerify  = flag.Bool("verify", true, "Verify the attributes of every node before inferring its shapes.")
	flagNoColor = flag.Bool("no_color", false, "Disable colors in the output.")
	flagListOps = flag.Bool("list_ops", false, "List the registered operators and exit.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if *flagListOps {
		listOps(os.Stdout, opgraph.DefaultRegistry())
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one graph file, got %d arguments. See 'opgraph -help'.", len(args))
		os.Exit(1)
	}
	if err := run(os.Stdout, args[0], *flagPasses, *flagVerify); err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

// run loads the graph in fileName, infers its shapes, runs the passes and prints the reports to w.
func run(w io.Writer, fileName, passes string, verify bool) error {
	gf, err := LoadGraphFile(fileName)
	if err != nil {
		return err
	}
	g, err := gf.Build(nil)
	if err != nil {
		return errors.WithMessagef(err, "building graph from %q", fileName)
	}
	engine := opgraph.NewEngine(nil).WithVerify(verify)
	inferReport, err := engine.InferGraph(g)
	if err != nil {
		return errors.WithMessagef(err, "inferring shapes of graph %q", g.Name)
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Graph %q", g.Name)))
	fmt.Fprintf(w, "%s nodes, %s outputs with dynamic shapes\n", humanize.Comma(int64(g.NumNodes())),
		humanize.Comma(int64(inferReport.Dynamic)))
	fmt.Fprintln(w, nodesTable(g, nil))

	pm, err := passManager(engine, passes)
	if err != nil {
		return err
	}
	if len(pm.Passes()) == 0 {
		return nil
	}
	reports, err := pm.RunAll(g)
	if err != nil {
		return err
	}
	fused := utils.MakeSet[opgraph.NodeID]()
	for _, report := range reports {
		fused.Insert(report.Fused...)
	}
	fmt.Fprintln(w, titleStyle.Render("Fusion passes"))
	fmt.Fprintln(w, passesTable(reports))
	if len(fused) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Fused graph"))
		fmt.Fprintln(w, nodesTable(g, fused))
	}
	return nil
}

// passManager returns a PassManager with the passes listed in passes, see the -passes flag.
func passManager(engine *opgraph.Engine, passes string) (*fusion.PassManager, error) {
	pm := fusion.NewPassManager(engine)
	switch passes {
	case "", "none":
		return pm, nil
	case "all":
		for _, pass := range fusion.BuiltinPasses() {
			pm.Register(pass)
		}
		return pm, nil
	}
	builtin := make(map[string]fusion.Pass)
	var names []string
	for _, pass := range fusion.BuiltinPasses() {
		builtin[pass.Name()] = pass
		names = append(names, pass.Name())
	}
	for _, name := range strings.Split(passes, ",") {
		name = strings.TrimSpace(name)
		pass, found := builtin[name]
		if !found {
			return nil, errors.Errorf("unknown fusion pass %q, valid passes are %q", name, names)
		}
		if slices.Contains(pm.Passes(), name) {
			return nil, errors.Errorf("fusion pass %q listed twice", name)
		}
		pm.Register(pass)
	}
	return pm, nil
}

// nodesTable lists the nodes of g in topological order, with their outputs. Nodes in highlight are
// highlighted.
func nodesTable(g *opgraph.Graph, highlight utils.Set[opgraph.NodeID]) string {
	table := newTable([]string{"#", "Name", "Type", "Outputs", "Bytes"},
		lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	nodes, err := g.TopologicalOrder()
	if err != nil {
		nodes = g.Nodes()
	}
	for _, node := range nodes {
		var outputs []string
		var memory uint64
		dynamic := false
		for ii := range node.NumOutputs() {
			out := node.Output(ii)
			outputs = append(outputs, fmt.Sprintf("%s: %s", out.Name, out.Desc))
			if out.Desc.Shape.IsDynamic() {
				dynamic = true
			}
			memory += uint64(out.Desc.Shape.Memory())
		}
		bytes := humanize.Bytes(memory)
		if dynamic {
			bytes = "≥ " + bytes
		}
		table.Row(highlight.Has(node.ID()), fmt.Sprintf("%d", node.ID()), node.Name, node.Type.String(),
			strings.Join(outputs, "\n"), bytes)
	}
	return table.Table.Render()
}

// passesTable summarizes the reports of the fusion passes. Passes that changed the graph are highlighted.
func passesTable(reports []*fusion.Report) string {
	table := newTable([]string{"Pass", "Status", "Candidates", "Fused", "Nodes", "Reasons"},
		lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for _, report := range reports {
		table.Row(report.Fired(), report.Pass, report.Status.String(),
			humanize.Comma(int64(report.Candidates)), humanize.Comma(int64(report.Rewritten)),
			fmt.Sprintf("%d → %d", report.NodesBefore, report.NodesAfter),
			strings.Join(report.Reasons, "\n"))
	}
	return table.Table.Render()
}

// listOps prints the registered operators.
func listOps(w io.Writer, registry *opgraph.Registry) {
	table := newTable([]string{"Operator", "Inputs", "Outputs", "Attributes"}, lipgloss.Left)
	for _, opType := range registry.Types() {
		def, err := registry.Lookup(opType)
		if err != nil {
			continue
		}
		var inputs, outputs, attributes []string
		for _, slot := range def.Inputs {
			name := slot.Name
			if slot.Optional {
				name += "?"
			}
			if slot.Dynamic {
				name += "..."
			}
			inputs = append(inputs, name)
		}
		for _, slot := range def.Outputs {
			outputs = append(outputs, slot.Name)
		}
		for _, attr := range def.Attrs {
			attributes = append(attributes, fmt.Sprintf("%s:%s", attr.Name, attr.Kind))
		}
		table.Row(optypes.Fused.Has(opType), opType.String(), strings.Join(inputs, ", "),
			strings.Join(outputs, ", "), strings.Join(attributes, ", "))
	}
	fmt.Fprintln(w, table.Table.Render())
}
