package main

import (
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gopkg.in/yaml.v3"
)

// GraphFile is the YAML description of a graph.
//
// Example:
//
//	name: dense
//	nodes:
//	  - {name: x, type: Data, attrs: {dtype: float32, shape: [4, 8]}}
//	  - {name: w, type: Data, attrs: {dtype: float32, shape: [8, 16]}}
//	  - {name: mm, type: MatMulV2, inputs: [x, w]}
//	  - {name: act, type: Relu, inputs: ["mm:y"]}
//	outputs: [act]
type GraphFile struct {
	Name    string     `yaml:"name"`
	Nodes   []NodeSpec `yaml:"nodes"`
	Outputs []string   `yaml:"outputs"`
}

// NodeSpec describes one node of a GraphFile.
//
// Inputs refer to an output of a previous node as "node:output" (output name or index), or just "node"
// for its first output. An empty string leaves an optional input unconnected.
//
// Const nodes take their value from the attributes "dtype", "shape" and "values".
type NodeSpec struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Inputs []string       `yaml:"inputs"`
	Attrs  map[string]any `yaml:"attrs"`
}

// LoadGraphFile reads and parses the YAML graph description in fileName.
func LoadGraphFile(fileName string) (*GraphFile, error) {
	contents, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "reading graph file %q", fileName)
	}
	return ParseGraphFile(contents)
}

// ParseGraphFile parses a YAML graph description.
func ParseGraphFile(contents []byte) (*GraphFile, error) {
	var gf GraphFile
	if err := yaml.Unmarshal(contents, &gf); err != nil {
		return nil, errors.Wrap(err, "parsing graph file")
	}
	if gf.Name == "" {
		gf.Name = "graph"
	}
	return &gf, nil
}

// Build creates the graph described, using the operators of registry (the default one if nil).
func (gf *GraphFile) Build(registry *opgraph.Registry) (g *opgraph.Graph, err error) {
	b := opgraph.NewBuilder(opgraph.NormalizeIdentifier(gf.Name), registry)
	err = exceptions.TryCatch[error](func() {
		for ii := range gf.Nodes {
			gf.addNode(b, &gf.Nodes[ii])
		}
		outputs := make([]opgraph.Port, len(gf.Outputs))
		for ii, ref := range gf.Outputs {
			outputs[ii] = resolvePort(b.Graph(), ref)
		}
		b.Output(outputs...)
	})
	if err != nil {
		return nil, err
	}
	return b.Graph(), nil
}

func (gf *GraphFile) addNode(b *opgraph.Builder, ns *NodeSpec) {
	name := opgraph.NormalizeIdentifier(ns.Name)
	opType := optypes.OpType(ns.Type)
	nodeAttrs := convertAttrs(ns)
	if opType == optypes.Const {
		value, err := constValue(ns.Attrs)
		if err != nil {
			exceptions.Panicf("node %q: %v", ns.Name, err)
		}
		nodeAttrs = opgraph.Attrs(opgraph.AttrValue, value)
	}
	inputs := make([]opgraph.Port, len(ns.Inputs))
	for ii, ref := range ns.Inputs {
		if ref == "" {
			inputs[ii] = opgraph.NoPort
			continue
		}
		inputs[ii] = resolvePort(b.Graph(), ref)
	}
	b.Op(opType, name, nodeAttrs, inputs...)
}

// convertAttrs converts the attributes of the node, in sorted order of names.
func convertAttrs(ns *NodeSpec) attrs.Map {
	var m attrs.Map
	names := make([]string, 0, len(ns.Attrs))
	for name := range ns.Attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v, err := attrs.FromAny(ns.Attrs[name])
		if err != nil {
			exceptions.Panicf("node %q attribute %q: %v", ns.Name, name, err)
		}
		m.Set(name, v)
	}
	return m
}

// resolvePort converts a "node:output" reference to a Port.
func resolvePort(g *opgraph.Graph, ref string) opgraph.Port {
	nodeName, outputName, found := strings.Cut(ref, ":")
	node := g.NodeByName(opgraph.NormalizeIdentifier(nodeName))
	if node == nil {
		exceptions.Panicf("reference %q: unknown node %q", ref, nodeName)
	}
	if !found {
		return node.OutputPort(0)
	}
	if idx := node.OutputIndex(outputName); idx >= 0 {
		return node.OutputPort(idx)
	}
	if idx, err := strconv.Atoi(outputName); err == nil && idx >= 0 && idx < node.NumOutputs() {
		return node.OutputPort(idx)
	}
	exceptions.Panicf("reference %q: node %q (%s) has no output %q", ref, node.Name, node.Type, outputName)
	return opgraph.NoPort
}

// constValue creates the literal of a Const node from its "dtype", "shape" and "values" attributes.
// The dtype defaults to float32, and the shape to a scalar (or a vector if more than one value is given).
func constValue(raw map[string]any) (*literal.Literal, error) {
	dtype := dtypes.Float32
	if name, found := raw["dtype"]; found {
		v, err := attrs.FromAny(name)
		if err == nil {
			dtype, err = v.AsDType()
		}
		if err != nil {
			return nil, errors.WithMessage(err, "attribute \"dtype\"")
		}
	}
	v, err := attrs.FromAny(raw["values"])
	if err != nil {
		return nil, errors.WithMessage(err, "attribute \"values\"")
	}
	var values []float64
	var ints []int
	switch v.Kind() {
	case attrs.KindInt:
		ints = []int{must.M1(v.AsInt())}
	case attrs.KindInts:
		ints = must.M1(v.AsInts())
	}
	if ints != nil {
		for _, i := range ints {
			values = append(values, float64(i))
		}
	} else if values, err = v.AsFloats(); err != nil {
		f, errScalar := v.AsFloat()
		if errScalar != nil {
			return nil, errors.WithMessage(err, "attribute \"values\"")
		}
		values = []float64{f}
	}
	var dims []int
	if shape, found := raw["shape"]; found {
		v, err := attrs.FromAny(shape)
		if err == nil {
			dims, err = v.AsInts()
		}
		if err != nil {
			return nil, errors.WithMessage(err, "attribute \"shape\"")
		}
	} else if len(values) != 1 {
		dims = []int{len(values)}
	}
	if ints != nil && (dtype == dtypes.Int32 || dtype == dtypes.Int64) {
		return intLiteral(dtype, ints, dims)
	}
	return literalOf(dtype, values, dims)
}

// intLiteral converts integer values without going through float64, which would round int64 values
// above 2^53.
func intLiteral(dtype dtypes.DType, ints []int, dims []int) (*literal.Literal, error) {
	if dtype == dtypes.Int64 {
		flat := make([]int64, len(ints))
		for ii, v := range ints {
			flat[ii] = int64(v)
		}
		return literal.FromFlat(flat, dims...)
	}
	flat := make([]int32, len(ints))
	for ii, v := range ints {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, errors.Errorf("Const value %d overflows %s", v, dtype)
		}
		flat[ii] = int32(v)
	}
	return literal.FromFlat(flat, dims...)
}

func convertFlat[T any](values []float64, convert func(float64) T) []T {
	flat := make([]T, len(values))
	for ii, v := range values {
		flat[ii] = convert(v)
	}
	return flat
}

// literalOf converts values to a literal of the given dtype.
func literalOf(dtype dtypes.DType, values []float64, dims []int) (*literal.Literal, error) {
	switch dtype {
	case dtypes.Float32:
		return literal.FromFlat(convertFlat(values, func(v float64) float32 { return float32(v) }), dims...)
	case dtypes.Float64:
		return literal.FromFlat(values, dims...)
	case dtypes.Float16:
		return literal.FromFlat(convertFlat(values, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) }), dims...)
	case dtypes.BFloat16:
		return literal.FromFlat(convertFlat(values, func(v float64) bfloat16.BFloat16 { return bfloat16.FromFloat32(float32(v)) }), dims...)
	case dtypes.Int32:
		return literal.FromFlat(convertFlat(values, func(v float64) int32 { return int32(v) }), dims...)
	case dtypes.Int64:
		return literal.FromFlat(convertFlat(values, func(v float64) int64 { return int64(v) }), dims...)
	case dtypes.Bool:
		return literal.FromFlat(convertFlat(values, func(v float64) bool { return v != 0 }), dims...)
	}
	return nil, errors.Errorf("Const values of dtype %s are not supported", dtype)
}
