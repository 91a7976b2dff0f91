// Package opgraph holds a computation graph of deep-learning operators, and the engine that
// infers the shapes of its tensors.
//
// Among its features:
//
//   - Graph: an arena of operator nodes with stable NodeID handles, connected by edges from output
//     ports to input slots. Fusion passes (see package fusion) rewrite it in place.
//   - Builder: a declarative way of building graphs, see Build.
//   - Registry: the operator definitions (slots, attributes, inference and verification functions),
//     see DefaultRegistry for the built-in operators.
//   - Engine: shape inference (InferNode, InferGraph) and attribute verification (VerifyNode,
//     VerifyGraph), propagating unknown dimensions, unknown ranks and shape ranges.
//
// Graphs are not safe for concurrent use: inference and fusion passes run to completion on the
// calling goroutine, and must not be interleaved on the same graph.
package opgraph

//go:generate go run ./internal/cmd/ops_generator

import "github.com/gomlx/opgraph/internal/utils"

// NormalizeIdentifier converts the name of an identifier (node name, etc.) to a valid one:
// only letters, digits, and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
