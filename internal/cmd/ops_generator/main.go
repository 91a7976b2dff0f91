// ops_generator writes the Builder helpers of the element-wise operators, gen_elementwise_ops.go.
// It is run by go generate from the root of the module.
package main

import (
	"bytes"
	"go/format"
	"log"
	"os"
	"text/template"

	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
)

const outputFile = "gen_elementwise_ops.go"

func main() {
	must(GenerateElementwiseOps(outputFile))
}

func must(err error) {
	if err != nil {
		log.Fatalf("Failed: %+v", err)
	}
}

func must1[T any](value T, err error) T {
	must(err)
	return value
}

var elementwiseTemplate = template.Must(template.New("elementwise").Parse(`
// Code generated by ops_generator. DO NOT EDIT.

package opgraph

import "github.com/gomlx/opgraph/internal/optypes"
{{range .Unary}}
// {{.}} adds a {{.}} node of x, returning its output.
func (b *Builder) {{.}}(x Port) Port { return b.unaryOp(optypes.{{.}}, x) }
{{end}}{{range .Binary}}
// {{.}} adds a {{.}} node of x1 and x2, with broadcasting, returning its output.
func (b *Builder) {{.}}(x1, x2 Port) Port { return b.binaryOp(optypes.{{.}}, x1, x2) }
{{end}}`))

// GenerateElementwiseOps writes one Builder method per unary element-wise and binary broadcast operator.
func GenerateElementwiseOps(fileName string) error {
	var buf bytes.Buffer
	err := elementwiseTemplate.Execute(&buf, struct {
		Unary, Binary []optypes.OpType
	}{
		Unary:  utils.Sorted(optypes.UnaryElementwise),
		Binary: utils.Sorted(optypes.BinaryBroadcast),
	})
	if err != nil {
		return err
	}
	contents := must1(format.Source(buf.Bytes()))
	return os.WriteFile(fileName, contents, 0o644)
}
