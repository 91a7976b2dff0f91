package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Padding is the padding mode of convolutions and pooling.
type Padding int

const (
	// PaddingCalculated uses the explicit "pads" attribute.
	PaddingCalculated Padding = iota

	// PaddingSame pads so that the output spatial size is ceil(input/stride).
	PaddingSame

	// PaddingValid doesn't pad: output size is ceil((input-window+1)/stride).
	PaddingValid
)

var paddingNames = []string{"CALCULATED", "SAME", "VALID"}

// String implements fmt.Stringer.
func (p Padding) String() string {
	if p < 0 || int(p) >= len(paddingNames) {
		return fmt.Sprintf("Padding(%d)", int(p))
	}
	return paddingNames[p]
}

// ParsePadding converts the padding attribute to a Padding. An empty string is PaddingCalculated.
func ParsePadding(name string) (Padding, error) {
	if name == "" {
		return PaddingCalculated, nil
	}
	for ii, paddingName := range paddingNames {
		if strings.EqualFold(name, paddingName) {
			return Padding(ii), nil
		}
	}
	return PaddingCalculated, errors.Errorf("invalid padding mode %q, valid values are %v", name, paddingNames)
}

// AttentionLayout is the axes order of query/key/value tensors of fused attention operators:
// B is the batch, N the number of heads, S the sequence and D the head dimension (H = N*D).
type AttentionLayout int

const (
	LayoutBNSD AttentionLayout = iota
	LayoutBSND
	LayoutBSH
)

var layoutNames = []string{"BNSD", "BSND", "BSH"}

// String implements fmt.Stringer.
func (l AttentionLayout) String() string {
	if l < 0 || int(l) >= len(layoutNames) {
		return fmt.Sprintf("AttentionLayout(%d)", int(l))
	}
	return layoutNames[l]
}

// ParseAttentionLayout converts the input_layout attribute to an AttentionLayout.
func ParseAttentionLayout(name string) (AttentionLayout, error) {
	for ii, layoutName := range layoutNames {
		if strings.EqualFold(name, layoutName) {
			return AttentionLayout(ii), nil
		}
	}
	return LayoutBNSD, errors.Errorf("invalid attention layout %q, valid values are %v", name, layoutNames)
}
