// Package types defines the enums used by operator attributes and tensor descriptors.
package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Format is the memory layout tag of a tensor.
type Format int

const (
	FormatND Format = iota
	FormatNCHW
	FormatNHWC
	FormatHWCN
	FormatNC1HWC0
	FormatFractalZ
	FormatFractalNZ
	FormatNCDHW
	FormatNDHWC
)

var formatNames = []string{"ND", "NCHW", "NHWC", "HWCN", "NC1HWC0", "FRACTAL_Z", "FRACTAL_NZ", "NCDHW", "NDHWC"}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// ParseFormat converts a format name (case-insensitive) to a Format.
func ParseFormat(name string) (Format, error) {
	for ii, formatName := range formatNames {
		if strings.EqualFold(name, formatName) {
			return Format(ii), nil
		}
	}
	return FormatND, errors.Errorf("unknown format %q, valid formats are %v", name, formatNames)
}

// ChannelAxis returns the channel axis of a 4D image format, or -1 if the format has no channel axis.
func (f Format) ChannelAxis() int {
	switch f {
	case FormatNCHW, FormatNC1HWC0, FormatNCDHW:
		return 1
	case FormatNHWC:
		return 3
	case FormatNDHWC:
		return 4
	case FormatHWCN:
		return 2
	}
	return -1
}

// SpatialAxes returns the height and width axes of a 4D image format.
func (f Format) SpatialAxes() (height, width int, err error) {
	switch f {
	case FormatNCHW:
		return 2, 3, nil
	case FormatNHWC:
		return 1, 2, nil
	case FormatHWCN:
		return 0, 1, nil
	}
	return -1, -1, errors.Errorf("format %s is not a 4D image format", f)
}
