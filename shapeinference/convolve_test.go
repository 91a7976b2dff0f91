package shapeinference

import (
	"strings"
	"testing"

	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/tensordesc"
)

func TestConv2D(t *testing.T) {
	type testCase struct {
		name          string
		x, filter     tensordesc.Desc
		config        ConvConfig
		expectedError string
		output        tensordesc.Desc
		outputRange   string
	}
	nchw := func(strides ...int) ConvConfig {
		return ConvConfig{Strides: strides, Format: types.FormatNCHW, Padding: types.PaddingValid}
	}
	nhwc := func(strides ...int) ConvConfig {
		return ConvConfig{Strides: strides, Format: types.FormatNHWC, Padding: types.PaddingValid}
	}
	testCases := []testCase{
		{
			name:   "NCHW with explicit pads",
			x:      D(F32, 1, 3, 32, 32),
			filter: D(F32, 16, 3, 3, 3),
			config: ConvConfig{Strides: []int{1, 1, 1, 1}, Pads: []int{1, 1, 1, 1},
				Format: types.FormatNCHW, Padding: types.PaddingCalculated},
			output: D(F32, 1, 16, 32, 32),
		},
		{
			name:   "NHWC valid with stride 2",
			x:      D(F32, 2, 28, 28, 8),
			filter: D(F32, 5, 5, 8, 4),
			config: nhwc(1, 2, 2, 1),
			output: D(F32, 2, 12, 12, 4),
		},
		{
			name:   "NHWC same with stride 2",
			x:      D(F32, 2, 28, 28, 8),
			filter: D(F32, 3, 3, 8, 4),
			config: ConvConfig{Strides: []int{1, 2, 2, 1}, Format: types.FormatNHWC, Padding: types.PaddingSame},
			output: D(F32, 2, 14, 14, 4),
		},
		{
			name:   "dilations",
			x:      D(F32, 1, 3, 10, 10),
			filter: D(F32, 8, 3, 3, 3),
			config: ConvConfig{Strides: []int{1, 1, 1, 1}, Dilations: []int{1, 1, 2, 2},
				Format: types.FormatNCHW, Padding: types.PaddingValid},
			output: D(F32, 1, 8, 6, 6),
		},
		{
			name:   "groups",
			x:      D(F32, 1, 8, 10, 10),
			filter: D(F32, 4, 4, 3, 3),
			config: ConvConfig{Strides: []int{1, 1, 1, 1}, Groups: 2, Format: types.FormatNCHW, Padding: types.PaddingValid},
			output: D(F32, 1, 4, 8, 8),
		},
		{
			name:        "dynamic spatial axis",
			x:           R(D(F32, -1, 3, -1, 32), [2]int{1, 8}, [2]int{3, 3}, [2]int{16, 64}, [2]int{32, 32}),
			filter:      D(F32, 16, 3, 3, 3),
			config:      nchw(1, 1, 2, 2),
			output:      D(F32, -1, 16, -1, 15),
			outputRange: "{[1, 8], [16, 16], [7, 31], [15, 15]}",
		},
		{
			name:        "unbounded spatial axes",
			x:           D(F32, 1, 3, -1, -1),
			filter:      D(F32, 16, 3, 3, 3),
			config:      ConvConfig{Strides: []int{1, 1, 1, 1}, Format: types.FormatNCHW, Padding: types.PaddingSame},
			output:      D(F32, 1, 16, -1, -1),
			outputRange: "{[1, 1], [16, 16], [1, -1], [1, -1]}",
		},
		{
			name:          "5 strides",
			x:             D(F32, 1, 3, 32, 32),
			filter:        D(F32, 16, 3, 3, 3),
			config:        nchw(1, 1, 1, 1, 1),
			expectedError: "strides must have 4 elements",
		},
		{
			name:          "stride on the channels axis",
			x:             D(F32, 1, 3, 32, 32),
			filter:        D(F32, 16, 3, 3, 3),
			config:        nchw(1, 2, 1, 1),
			expectedError: "batch and channel axes must be 1",
		},
		{
			name:          "channels mismatch",
			x:             D(F32, 1, 3, 32, 32),
			filter:        D(F32, 16, 4, 3, 3),
			config:        nchw(1, 1, 1, 1),
			expectedError: "must be equal to filter input channels",
		},
		{
			name:          "window larger than input",
			x:             D(F32, 1, 3, 2, 2),
			filter:        D(F32, 8, 3, 3, 3),
			config:        nchw(1, 1, 1, 1),
			expectedError: "is larger than the padded input",
		},
		{
			name:          "invalid format",
			x:             D(F32, 1, 3, 32, 32),
			filter:        D(F32, 16, 3, 3, 3),
			config:        ConvConfig{Strides: []int{1, 1, 1, 1}, Format: types.FormatND},
			expectedError: "data_format must be NCHW or NHWC",
		},
		{
			name:          "HWCN format",
			x:             D(F32, 32, 32, 3, 1),
			filter:        D(F32, 3, 3, 3, 16),
			config:        ConvConfig{Strides: []int{1, 1, 1, 1}, Format: types.FormatHWCN},
			expectedError: "data_format must be NCHW or NHWC",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			output, err := Conv2D(tc.x, tc.filter, tc.config)
			if tc.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tc.expectedError)
				}
				if !strings.Contains(err.Error(), tc.expectedError) {
					t.Fatalf("expected error containing %q, got %q", tc.expectedError, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !output.Shape.Equal(tc.output.Shape) {
				t.Errorf("expected output shape %s, got %s", tc.output.Shape, output.Shape)
			}
			if got := output.ShapeRange.String(); tc.outputRange != "" && got != tc.outputRange {
				t.Errorf("expected output range %s, got %s", tc.outputRange, got)
			}
			if err := output.Check(); err != nil {
				t.Errorf("invalid output desc %s: %v", output, err)
			}
		})
	}
}

func TestPool(t *testing.T) {
	config := ConvConfig{Strides: []int{1, 2, 2, 1}, Format: types.FormatNHWC, Padding: types.PaddingValid}
	output, err := Pool(D(F32, 1, 8, 8, 3), []int{1, 2, 2, 1}, config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := S(F32, 1, 4, 4, 3); !output.Shape.Equal(want) {
		t.Errorf("expected output shape %s, got %s", want, output.Shape)
	}

	if _, err = Pool(D(F32, 1, 8, 8, 3), []int{1, 2, 2, 3}, config); err == nil {
		t.Error("expected error for a window over the channels axis, got nil")
	}
	if _, err = Pool(D(F32, 1, 8, 8, 3), []int{2, 2}, config); err == nil {
		t.Error("expected error for a 2-element ksize, got nil")
	}
	if _, err = Pool(D(I32, 1, 8, 8, 3), []int{1, 2, 2, 1}, config); err == nil {
		t.Error("expected error for integer input, got nil")
	}
	output, err = Pool(tensordesc.UnknownRank(F32), []int{1, 2, 2, 1}, config)
	if err != nil || !output.Shape.IsUnknownRank() {
		t.Errorf("expected unknown rank output, got %s (err=%v)", output.Shape, err)
	}
}
