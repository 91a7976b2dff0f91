package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("nhwc")
	require.NoError(t, err)
	assert.Equal(t, FormatNHWC, f)
	assert.Equal(t, "FRACTAL_NZ", FormatFractalNZ.String())
	f, err = ParseFormat("FRACTAL_NZ")
	require.NoError(t, err)
	assert.Equal(t, FormatFractalNZ, f)
	_, err = ParseFormat("NWHC")
	require.Error(t, err)

	assert.Equal(t, 1, FormatNCHW.ChannelAxis())
	assert.Equal(t, 3, FormatNHWC.ChannelAxis())
	assert.Equal(t, -1, FormatND.ChannelAxis())
	h, w, err := FormatNHWC.SpatialAxes()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{h, w})
	_, _, err = FormatND.SpatialAxes()
	require.Error(t, err)
}

func TestParsePadding(t *testing.T) {
	p, err := ParsePadding("")
	require.NoError(t, err)
	assert.Equal(t, PaddingCalculated, p)
	p, err = ParsePadding("same")
	require.NoError(t, err)
	assert.Equal(t, PaddingSame, p)
	_, err = ParsePadding("REFLECT")
	require.Error(t, err)
	assert.Equal(t, "VALID", PaddingValid.String())
}

func TestParseAttentionLayout(t *testing.T) {
	l, err := ParseAttentionLayout("BSH")
	require.NoError(t, err)
	assert.Equal(t, LayoutBSH, l)
	_, err = ParseAttentionLayout("SBH")
	require.Error(t, err)
}
