package matmul

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/web-intel/tfjs/backends/webgpu"
)

// conv28 is a 3×3/valid convolution over a 28×28×32 input producing
// 26×26×64: M=676, N=64, K=288.
func conv28() Conv2DParams {
	return Conv2DParams{
		Batch:        1,
		InHeight:     28,
		InWidth:      28,
		InChannels:   32,
		OutHeight:    26,
		OutWidth:     26,
		OutChannels:  64,
		FilterHeight: 3,
		FilterWidth:  3,
		StrideH:      1,
		StrideW:      1,
		DilationH:    1,
		DilationW:    1,
		Layout:       LayoutNHWC,
	}
}

func TestNewConv2DProgram(t *testing.T) {
	program, err := NewConv2DProgram(conv28())
	require.NoError(t, err)

	// M=676 → 22 row tiles, N=64 → 2 column tiles.
	require.Equal(t, webgpu.DispatchGeometry{X: 44, Y: 1, Z: 1}, program.Dispatch)

	// The input is always gathered per scalar; filter and result follow
	// the output width.
	require.Equal(t, "X", program.Operands[0].Name)
	require.Equal(t, 1, program.Operands[0].VectorWidth)
	require.Equal(t, "W", program.Operands[1].Name)
	require.Equal(t, 4, program.Operands[1].VectorWidth)
	require.Equal(t, "result", program.Operands[2].Name)
	require.Equal(t, 4, program.Operands[2].VectorWidth)

	// The read width comes from the channel run (32 → 4), and every
	// component decomposes its own reduction index.
	require.Contains(t, program.Source, "let ic0 = k0 % uniforms.inChannels;")
	require.Contains(t, program.Source, "let ic3 = k3 % uniforms.inChannels;")
	require.Contains(t, program.Source, "xRow0 >= 0 && xRow0 < uniforms.inHeight")
	require.True(t, strings.HasPrefix(program.Key, "conv2d_mm|NHWC|"))
}

func TestConv2DLayouts(t *testing.T) {
	nhwc, err := NewConv2DProgram(conv28())
	require.NoError(t, err)

	p := conv28()
	p.Layout = LayoutNCHW
	nchw, err := NewConv2DProgram(p)
	require.NoError(t, err)

	// NCHW write-back strides by the spatial plane, so the output path is
	// forced scalar.
	require.Equal(t, 1, nchw.Operands[2].VectorWidth)
	require.Contains(t, nchw.Source, "(batch * uniforms.dimBOuter + col) * uniforms.dimAOuter + row")

	// Channel-major reduction order for the input and HWIO re-derivation
	// for the filter.
	require.Contains(t, nchw.Source, "let ic0 = k0 / (uniforms.filterHeight * uniforms.filterWidth);")
	require.Contains(t, nchw.Source, "let ic = row / (uniforms.filterHeight * uniforms.filterWidth);")

	require.NotEqual(t, nhwc.Key, nchw.Key)
	require.NotEqual(t, nhwc.Source, nchw.Source)
}

func TestConv2DEpilogue(t *testing.T) {
	p := conv28()
	p.Epilogue = Epilogue{AddBias: true, Activation: webgpu.ActivationPrelu, PreluWeights: true}
	program, err := NewConv2DProgram(p)
	require.NoError(t, err)
	require.Equal(t, "bias", program.Operands[3].Name)
	require.Equal(t, "preluWeights", program.Operands[4].Name)
	require.Contains(t, program.Source, "value = value + bias[col / 4];")
	require.Contains(t, program.Source, "preluWeights[col / 4]")

	p.Epilogue = Epilogue{PreluWeights: true}
	_, err = NewConv2DProgram(p)
	require.Error(t, err)
}

func TestConv2DValidation(t *testing.T) {
	p := conv28()
	p.StrideH = 0
	_, err := NewConv2DProgram(p)
	require.Error(t, err)

	p = conv28()
	p.PadTop = -1
	_, err = NewConv2DProgram(p)
	require.Error(t, err)
}

func TestConv2DUniformOrder(t *testing.T) {
	program, err := NewConv2DProgram(conv28())
	require.NoError(t, err)
	var names []string
	for _, f := range program.Uniforms {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{
		"dimAOuter", "dimBOuter", "dimInner",
		"inHeight", "inWidth", "inChannels", "outWidth",
		"filterHeight", "filterWidth",
		"strideH", "strideW", "padTop", "padLeft", "dilationH", "dilationW",
	}, names)
}

func TestConv2DKeyDeterminism(t *testing.T) {
	first, err := NewConv2DProgram(conv28())
	require.NoError(t, err)
	second, err := NewConv2DProgram(conv28())
	require.NoError(t, err)
	require.Equal(t, first.Key, second.Key)
	require.Equal(t, first.Source, second.Source)

	// Conv and plain matmul kernels never share a key even for identical
	// tile configurations.
	mm, err := NewProgram(Params{Batch: 1, M: 676, N: 64, K: 288})
	require.NoError(t, err)
	require.NotEqual(t, first.Key, mm.Key)
}
