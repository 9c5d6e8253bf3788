package matmul

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/web-intel/tfjs/backends/webgpu"
)

func TestNewProgram(t *testing.T) {
	p := Params{Batch: 1, M: 64, N: 64, K: 64}
	program, err := NewProgram(p)
	require.NoError(t, err)

	require.Equal(t, webgpu.DispatchGeometry{X: 4, Y: 1, Z: 1}, program.Dispatch)
	require.Equal(t, 64, program.WorkgroupSize)
	require.Equal(t, 8192, program.SharedBytes)

	// Binding contract: A, B, result, uniforms after the last operand.
	require.Len(t, program.Operands, 3)
	require.Equal(t, "A", program.Operands[0].Name)
	require.Equal(t, 4, program.Operands[0].VectorWidth)
	require.Equal(t, "B", program.Operands[1].Name)
	require.Equal(t, 4, program.Operands[1].VectorWidth)
	require.Equal(t, "result", program.Operands[2].Name)
	require.True(t, program.Operands[2].Writable)
	require.Contains(t, program.Source, "@binding(3) var<uniform> uniforms")
	require.Equal(t, []webgpu.UniformField{
		{Name: "dimAOuter", Type: "i32"},
		{Name: "dimBOuter", Type: "i32"},
		{Name: "dimInner", Type: "i32"},
	}, program.Uniforms)

	// Identical requests produce byte-identical text and identical keys.
	again, err := NewProgram(p)
	require.NoError(t, err)
	require.Equal(t, program.Key, again.Key)
	require.Equal(t, program.Source, again.Source)
}

func TestNewProgramValidation(t *testing.T) {
	_, err := NewProgram(Params{Batch: 1, M: 0, N: 4, K: 4})
	require.Error(t, err)

	// PReLU weights and PReLU activation must come together.
	_, err = NewProgram(Params{Batch: 1, M: 4, N: 4, K: 4,
		Epilogue: Epilogue{PreluWeights: true, Activation: webgpu.ActivationRelu}})
	require.Error(t, err)
	_, err = NewProgram(Params{Batch: 1, M: 4, N: 4, K: 4,
		Epilogue: Epilogue{Activation: webgpu.ActivationPrelu}})
	require.Error(t, err)
	_, err = NewProgram(Params{Batch: 1, M: 4, N: 4, K: 4,
		Epilogue: Epilogue{PreluWeights: true, Activation: webgpu.ActivationPrelu}})
	require.NoError(t, err)
}

func TestBoundaryFitSpecialization(t *testing.T) {
	// K=60 leaves a partial last reduction tile: the load path must range
	// check against dimInner.
	loose, err := NewProgram(Params{Batch: 1, M: 64, N: 64, K: 60})
	require.NoError(t, err)
	require.Contains(t, loose.Source, "col < uniforms.dimInner")

	// Rounding K to an exact multiple of the tile elides the check.
	tight, err := NewProgram(Params{Batch: 1, M: 64, N: 64, K: 64})
	require.NoError(t, err)
	require.NotContains(t, tight.Source, "col < uniforms.dimInner")
	require.NotContains(t, tight.Source, "row < uniforms.dimAOuter")
	require.NotContains(t, tight.Source, "col < uniforms.dimBOuter")

	// Partial output tiles bring back the outer checks in the write path.
	partial, err := NewProgram(Params{Batch: 1, M: 65, N: 63, K: 64})
	require.NoError(t, err)
	require.Contains(t, partial.Source, "row < uniforms.dimAOuter")
	require.Contains(t, partial.Source, "col < uniforms.dimBOuter")

	require.NotEqual(t, loose.Key, tight.Key)
}

func TestEpilogueFusion(t *testing.T) {
	base := Params{Batch: 1, M: 64, N: 64, K: 64}

	plain, err := NewProgram(base)
	require.NoError(t, err)
	require.NotContains(t, plain.Source, "bias")
	require.NotContains(t, plain.Source, "fn activation")

	withBias := base
	withBias.Epilogue = Epilogue{AddBias: true, Activation: webgpu.ActivationRelu6}
	fused, err := NewProgram(withBias)
	require.NoError(t, err)
	require.Contains(t, fused.Source, "value = value + bias[col / 4];")
	require.Contains(t, fused.Source, "value = activation(value, col);")
	require.Contains(t, fused.Source, "clamp(a, vec4<f32>(0.0), vec4<f32>(6.0))")
	require.Len(t, fused.Operands, 4)
	require.Equal(t, "bias", fused.Operands[3].Name)

	withPrelu := base
	withPrelu.Epilogue = Epilogue{AddBias: true, Activation: webgpu.ActivationPrelu, PreluWeights: true}
	prelu, err := NewProgram(withPrelu)
	require.NoError(t, err)
	require.Equal(t, "preluWeights", prelu.Operands[4].Name)
	require.Contains(t, prelu.Source, "preluWeights[col / 4]")
}

func TestTransposedOperands(t *testing.T) {
	program, err := NewProgram(Params{Batch: 1, M: 64, N: 64, K: 64, TransposeA: true, TransposeB: true})
	require.NoError(t, err)

	// Transposed operands are gathered per scalar.
	require.Equal(t, 1, program.Operands[0].VectorWidth)
	require.Equal(t, 1, program.Operands[1].VectorWidth)
	require.Contains(t, program.Source, "col * uniforms.dimAOuter + row")
	require.Contains(t, program.Source, "col * uniforms.dimInner + row")
}

// TestKeyInjectivity flips each request field in isolation and requires all
// resulting keys to be pairwise distinct.
func TestKeyInjectivity(t *testing.T) {
	base := Params{Batch: 1, M: 64, N: 64, K: 64}
	variants := []Params{base}

	v := base
	v.M = 65
	variants = append(variants, v) // flips fitAOuter
	v = base
	v.N = 63
	variants = append(variants, v) // flips fitBOuter and components
	v = base
	v.K = 60
	variants = append(variants, v) // flips fitInner
	v = base
	v.M = 16
	variants = append(variants, v) // changes tileM
	v = base
	v.N = 16
	variants = append(variants, v) // changes tileN
	v = base
	v.K = 2048
	variants = append(variants, v) // changes tileK
	v = base
	v.TransposeA = true
	variants = append(variants, v)
	v = base
	v.TransposeB = true
	variants = append(variants, v)
	v = base
	v.Epilogue.AddBias = true
	variants = append(variants, v)
	for _, a := range []webgpu.Activation{
		webgpu.ActivationRelu, webgpu.ActivationRelu6, webgpu.ActivationSigmoid,
		webgpu.ActivationLeakyRelu, webgpu.ActivationElu,
	} {
		v = base
		v.Epilogue.Activation = a
		variants = append(variants, v)
	}
	v = base
	v.Epilogue = Epilogue{Activation: webgpu.ActivationPrelu, PreluWeights: true}
	variants = append(variants, v)

	seen := make(map[string]Params)
	for _, p := range variants {
		program, err := NewProgram(p)
		require.NoError(t, err, "%+v", p)
		prev, dup := seen[program.Key]
		require.False(t, dup, "key collision between %+v and %+v: %s", prev, p, program.Key)
		seen[program.Key] = p
	}
}

// TestKeyIgnoresShapeWithinClass checks the companion property: requests in
// the same specialization class share one key and one source text, which is
// what makes the upstream kernel cache effective.
func TestKeyIgnoresShapeWithinClass(t *testing.T) {
	a, err := NewProgram(Params{Batch: 1, M: 64, N: 64, K: 64})
	require.NoError(t, err)
	b, err := NewProgram(Params{Batch: 3, M: 96, N: 128, K: 256})
	require.NoError(t, err)
	require.Equal(t, a.Key, b.Key)
	require.Equal(t, a.Source, b.Source)
	// Geometry still differs: it is not part of the text.
	require.NotEqual(t, a.Dispatch, b.Dispatch)
}

func TestLeakyReluAddsAlphaUniform(t *testing.T) {
	program, err := NewProgram(Params{Batch: 1, M: 64, N: 64, K: 64,
		Epilogue: Epilogue{Activation: webgpu.ActivationLeakyRelu}})
	require.NoError(t, err)
	last := program.Uniforms[len(program.Uniforms)-1]
	require.Equal(t, webgpu.UniformField{Name: "alpha", Type: "f32"}, last)
	require.Contains(t, program.Source, "uniforms.alpha")
}

func TestProgramKeysAcrossShapes(t *testing.T) {
	// A small grid exercising determinism across repeated generation.
	for _, m := range []int{8, 32, 65} {
		for _, n := range []int{12, 64} {
			for _, k := range []int{7, 33, 1024} {
				p := Params{Batch: 2, M: m, N: n, K: k}
				first, err := NewProgram(p)
				require.NoError(t, err)
				second, err := NewProgram(p)
				require.NoError(t, err)
				require.Equal(t, first.Key, second.Key, fmt.Sprintf("m=%d n=%d k=%d", m, n, k))
				require.Equal(t, first.Source, second.Source)
				require.True(t, strings.HasPrefix(first.Key, "matmul_packed|"))
			}
		}
	}
}
