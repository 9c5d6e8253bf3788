package webgpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActivationNames(t *testing.T) {
	for a := ActivationNone; a <= ActivationElu; a++ {
		parsed, err := ActivationFromName(a.String())
		require.NoError(t, err)
		require.Equal(t, a, parsed)
	}
	_, err := ActivationFromName("gelu")
	require.Error(t, err)
}

func TestActivationSnippets(t *testing.T) {
	require.Empty(t, ActivationNone.Snippet(4))

	relu := ActivationRelu.Snippet(4)
	require.Contains(t, relu, "fn activation(a : vec4<f32>, col : i32) -> vec4<f32>")
	require.Contains(t, relu, "max(a, vec4<f32>(0.0))")

	require.Contains(t, ActivationRelu.Snippet(1), "max(a, 0.0)")
	require.Contains(t, ActivationRelu6.Snippet(4), "clamp(a, vec4<f32>(0.0), vec4<f32>(6.0))")
	require.Contains(t, ActivationSigmoid.Snippet(1), "1.0 / (1.0 + exp(-a))")
	require.Contains(t, ActivationElu.Snippet(4), "select(exp(a) - 1.0, a,")

	// PReLU indexes its per-channel weights at vector granularity.
	require.Contains(t, ActivationPrelu.Snippet(4), "preluWeights[col / 4]")
	require.Contains(t, ActivationPrelu.Snippet(1), "preluWeights[col]")

	// Only the parameterized activations read the alpha uniform.
	require.Contains(t, ActivationLeakyRelu.Snippet(4), "uniforms.alpha")
	require.True(t, ActivationLeakyRelu.NeedsAlpha())
	require.False(t, ActivationElu.NeedsAlpha())
	require.False(t, ActivationRelu.NeedsAlpha())
	require.False(t, ActivationPrelu.NeedsAlpha())
}
