package webgpu

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Activation selects the function fused into a kernel's write-back epilogue.
type Activation int

const (
	ActivationNone Activation = iota
	ActivationRelu
	ActivationRelu6
	ActivationPrelu
	ActivationSigmoid
	ActivationLeakyRelu
	ActivationElu
)

// String returns the name of the activation.
func (a Activation) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationRelu:
		return "relu"
	case ActivationRelu6:
		return "relu6"
	case ActivationPrelu:
		return "prelu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationLeakyRelu:
		return "leaky_relu"
	case ActivationElu:
		return "elu"
	default:
		return "unknown"
	}
}

// ActivationFromName converts an activation name (as returned by String) to
// its Activation value.
func ActivationFromName(name string) (Activation, error) {
	for a := ActivationNone; a <= ActivationElu; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return ActivationNone, errors.Errorf("unknown activation %q", name)
}

// NeedsAlpha reports whether the activation reads the "alpha" uniform.
func (a Activation) NeedsAlpha() bool {
	return a == ActivationLeakyRelu
}

// Snippet emits the WGSL "activation" helper for the given vector width.
// PReLU reads the preluWeights binding, indexed by output channel; the
// caller is responsible for declaring that binding with the same width.
// ActivationNone emits nothing, and the epilogue skips the call.
func (a Activation) Snippet(width int) string {
	if a == ActivationNone {
		return ""
	}
	typ := VecType(width)
	var body string
	switch a {
	case ActivationRelu:
		body = fmt.Sprintf("return max(a, %s);", Zero(width))
	case ActivationRelu6:
		body = fmt.Sprintf("return clamp(a, %s, %s(6.0));", Zero(width), splatPrefix(width))
	case ActivationPrelu:
		idx := "col"
		if width > 1 {
			idx = fmt.Sprintf("col / %d", width)
		}
		body = fmt.Sprintf("return select(a * preluWeights[%s], a, a >= %s);", idx, Zero(width))
	case ActivationSigmoid:
		body = "return 1.0 / (1.0 + exp(-a));"
	case ActivationLeakyRelu:
		body = "return max(a, uniforms.alpha * a);"
	case ActivationElu:
		body = fmt.Sprintf("return select(exp(a) - 1.0, a, a >= %s);", Zero(width))
	default:
		exceptions.Panicf("webgpu.Activation.Snippet: invalid activation %d", int(a))
	}
	return fmt.Sprintf("fn activation(a : %s, col : i32) -> %s {\n  %s\n}\n", typ, typ, body)
}

// splatPrefix is VecType(width) for vectors and the identity-ish "f32" cast
// for scalars, used to build literal constants of the right type.
func splatPrefix(width int) string {
	if width == 1 {
		return "f32"
	}
	return VecType(width)
}
