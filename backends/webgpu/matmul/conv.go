package matmul

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/pkg/errors"
	"github.com/web-intel/tfjs/backends/webgpu"
)

// DataLayout is the channel layout of the convolution input and output.
type DataLayout int

const (
	LayoutNHWC DataLayout = iota
	LayoutNCHW
)

// String returns the layout name.
func (l DataLayout) String() string {
	switch l {
	case LayoutNHWC:
		return "NHWC"
	case LayoutNCHW:
		return "NCHW"
	default:
		return "unknown"
	}
}

// Conv2DParams describes a 2D convolution lowered to a matrix multiply:
// the input patches form the implicit im2col matrix of shape
// [outHeight*outWidth, filterHeight*filterWidth*inChannels] and the filter
// (always stored HWIO: [fh, fw, inChannels, outChannels]) forms the second
// operand. OutHeight and OutWidth are supplied by the caller's shape
// inference, along with the explicit leading padding.
type Conv2DParams struct {
	Batch                int
	InHeight, InWidth    int
	InChannels           int
	OutHeight, OutWidth  int
	OutChannels          int
	FilterHeight         int
	FilterWidth          int
	StrideH, StrideW     int
	PadTop, PadLeft      int
	DilationH, DilationW int

	Layout   DataLayout
	Epilogue Epilogue
}

func (p Conv2DParams) validate() error {
	for _, d := range []struct {
		name  string
		value int
	}{
		{"batch", p.Batch},
		{"inHeight", p.InHeight}, {"inWidth", p.InWidth}, {"inChannels", p.InChannels},
		{"outHeight", p.OutHeight}, {"outWidth", p.OutWidth}, {"outChannels", p.OutChannels},
		{"filterHeight", p.FilterHeight}, {"filterWidth", p.FilterWidth},
		{"strideH", p.StrideH}, {"strideW", p.StrideW},
		{"dilationH", p.DilationH}, {"dilationW", p.DilationW},
	} {
		if d.value < 1 {
			return errors.Errorf("%s must be >= 1, got %d", d.name, d.value)
		}
	}
	if p.PadTop < 0 || p.PadLeft < 0 {
		return errors.Errorf("padding must be >= 0, got padTop=%d, padLeft=%d", p.PadTop, p.PadLeft)
	}
	return p.Epilogue.validate()
}

// NewConv2DProgram plans, synthesizes and describes the conv2d-as-matmul
// kernel. Binding order is X (input), W (filter), result, then bias and
// preluWeights when configured. Under NCHW the output channel stride is
// outHeight*outWidth, which rules out vectorized write-back, so the
// configuration is rebuilt with scalar output width.
func NewConv2DProgram(p Conv2DParams) (*webgpu.Program, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	m := p.OutHeight * p.OutWidth
	n := p.OutChannels
	k := p.FilterHeight * p.FilterWidth * p.InChannels

	cfg, err := PlanTiles(m, n, k, true, p.InChannels)
	if err != nil {
		return nil, err
	}
	if p.Layout == LayoutNCHW && cfg.Components != 1 {
		cfg, err = newTileConfig(cfg.TileM, cfg.TileN, cfg.TileK, 1, cfg.AComponents, cfg.OutputNumber)
		if err != nil {
			return nil, err
		}
	}
	fit := cfg.Fit(m, n, k)

	operands := []webgpu.Operand{
		{Name: "X", VectorWidth: 1},
		{Name: "W", VectorWidth: cfg.Components},
		{Name: "result", VectorWidth: cfg.Components, Writable: true},
	}
	if p.Epilogue.AddBias {
		operands = append(operands, webgpu.Operand{Name: "bias", VectorWidth: cfg.Components})
	}
	if p.Epilogue.PreluWeights {
		operands = append(operands, webgpu.Operand{Name: "preluWeights", VectorWidth: cfg.Components})
	}
	uniforms := convUniforms(p.Epilogue.Activation)

	sn := Snippets{
		ReadA: convReadA(cfg, fit, p.Layout),
		ReadB: convReadB(cfg, fit, p.Layout),
		Write: convWrite(cfg, fit, p.Layout, p.Epilogue),
	}
	if p.Epilogue.Activation != webgpu.ActivationNone {
		sn.Activation = func() string { return p.Epilogue.Activation.Snippet(cfg.Components) }
	}

	source := Synthesize(cfg, fit, bindingsHeader(operands, uniforms), sn)
	key := webgpu.BuildShaderKey("conv2d_mm",
		p.Layout,
		cfg.Components, cfg.AComponents, cfg.TileM, cfg.TileN, cfg.TileK, cfg.OutputNumber,
		webgpu.WorkgroupSize,
		fit.AOuter, fit.BOuter, fit.Inner,
		p.Epilogue.AddBias, p.Epilogue.Activation, p.Epilogue.PreluWeights)

	klog.V(1).Infof("matmul.NewConv2DProgram: key=%s, m=%d, n=%d, k=%d", key, m, n, k)
	return &webgpu.Program{
		Source:        source,
		Key:           key,
		Dispatch:      webgpu.ComputeDispatch(p.Batch, m, n, cfg.TileM, cfg.TileN),
		Operands:      operands,
		Uniforms:      uniforms,
		WorkgroupSize: webgpu.WorkgroupSize,
		SharedBytes:   cfg.SharedMemoryBytes(),
	}, nil
}

func convUniforms(activation webgpu.Activation) []webgpu.UniformField {
	names := []string{
		"dimAOuter", "dimBOuter", "dimInner",
		"inHeight", "inWidth", "inChannels", "outWidth",
		"filterHeight", "filterWidth",
		"strideH", "strideW", "padTop", "padLeft", "dilationH", "dilationW",
	}
	fields := make([]webgpu.UniformField, 0, len(names)+1)
	for _, name := range names {
		fields = append(fields, webgpu.UniformField{Name: name, Type: "i32"})
	}
	if activation.NeedsAlpha() {
		fields = append(fields, webgpu.UniformField{Name: "alpha", Type: "f32"})
	}
	return fields
}

// convReadA reads one AComponents-wide run of the implicit im2col matrix.
// Every component decomposes its own reduction index into (filter tap,
// channel) coordinates, so a run may touch non-adjacent input elements and
// still read correctly; zero padding falls out of the spatial range check.
func convReadA(cfg TileConfig, fit FitFlags, layout DataLayout) func() string {
	return func() string {
		var conds []string
		if !fit.AOuter {
			conds = append(conds, "row < uniforms.dimAOuter")
		}
		if !fit.Inner {
			conds = append(conds, "col < uniforms.dimInner")
		}
		var body strings.Builder
		body.WriteString("let outRow = row / uniforms.outWidth;\n")
		body.WriteString("let outCol = row % uniforms.outWidth;\n")
		for j := 0; j < cfg.AComponents; j++ {
			kExpr := "col"
			if j > 0 {
				kExpr = fmt.Sprintf("col + %d", j)
			}
			fmt.Fprintf(&body, "let k%d = %s;\n", j, kExpr)
			if layout == LayoutNHWC {
				// Reduction order (fy, fx, ic): channels innermost.
				fmt.Fprintf(&body, "let ic%d = k%d %% uniforms.inChannels;\n", j, j)
				fmt.Fprintf(&body, "let tap%d = k%d / uniforms.inChannels;\n", j, j)
				fmt.Fprintf(&body, "let fx%d = tap%d %% uniforms.filterWidth;\n", j, j)
				fmt.Fprintf(&body, "let fy%d = tap%d / uniforms.filterWidth;\n", j, j)
			} else {
				// Reduction order (ic, fy, fx): taps innermost.
				fmt.Fprintf(&body, "let ic%d = k%d / (uniforms.filterHeight * uniforms.filterWidth);\n", j, j)
				fmt.Fprintf(&body, "let tap%d = k%d %% (uniforms.filterHeight * uniforms.filterWidth);\n", j, j)
				fmt.Fprintf(&body, "let fx%d = tap%d %% uniforms.filterWidth;\n", j, j)
				fmt.Fprintf(&body, "let fy%d = tap%d / uniforms.filterWidth;\n", j, j)
			}
			fmt.Fprintf(&body, "let xRow%d = outRow * uniforms.strideH - uniforms.padTop + fy%d * uniforms.dilationH;\n", j, j)
			fmt.Fprintf(&body, "let xCol%d = outCol * uniforms.strideW - uniforms.padLeft + fx%d * uniforms.dilationW;\n", j, j)
			fmt.Fprintf(&body, "if (xRow%d >= 0 && xRow%d < uniforms.inHeight && xCol%d >= 0 && xCol%d < uniforms.inWidth) {\n",
				j, j, j, j)
			var index string
			if layout == LayoutNHWC {
				index = fmt.Sprintf(
					"((batch * uniforms.inHeight + xRow%d) * uniforms.inWidth + xCol%d) * uniforms.inChannels + ic%d",
					j, j, j)
			} else {
				index = fmt.Sprintf(
					"((batch * uniforms.inChannels + ic%d) * uniforms.inHeight + xRow%d) * uniforms.inWidth + xCol%d",
					j, j, j)
			}
			fmt.Fprintf(&body, "  value%s = X[%s];\n", webgpu.Component(j, cfg.AComponents), index)
			body.WriteString("}\n")
		}
		return readerFn("mm_readA", cfg.AComponents, conds, body.String())
	}
}

// convReadB reads one Components-wide run of the HWIO filter. Under NHWC
// the flattened filter is exactly the row-major K×N operand; under NCHW the
// reduction index is channel-major and each row re-derives its HWIO offset.
func convReadB(cfg TileConfig, fit FitFlags, layout DataLayout) func() string {
	return func() string {
		var conds []string
		if !fit.Inner {
			conds = append(conds, "row < uniforms.dimInner")
		}
		if !fit.BOuter {
			conds = append(conds, "col < uniforms.dimBOuter")
		}
		var load string
		if layout == LayoutNHWC {
			if cfg.Components == 1 {
				load = "value = W[row * uniforms.dimBOuter + col];"
			} else {
				load = fmt.Sprintf("value = W[(row * uniforms.dimBOuter + col) / %d];", cfg.Components)
			}
		} else {
			load = "let ic = row / (uniforms.filterHeight * uniforms.filterWidth);\n" +
				"let tap = row % (uniforms.filterHeight * uniforms.filterWidth);\n" +
				"value = W[(tap * uniforms.inChannels + ic) * uniforms.dimBOuter + col];"
		}
		return readerFn("mm_readB", cfg.Components, conds, load)
	}
}

// convWrite stores one result vector through the epilogue. NHWC output is
// the flat [batch, outHeight*outWidth, outChannels] matrix; NCHW scatters
// by channel with the spatial index innermost.
func convWrite(cfg TileConfig, fit FitFlags, layout DataLayout, epilogue Epilogue) func() string {
	return func() string {
		var conds []string
		if !fit.AOuter {
			conds = append(conds, "row < uniforms.dimAOuter")
		}
		if !fit.BOuter {
			conds = append(conds, "col < uniforms.dimBOuter")
		}
		var store string
		if layout == LayoutNHWC {
			store = fmt.Sprintf(
				"result[(batch * uniforms.dimAOuter * uniforms.dimBOuter + row * uniforms.dimBOuter + col)%s] = value;",
				divSuffix(cfg.Components))
		} else {
			store = "result[(batch * uniforms.dimBOuter + col) * uniforms.dimAOuter + row] = value;"
		}
		return writerFn(cfg.Components, conds, epilogue, store)
	}
}
