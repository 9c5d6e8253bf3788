package matmul

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/pkg/errors"
	"github.com/web-intel/tfjs/backends/webgpu"
)

// Epilogue selects the operations fused into the kernel's write-back step.
type Epilogue struct {
	AddBias      bool
	Activation   webgpu.Activation
	PreluWeights bool
}

func (e Epilogue) validate() error {
	if e.PreluWeights && e.Activation != webgpu.ActivationPrelu {
		return errors.Errorf("prelu weights supplied but activation is %s", e.Activation)
	}
	if !e.PreluWeights && e.Activation == webgpu.ActivationPrelu {
		return errors.Errorf("prelu activation requires prelu weights")
	}
	return nil
}

// Params describes one matrix-multiplication kernel request:
// result[b, m, n] = sum_k A[b, m, k] * B[b, k, n], with optional transposed
// operand storage and a fused epilogue.
type Params struct {
	Batch, M, N, K int

	// TransposeA indicates A is stored [batch, K, M]; TransposeB indicates
	// B is stored [batch, N, K]. Transposed operands are read by scalar
	// gather, so their buffers bind with vector width 1.
	TransposeA, TransposeB bool

	Epilogue Epilogue
}

func (p Params) validate() error {
	if p.Batch < 1 || p.M < 1 || p.N < 1 || p.K < 1 {
		return errors.Errorf("all dimensions must be >= 1, got batch=%d, m=%d, n=%d, k=%d",
			p.Batch, p.M, p.N, p.K)
	}
	return p.Epilogue.validate()
}

// NewProgram plans the tiling for p, synthesizes the kernel and returns the
// complete program descriptor. The operand binding order is A, B, result,
// then bias and preluWeights when configured, with the uniform block on the
// binding after the last operand; the host must bind buffers in exactly
// this order.
func NewProgram(p Params) (*webgpu.Program, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	cfg, err := PlanTiles(p.M, p.N, p.K, false, p.K)
	if err != nil {
		return nil, err
	}
	fit := cfg.Fit(p.M, p.N, p.K)

	operands := []webgpu.Operand{
		{Name: "A", VectorWidth: aStorageWidth(cfg, p.TransposeA)},
		{Name: "B", VectorWidth: bStorageWidth(cfg, p.TransposeB)},
		{Name: "result", VectorWidth: cfg.Components, Writable: true},
	}
	if p.Epilogue.AddBias {
		operands = append(operands, webgpu.Operand{Name: "bias", VectorWidth: cfg.Components})
	}
	if p.Epilogue.PreluWeights {
		operands = append(operands, webgpu.Operand{Name: "preluWeights", VectorWidth: cfg.Components})
	}
	uniforms := matmulUniforms(p.Epilogue.Activation)

	sn := Snippets{
		ReadA: matmulReadA(cfg, fit, p.TransposeA),
		ReadB: matmulReadB(cfg, fit, p.TransposeB),
		Write: matmulWrite(cfg, fit, p.Epilogue),
	}
	if p.Epilogue.Activation != webgpu.ActivationNone {
		sn.Activation = func() string { return p.Epilogue.Activation.Snippet(cfg.Components) }
	}

	source := Synthesize(cfg, fit, bindingsHeader(operands, uniforms), sn)
	key := webgpu.BuildShaderKey("matmul_packed",
		cfg.Components, cfg.AComponents, cfg.TileM, cfg.TileN, cfg.TileK, cfg.OutputNumber,
		webgpu.WorkgroupSize,
		fit.AOuter, fit.BOuter, fit.Inner,
		p.TransposeA, p.TransposeB,
		p.Epilogue.AddBias, p.Epilogue.Activation, p.Epilogue.PreluWeights)

	klog.V(1).Infof("matmul.NewProgram: key=%s, sharedBytes=%d", key, cfg.SharedMemoryBytes())
	return &webgpu.Program{
		Source:        source,
		Key:           key,
		Dispatch:      webgpu.ComputeDispatch(p.Batch, p.M, p.N, cfg.TileM, cfg.TileN),
		Operands:      operands,
		Uniforms:      uniforms,
		WorkgroupSize: webgpu.WorkgroupSize,
		SharedBytes:   cfg.SharedMemoryBytes(),
	}, nil
}

func matmulUniforms(activation webgpu.Activation) []webgpu.UniformField {
	fields := []webgpu.UniformField{
		{Name: "dimAOuter", Type: "i32"},
		{Name: "dimBOuter", Type: "i32"},
		{Name: "dimInner", Type: "i32"},
	}
	if activation.NeedsAlpha() {
		fields = append(fields, webgpu.UniformField{Name: "alpha", Type: "f32"})
	}
	return fields
}

// bindingsHeader declares the storage buffers and the uniform block, in
// binding order.
func bindingsHeader(operands []webgpu.Operand, uniforms []webgpu.UniformField) string {
	var sb strings.Builder
	for i, op := range operands {
		sb.WriteString(webgpu.StorageBuffer(i, op.Name, op.VectorWidth, op.Writable))
	}
	sb.WriteString(webgpu.UniformBlock(len(operands), uniforms))
	return sb.String()
}

// aStorageWidth is the declared element width of the A buffer. Transposed
// reads gather along the M stride and 3-wide reads are assembled from
// scalars (a packed vec3 storage array does not exist in WGSL), so both
// bind scalar.
func aStorageWidth(cfg TileConfig, transposed bool) int {
	if transposed {
		return 1
	}
	return cfg.aLoadWidth()
}

func bStorageWidth(cfg TileConfig, transposed bool) int {
	if transposed {
		return 1
	}
	return cfg.Components
}

// matmulReadA builds the A read helper: one AComponents-wide value at
// (batch, row, col=k). Bounds checks are emitted per dimension only when
// the matching fit flag is unset.
func matmulReadA(cfg TileConfig, fit FitFlags, transposed bool) func() string {
	return func() string {
		var conds []string
		if !fit.AOuter {
			conds = append(conds, "row < uniforms.dimAOuter")
		}
		if !fit.Inner {
			conds = append(conds, "col < uniforms.dimInner")
		}
		var load string
		switch {
		case transposed:
			// A stored [batch, K, M].
			parts := make([]string, cfg.AComponents)
			for j := range parts {
				parts[j] = offsetIndex("A", "base", j, "uniforms.dimAOuter")
			}
			load = "let base = batch * uniforms.dimAOuter * uniforms.dimInner + col * uniforms.dimAOuter + row;\n" +
				fmt.Sprintf("value = %s;", gatherValue(cfg.AComponents, parts))
		case cfg.AComponents == 3:
			parts := make([]string, 3)
			for j := range parts {
				parts[j] = offsetIndex("A", "base", j, "")
			}
			load = "let base = batch * uniforms.dimAOuter * uniforms.dimInner + row * uniforms.dimInner + col;\n" +
				fmt.Sprintf("value = %s;", gatherValue(3, parts))
		case cfg.AComponents == 1:
			load = "value = A[batch * uniforms.dimAOuter * uniforms.dimInner + row * uniforms.dimInner + col];"
		default:
			load = fmt.Sprintf(
				"value = A[(batch * uniforms.dimAOuter * uniforms.dimInner + row * uniforms.dimInner + col) / %d];",
				cfg.AComponents)
		}
		return readerFn("mm_readA", cfg.AComponents, conds, load)
	}
}

// matmulReadB builds the B read helper: one Components-wide value at
// (batch, row=k, col=n).
func matmulReadB(cfg TileConfig, fit FitFlags, transposed bool) func() string {
	return func() string {
		var conds []string
		if !fit.Inner {
			conds = append(conds, "row < uniforms.dimInner")
		}
		if !fit.BOuter {
			conds = append(conds, "col < uniforms.dimBOuter")
		}
		var load string
		switch {
		case transposed:
			// B stored [batch, N, K].
			parts := make([]string, cfg.Components)
			for j := range parts {
				parts[j] = offsetIndex("B", "base", j, "uniforms.dimInner")
			}
			load = "let base = batch * uniforms.dimInner * uniforms.dimBOuter + col * uniforms.dimInner + row;\n" +
				fmt.Sprintf("value = %s;", gatherValue(cfg.Components, parts))
		case cfg.Components == 1:
			load = "value = B[batch * uniforms.dimInner * uniforms.dimBOuter + row * uniforms.dimBOuter + col];"
		default:
			load = fmt.Sprintf(
				"value = B[(batch * uniforms.dimInner * uniforms.dimBOuter + row * uniforms.dimBOuter + col) / %d];",
				cfg.Components)
		}
		return readerFn("mm_readB", cfg.Components, conds, load)
	}
}

// matmulWrite builds the write helper, fusing bias addition and activation
// into the store of one Components-wide result vector.
func matmulWrite(cfg TileConfig, fit FitFlags, epilogue Epilogue) func() string {
	return func() string {
		var conds []string
		if !fit.AOuter {
			conds = append(conds, "row < uniforms.dimAOuter")
		}
		if !fit.BOuter {
			conds = append(conds, "col < uniforms.dimBOuter")
		}
		store := fmt.Sprintf(
			"result[(batch * uniforms.dimAOuter * uniforms.dimBOuter + row * uniforms.dimBOuter + col)%s] = value;",
			divSuffix(cfg.Components))
		return writerFn(cfg.Components, conds, epilogue, store)
	}
}

// readerFn assembles a "fn <name>(batch, row, col) -> T" helper that
// returns zero for out-of-range coordinates.
func readerFn(name string, width int, conds []string, load string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s(batch : i32, row : i32, col : i32) -> %s {\n", name, webgpu.VecType(width))
	fmt.Fprintf(&sb, "  var value = %s;\n", webgpu.Zero(width))
	writeGuarded(&sb, conds, load)
	sb.WriteString("  return value;\n}\n")
	return sb.String()
}

// writerFn assembles the "fn mm_write(batch, row, col, valueIn)" helper.
func writerFn(width int, conds []string, epilogue Epilogue, store string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn mm_write(batch : i32, row : i32, col : i32, valueIn : %s) {\n", webgpu.VecType(width))
	var body strings.Builder
	body.WriteString("var value = valueIn;\n")
	if epilogue.AddBias {
		fmt.Fprintf(&body, "value = value + bias[col%s];\n", divSuffix(width))
	}
	if epilogue.Activation != webgpu.ActivationNone {
		body.WriteString("value = activation(value, col);\n")
	}
	body.WriteString(store)
	writeGuarded(&sb, conds, body.String())
	sb.WriteString("}\n")
	return sb.String()
}

// writeGuarded emits body indented inside the function, wrapped in an if
// over conds when any are present.
func writeGuarded(sb *strings.Builder, conds []string, body string) {
	indent := "  "
	if len(conds) > 0 {
		fmt.Fprintf(sb, "  if (%s) {\n", strings.Join(conds, " && "))
		indent = "    "
	}
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		sb.WriteString(indent + line + "\n")
	}
	if len(conds) > 0 {
		sb.WriteString("  }\n")
	}
}

// gatherValue builds a width-wide value from per-component load
// expressions: the expression itself for scalars, a vector constructor
// otherwise.
func gatherValue(width int, parts []string) string {
	if width == 1 {
		return parts[0]
	}
	return fmt.Sprintf("%s(%s)", webgpu.VecType(width), strings.Join(parts, ", "))
}

// offsetIndex renders buffer[base + j * stride] (with the obvious
// simplifications for j == 0 and an empty stride).
func offsetIndex(buffer, base string, j int, stride string) string {
	switch {
	case j == 0:
		return fmt.Sprintf("%s[%s]", buffer, base)
	case stride == "":
		return fmt.Sprintf("%s[%s + %d]", buffer, base, j)
	case j == 1:
		return fmt.Sprintf("%s[%s + %s]", buffer, base, stride)
	default:
		return fmt.Sprintf("%s[%s + %d * %s]", buffer, base, j, stride)
	}
}

// divSuffix renders the "/ width" scaling of a flat element index into a
// vectorized storage array.
func divSuffix(width int) string {
	if width == 1 {
		return ""
	}
	return fmt.Sprintf(" / %d", width)
}
