package matmul

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/web-intel/tfjs/backends/webgpu"
)

// Snippets are the text-producing collaborators the synthesizer composes
// with. Each produces one self-contained WGSL helper: ReadA and ReadB read
// one vector-width element of their operand ("fn mm_readA(batch, row, col)"),
// Write stores one accumulated vector through the epilogue ("fn mm_write"),
// and Activation is the optional "fn activation" Write calls into. The
// synthesizer never inspects the produced text; indexing, layout, transpose
// handling and bounds checks live entirely inside the snippets.
type Snippets struct {
	ReadA      func() string
	ReadB      func() string
	Write      func() string
	Activation func() string
}

// Synthesize emits the complete kernel: the caller-provided header (buffer
// bindings and uniform block), the snippet helpers, the shared-memory tile
// declarations and the tile-loop main function. It is a deterministic text
// transformation: all validity checking happened when cfg was constructed.
//
// The main function runs webgpu.WorkgroupSize invocations, one-dimensional.
// Each reduction-loop iteration cooperatively stages one TileM×TileK and one
// TileK×TileN tile into workgroup memory (slots assigned by striding the
// invocation index), barriers, accumulates cfg.OutputNumber rows per output
// cell with unrolled fused multiply-adds, and barriers again before the next
// iteration overwrites the tiles.
func Synthesize(cfg TileConfig, fit FitFlags, header string, sn Snippets) string {
	if sn.ReadA == nil || sn.ReadB == nil || sn.Write == nil {
		exceptions.Panicf("matmul.Synthesize: missing read/write snippets")
	}

	var (
		aCols     = cfg.aTileCols()
		bCols     = cfg.bTileCols()
		aSlots    = cfg.TileM * aCols
		bSlots    = cfg.TileK * bCols
		rowGroups = cfg.TileM / cfg.OutputNumber
		numCells  = rowGroups * bCols
		cells     = webgpu.CeilDiv(numCells, webgpu.WorkgroupSize)
		guarded   = numCells%webgpu.WorkgroupSize != 0
		accType   = webgpu.VecType(cfg.Components)
	)

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	if sn.Activation != nil {
		sb.WriteString(sn.Activation())
	}
	sb.WriteString(sn.ReadA())
	sb.WriteString(sn.ReadB())
	sb.WriteString(sn.Write())
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "const tileM : i32 = %d;\n", cfg.TileM)
	fmt.Fprintf(&sb, "const tileN : i32 = %d;\n", cfg.TileN)
	fmt.Fprintf(&sb, "const tileK : i32 = %d;\n", cfg.TileK)
	fmt.Fprintf(&sb, "const rowPerThread : i32 = %d;\n", cfg.OutputNumber)
	fmt.Fprintf(&sb, "const workgroupSize : i32 = %d;\n", webgpu.WorkgroupSize)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "var<workgroup> mm_Asub : array<array<%s, %d>, %d>;\n",
		webgpu.VecType(cfg.AComponents), aCols, cfg.TileM)
	fmt.Fprintf(&sb, "var<workgroup> mm_Bsub : array<array<%s, %d>, %d>;\n",
		webgpu.VecType(cfg.Components), bCols, cfg.TileK)
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d, 1, 1)\n", webgpu.WorkgroupSize)
	sb.WriteString("fn main(@builtin(local_invocation_index) localIndex : u32,\n")
	sb.WriteString("        @builtin(workgroup_id) workgroupId : vec3<u32>) {\n")
	sb.WriteString("  let index = i32(localIndex);\n")
	sb.WriteString("  let numTilesM = (uniforms.dimAOuter + tileM - 1) / tileM;\n")
	sb.WriteString("  let numTilesN = (uniforms.dimBOuter + tileN - 1) / tileN;\n")
	sb.WriteString("  let numTilesK = (uniforms.dimInner + tileK - 1) / tileK;\n")
	sb.WriteString("  let wg = i32(workgroupId.x);\n")
	sb.WriteString("  let batch = wg / (numTilesM * numTilesN);\n")
	sb.WriteString("  let tileId = wg % (numTilesM * numTilesN);\n")
	sb.WriteString("  let tileRowStart = (tileId / numTilesN) * tileM;\n")
	sb.WriteString("  let tileColStart = (tileId % numTilesN) * tileN;\n")
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  var acc : array<array<%s, %d>, %d>;\n", accType, cfg.OutputNumber, cells)
	sb.WriteString("\n")
	sb.WriteString("  for (var t = 0; t < numTilesK; t = t + 1) {\n")
	sb.WriteString("    let kBase = t * tileK;\n")
	fmt.Fprintf(&sb, "    for (var i = index; i < %d; i = i + workgroupSize) {\n", aSlots)
	fmt.Fprintf(&sb, "      mm_Asub[i / %d][i %% %d] = mm_readA(batch, tileRowStart + i / %d, kBase + (i %% %d) * %d);\n",
		aCols, aCols, aCols, aCols, cfg.AComponents)
	sb.WriteString("    }\n")
	fmt.Fprintf(&sb, "    for (var i = index; i < %d; i = i + workgroupSize) {\n", bSlots)
	fmt.Fprintf(&sb, "      mm_Bsub[i / %d][i %% %d] = mm_readB(batch, kBase + i / %d, tileColStart + (i %% %d) * %d);\n",
		bCols, bCols, bCols, bCols, cfg.Components)
	sb.WriteString("    }\n")
	sb.WriteString("    workgroupBarrier();\n")
	sb.WriteString("\n")
	sb.WriteString(computePhase(cfg, numCells, cells, guarded))
	sb.WriteString("    workgroupBarrier();\n")
	sb.WriteString("  }\n")
	sb.WriteString("\n")
	sb.WriteString(writePhase(cfg, numCells, cells, guarded))
	sb.WriteString("}\n")
	return sb.String()
}

// computePhase emits the accumulation over the staged tiles. Output cells
// (one cell = OutputNumber rows × Components columns) are assigned by the
// same invocation-index striding as the loads; the per-cell inner product is
// unrolled over AComponents at generation time.
func computePhase(cfg TileConfig, numCells, cells int, guarded bool) string {
	var sb strings.Builder
	bCols := cfg.bTileCols()
	fmt.Fprintf(&sb, "    for (var c = 0; c < %d; c = c + 1) {\n", cells)
	sb.WriteString("      let cell = index + c * workgroupSize;\n")
	indent := "      "
	if guarded {
		fmt.Fprintf(&sb, "      if (cell < %d) {\n", numCells)
		indent = "        "
	}
	fmt.Fprintf(&sb, "%slet cellRow = (cell / %d) * rowPerThread;\n", indent, bCols)
	fmt.Fprintf(&sb, "%slet cellCol = cell %% %d;\n", indent, bCols)
	fmt.Fprintf(&sb, "%sfor (var kk = 0; kk < %d; kk = kk + 1) {\n", indent, cfg.aTileCols())
	fmt.Fprintf(&sb, "%s  for (var r = 0; r < rowPerThread; r = r + 1) {\n", indent)
	fmt.Fprintf(&sb, "%s    let aVal = mm_Asub[cellRow + r][kk];\n", indent)
	for j := 0; j < cfg.AComponents; j++ {
		fmt.Fprintf(&sb, "%s    acc[c][r] = fma(%s, mm_Bsub[kk * %d + %d][cellCol], acc[c][r]);\n",
			indent,
			webgpu.Splat(cfg.Components, "aVal"+webgpu.Component(j, cfg.AComponents)),
			cfg.AComponents, j)
	}
	fmt.Fprintf(&sb, "%s  }\n", indent)
	fmt.Fprintf(&sb, "%s}\n", indent)
	if guarded {
		sb.WriteString("      }\n")
	}
	sb.WriteString("    }\n")
	return sb.String()
}

// writePhase emits the epilogue: every invocation hands its accumulated
// vectors to mm_write, which applies bias and activation and stores.
func writePhase(cfg TileConfig, numCells, cells int, guarded bool) string {
	var sb strings.Builder
	bCols := cfg.bTileCols()
	fmt.Fprintf(&sb, "  for (var c = 0; c < %d; c = c + 1) {\n", cells)
	sb.WriteString("    let cell = index + c * workgroupSize;\n")
	indent := "    "
	if guarded {
		fmt.Fprintf(&sb, "    if (cell < %d) {\n", numCells)
		indent = "      "
	}
	fmt.Fprintf(&sb, "%slet cellRow = (cell / %d) * rowPerThread;\n", indent, bCols)
	fmt.Fprintf(&sb, "%slet col = tileColStart + (cell %% %d) * %d;\n", indent, bCols, cfg.Components)
	fmt.Fprintf(&sb, "%sfor (var r = 0; r < rowPerThread; r = r + 1) {\n", indent)
	fmt.Fprintf(&sb, "%s  mm_write(batch, tileRowStart + cellRow + r, col, acc[c][r]);\n", indent)
	fmt.Fprintf(&sb, "%s}\n", indent)
	if guarded {
		sb.WriteString("    }\n")
	}
	sb.WriteString("  }\n")
	return sb.String()
}
