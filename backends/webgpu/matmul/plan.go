// Package matmul generates WGSL compute kernels for shared-memory-tiled
// matrix multiplication, plus the convolution-as-matmul variant. Given the
// problem shape and the operations fused into the epilogue, it plans tile
// sizes and vector widths, synthesizes the kernel text and returns a
// webgpu.Program with the launch geometry and cache key.
package matmul

import (
	"k8s.io/klog/v2"

	"github.com/pkg/errors"
	"github.com/web-intel/tfjs/backends/webgpu"
)

// Tiling heuristics. The values are performance tuning knobs; the
// divisibility rules around them are not (see TileConfig).
const (
	// canonicalTileDim caps tileM and tileN; dimensions below it use the
	// full dimension as the tile, avoiding wasted tile rows.
	canonicalTileDim = 32

	// baseTileK and deepTileK are the reduction-tile targets for normal and
	// deep reductions. A deeper reduction amortizes more barrier-separated
	// loop iterations per tile before shared-memory pressure wins.
	baseTileK = 32
	deepTileK = 64

	// deepReductionThreshold is the K above which deepTileK applies.
	deepReductionThreshold = 1000
)

// ErrInvalidConfiguration reports a tile configuration that violates one of
// the divisibility rules the unrolled kernel text depends on. It is never
// retried: a violation means an unsupported shape combination or a planner
// bug, and any fallback tiling could read or write outside the declared
// shared-memory bounds.
var ErrInvalidConfiguration = errors.New("invalid tile configuration")

// SelectVectorWidth returns the first candidate, in order, that evenly
// divides size, falling back to 1. Candidates are conventionally listed in
// descending preference order, so the result is the widest usable width.
func SelectVectorWidth(size int, candidates []int) int {
	for _, c := range candidates {
		if size%c == 0 {
			return c
		}
	}
	return 1
}

// TileConfig fixes the tiling of one generated kernel:
//
//   - TileM×TileK and TileK×TileN operand tiles staged in shared memory;
//   - Components, the vector width of the second operand and the output
//     (either 4 or 1: the write-back path has no 2- or 3-wide form);
//   - AComponents, the read width of the reduction operand (3 is allowed
//     here because it is read per component, never written);
//   - OutputNumber, the rows of output accumulated per invocation.
//
// The kernel text is unrolled over these widths at generation time, so the
// divisibility rules (TileN%Components, TileM%OutputNumber,
// TileK%AComponents) are load-bearing: TileConfig values only exist through
// newTileConfig, which rejects any violation with ErrInvalidConfiguration.
type TileConfig struct {
	TileM, TileN, TileK int

	Components   int
	AComponents  int
	OutputNumber int
}

func newTileConfig(tileM, tileN, tileK, components, aComponents, outputNumber int) (TileConfig, error) {
	cfg := TileConfig{
		TileM:        tileM,
		TileN:        tileN,
		TileK:        tileK,
		Components:   components,
		AComponents:  aComponents,
		OutputNumber: outputNumber,
	}
	if tileN%components != 0 {
		return TileConfig{}, errors.Wrapf(ErrInvalidConfiguration,
			"tileN=%d is not divisible by components=%d", tileN, components)
	}
	if tileM%outputNumber != 0 {
		return TileConfig{}, errors.Wrapf(ErrInvalidConfiguration,
			"tileM=%d is not divisible by outputNumber=%d", tileM, outputNumber)
	}
	if tileK%aComponents != 0 {
		return TileConfig{}, errors.Wrapf(ErrInvalidConfiguration,
			"tileK=%d is not divisible by aComponents=%d", tileK, aComponents)
	}
	return cfg, nil
}

// PlanTiles derives the tile configuration for a (batch, M, K) × (batch, K, N)
// multiplication. When conv is set, the reduction operand is the implicit
// im2col matrix of a convolution and its read width is chosen from
// channelSize (the innermost contiguous run of K) instead of K itself, so a
// vectorized read never straddles a filter-tap boundary; pass channelSize=K
// for a plain matmul.
func PlanTiles(m, n, k int, conv bool, channelSize int) (TileConfig, error) {
	// Output writes are vec4 or scalar, nothing in between.
	components := 1
	if n%4 == 0 {
		components = 4
	}

	widthSource := k
	if conv {
		widthSource = channelSize
	}
	aComponents := SelectVectorWidth(widthSource, []int{4, 3, 2, 1})

	tileM := min(m, canonicalTileDim)
	tileN := min(n, canonicalTileDim)

	var tileK int
	if k < canonicalTileDim {
		tileK = k
	} else {
		target := baseTileK
		if k > deepReductionThreshold {
			target = deepTileK
		}
		tileK = webgpu.RoundUp(target, aComponents)
	}

	outputNumber := tileM
	if tileM >= 4 {
		outputNumber = SelectVectorWidth(tileM, []int{4, 2, 1})
	}

	cfg, err := newTileConfig(tileM, tileN, tileK, components, aComponents, outputNumber)
	if err != nil {
		return TileConfig{}, err
	}
	klog.V(1).Infof("matmul.PlanTiles(m=%d, n=%d, k=%d, conv=%v): %+v", m, n, k, conv, cfg)
	return cfg, nil
}

// FitFlags records which dimensions are exact multiples of their tile size.
// A set flag lets the synthesizer elide the bounds check for that dimension;
// the specialization is sound only because the flag is derived, never set by
// hand.
type FitFlags struct {
	AOuter bool // M % TileM == 0
	BOuter bool // N % TileN == 0
	Inner  bool // K % TileK == 0
}

// Fit derives the fit flags of this configuration for the given shape.
func (cfg TileConfig) Fit(m, n, k int) FitFlags {
	return FitFlags{
		AOuter: m%cfg.TileM == 0,
		BOuter: n%cfg.TileN == 0,
		Inner:  k%cfg.TileK == 0,
	}
}

// aLoadWidth is the per-register read width for the reduction operand. A
// 3-wide read is assembled from scalar loads (vec3 storage arrays pad to a
// 16-byte stride, which would break packed indexing), so the effective load
// width collapses to 1 while the shared tile still sizes by 3.
func (cfg TileConfig) aLoadWidth() int {
	if cfg.AComponents == 3 {
		return 1
	}
	return cfg.AComponents
}

// aTileCols is the column count of the shared tile of the reduction
// operand, in AComponents-wide vectors.
func (cfg TileConfig) aTileCols() int {
	return cfg.TileK / cfg.AComponents
}

// bTileCols is the column count of the shared tile of the second operand,
// in Components-wide vectors.
func (cfg TileConfig) bTileCols() int {
	return cfg.TileN / cfg.Components
}

// SharedMemoryBytes returns the workgroup-memory footprint of the two
// operand tiles, including vec3 padding.
func (cfg TileConfig) SharedMemoryBytes() int {
	aBytes := cfg.TileM * cfg.aTileCols() * webgpu.VecElementBytes(cfg.AComponents)
	bBytes := cfg.TileK * cfg.bTileCols() * webgpu.VecElementBytes(cfg.Components)
	return aBytes + bBytes
}
