package webgpu

import "golang.org/x/exp/constraints"

// DispatchGeometry is the workgroup grid for one kernel launch.
type DispatchGeometry struct {
	X, Y, Z int
}

// ComputeDispatch returns the geometry for a tiled 2D kernel: one workgroup
// per (batch, row-tile, column-tile) triple, collapsed onto the X axis as a
// single linear count. The kernel recovers the three indices from the linear
// workgroup index by integer division against the tile counts.
func ComputeDispatch(batch, m, n, tileM, tileN int) DispatchGeometry {
	return DispatchGeometry{
		X: batch * CeilDiv(m, tileM) * CeilDiv(n, tileN),
		Y: 1,
		Z: 1,
	}
}

// CeilDiv returns ceil(a/b) for positive a, b.
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// RoundUp returns the smallest multiple of m that is >= value.
func RoundUp[T constraints.Integer](value, m T) T {
	return CeilDiv(value, m) * m
}
