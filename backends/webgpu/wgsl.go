package webgpu

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// VecType returns the WGSL f32 type of the given vector width: "f32" for
// width 1, "vecN<f32>" otherwise.
func VecType(width int) string {
	switch width {
	case 1:
		return "f32"
	case 2, 3, 4:
		return fmt.Sprintf("vec%d<f32>", width)
	}
	exceptions.Panicf("webgpu.VecType: invalid vector width %d", width)
	return ""
}

// Zero returns the WGSL zero value of VecType(width).
func Zero(width int) string {
	if width == 1 {
		return "0.0"
	}
	return fmt.Sprintf("%s(0.0)", VecType(width))
}

// Splat widens the scalar expression expr to VecType(width).
func Splat(width int, expr string) string {
	if width == 1 {
		return expr
	}
	return fmt.Sprintf("%s(%s)", VecType(width), expr)
}

// Component returns the selector for the i-th component of a value of the
// given width ("" for scalars, ".x"/".y"/".z"/".w" for vectors).
func Component(i, width int) string {
	if width == 1 {
		return ""
	}
	if i < 0 || i >= width {
		exceptions.Panicf("webgpu.Component: component %d out of range for width %d", i, width)
	}
	return [4]string{".x", ".y", ".z", ".w"}[i]
}

// VecElementBytes returns the storage size in bytes of one VecType(width)
// element in the workgroup address space. vec3 pads to a 16-byte stride.
func VecElementBytes(width int) int {
	switch width {
	case 1:
		return 4
	case 2:
		return 8
	case 3, 4:
		return 16
	}
	exceptions.Panicf("webgpu.VecElementBytes: invalid vector width %d", width)
	return 0
}

// UniformBlock emits the WGSL "Params" struct declaration plus its
// var<uniform> binding at the given binding index. The host must supply the
// fields in exactly this order at dispatch time.
func UniformBlock(binding int, fields []UniformField) string {
	var sb strings.Builder
	sb.WriteString("struct Params {\n")
	for _, f := range fields {
		fmt.Fprintf(&sb, "  %s : %s,\n", f.Name, f.Type)
	}
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> uniforms : Params;\n", binding)
	return sb.String()
}

// StorageBuffer emits one storage-buffer binding declaration.
func StorageBuffer(binding int, name string, width int, writable bool) string {
	access := "read"
	if writable {
		access = "read_write"
	}
	return fmt.Sprintf("@group(0) @binding(%d) var<storage, %s> %s : array<%s>;\n",
		binding, access, name, VecType(width))
}
