// Package webgpu holds the plumbing shared by the WebGPU kernel generators:
// the Program descriptor returned to the execution host, dispatch geometry,
// shader-key building and the WGSL snippet helpers (vector types, uniform
// blocks, activation functions).
//
// The package only produces text and value objects. Compiling the WGSL,
// allocating buffers and dispatching the kernel are owned by the execution
// host; the Program descriptor is the full contract between the two sides.
package webgpu

// WorkgroupSize is the number of invocations per workgroup for all kernels
// emitted by this package's generators. The generators lay the workgroup out
// one-dimensionally and assign work by striding the linear invocation index.
const WorkgroupSize = 64

// Operand describes one buffer binding of a generated kernel, in binding
// order. VectorWidth is the element width of the storage array as declared
// in the shader: the host must bind a buffer whose size is a multiple of it.
type Operand struct {
	Name        string
	VectorWidth int
	Writable    bool
}

// UniformField is one scalar (or small vector) entry of the kernel's uniform
// block. Field order in Program.Uniforms matches the declaration order in
// the emitted WGSL, and the host must fill the block in exactly this order.
type UniformField struct {
	Name string
	Type string
}

// Program is the complete result of generating one kernel: the WGSL source,
// the launch geometry, the cache key and the binding/uniform contracts.
// It is immutable once built.
type Program struct {
	Source   string
	Key      string
	Dispatch DispatchGeometry

	// Operands lists the storage-buffer bindings in declaration order,
	// starting at @binding(0). The uniform block always takes the binding
	// immediately after the last operand.
	Operands []Operand

	Uniforms []UniformField

	WorkgroupSize int

	// SharedBytes is the workgroup (shared) memory footprint of the two
	// operand tiles, including vec3 padding to a 16-byte stride.
	SharedBytes int
}
