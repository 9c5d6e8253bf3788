// wgsl_generator emits one tiled matrix-multiplication WGSL kernel (or the
// conv2d-as-matmul variant) for the given shapes and epilogue, printing the
// source plus launch geometry, or the full program descriptor as JSON.
//
// Examples:
//
//	wgsl_generator -m=64 -n=64 -k=64 -bias -activation=relu
//	wgsl_generator -conv -in-height=28 -in-width=28 -in-channels=32 \
//	    -out-channels=64 -filter=3 -json
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/web-intel/tfjs/backends/webgpu"
	"github.com/web-intel/tfjs/backends/webgpu/matmul"
)

var (
	flagBatch      = flag.Int("batch", 1, "Batch size.")
	flagM          = flag.Int("m", 64, "Output rows (M).")
	flagN          = flag.Int("n", 64, "Output columns (N).")
	flagK          = flag.Int("k", 64, "Reduction (contraction) dimension.")
	flagTransposeA = flag.Bool("transpose-a", false, "First operand is stored transposed.")
	flagTransposeB = flag.Bool("transpose-b", false, "Second operand is stored transposed.")

	flagBias       = flag.Bool("bias", false, "Fuse a bias addition into the epilogue.")
	flagActivation = flag.String("activation", "none",
		"Fused activation: none, relu, relu6, prelu, sigmoid, leaky_relu or elu.")

	flagConv        = flag.Bool("conv", false, "Generate the conv2d-as-matmul variant.")
	flagInHeight    = flag.Int("in-height", 28, "Conv input height.")
	flagInWidth     = flag.Int("in-width", 28, "Conv input width.")
	flagInChannels  = flag.Int("in-channels", 32, "Conv input channels.")
	flagOutChannels = flag.Int("out-channels", 64, "Conv output channels.")
	flagFilter      = flag.Int("filter", 3, "Conv filter size (square).")
	flagStride      = flag.Int("stride", 1, "Conv stride (both axes).")
	flagPad         = flag.Int("pad", 0, "Conv leading padding (both axes).")
	flagDilation    = flag.Int("dilation", 1, "Conv dilation (both axes).")
	flagNCHW        = flag.Bool("nchw", false, "Use NCHW (channels-first) layout for conv.")

	flagJSON = flag.Bool("json", false, "Print the full program descriptor as JSON.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	activation := must.M1(webgpu.ActivationFromName(*flagActivation))
	epilogue := matmul.Epilogue{
		AddBias:      *flagBias,
		Activation:   activation,
		PreluWeights: activation == webgpu.ActivationPrelu,
	}

	var program *webgpu.Program
	if *flagConv {
		layout := matmul.LayoutNHWC
		if *flagNCHW {
			layout = matmul.LayoutNCHW
		}
		outHeight := convOutDim(*flagInHeight, *flagFilter, *flagStride, *flagPad, *flagDilation)
		outWidth := convOutDim(*flagInWidth, *flagFilter, *flagStride, *flagPad, *flagDilation)
		program = must.M1(matmul.NewConv2DProgram(matmul.Conv2DParams{
			Batch:        *flagBatch,
			InHeight:     *flagInHeight,
			InWidth:      *flagInWidth,
			InChannels:   *flagInChannels,
			OutHeight:    outHeight,
			OutWidth:     outWidth,
			OutChannels:  *flagOutChannels,
			FilterHeight: *flagFilter,
			FilterWidth:  *flagFilter,
			StrideH:      *flagStride,
			StrideW:      *flagStride,
			PadTop:       *flagPad,
			PadLeft:      *flagPad,
			DilationH:    *flagDilation,
			DilationW:    *flagDilation,
			Layout:       layout,
			Epilogue:     epilogue,
		}))
	} else {
		program = must.M1(matmul.NewProgram(matmul.Params{
			Batch:      *flagBatch,
			M:          *flagM,
			N:          *flagN,
			K:          *flagK,
			TransposeA: *flagTransposeA,
			TransposeB: *flagTransposeB,
			Epilogue:   epilogue,
		}))
	}
	klog.V(1).Infof("%d workgroup(s) of %d, %s of workgroup memory",
		program.Dispatch.X, program.WorkgroupSize, humanize.Bytes(uint64(program.SharedBytes)))

	if *flagJSON {
		out := must.M1(json.MarshalIndent(program, "", "  "))
		os.Stdout.Write(append(out, '\n'))
		return
	}
	fmt.Printf("// %s\n", program.Key)
	fmt.Printf("// dispatch: (%d, %d, %d)\n", program.Dispatch.X, program.Dispatch.Y, program.Dispatch.Z)
	for i, op := range program.Operands {
		fmt.Printf("// binding %d: %s (width %d)\n", i, op.Name, op.VectorWidth)
	}
	fmt.Println(program.Source)
}

// convOutDim is the standard output size of a convolution with symmetric
// explicit padding on one axis.
func convOutDim(in, filter, stride, pad, dilation int) int {
	effective := (filter-1)*dilation + 1
	return (in+2*pad-effective)/stride + 1
}
