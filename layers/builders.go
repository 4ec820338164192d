/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package layers

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/xslices"
)

// Input creates a model input layer. The shape declares only the spatial
// axes (no batch, no channels): a trailing channels axis of dimension 1 is
// assumed. One unit is created per spatial position.
func Input(name string, shape shapes.Shape) *Layer {
	if shape.IsTuple() {
		Panicf("layers.Input(%q): tuple shapes are not supported", name)
	}
	return &Layer{
		Name:  name,
		Type:  TypeInput,
		Shape: shape,
	}
}

// outputShape assembles a per-sample shape from spatial dimensions plus a
// trailing channels axis.
func outputShape(like shapes.Shape, spatial []int, channels int) shapes.Shape {
	dims := make([]int, 0, len(spatial)+1)
	dims = append(dims, spatial...)
	dims = append(dims, channels)
	return shapes.Make(like.DType, dims...)
}

// checkPadding panics if padding doesn't have one (prefix, suffix) pair per
// spatial axis of the input.
func checkPadding(name string, input *Layer, padding [][2]int) {
	if len(padding) != len(input.SpatialDimensions()) {
		Panicf("layer %q: got %d padding pairs for input %q with %d spatial axes",
			name, len(padding), input.Name, len(input.SpatialDimensions()))
	}
}

// ZeroPadding creates a layer that pads every spatial axis of input with
// zeros. padding gives the (prefix, suffix) amounts per spatial axis.
func ZeroPadding(name string, input *Layer, padding ...[2]int) *Layer {
	checkPadding(name, input, padding)
	spatial := xslices.Copy(input.SpatialDimensions())
	for axis := range spatial {
		spatial[axis] += padding[axis][0] + padding[axis][1]
	}
	return &Layer{
		Name:    name,
		Type:    TypeZeroPadding,
		Shape:   outputShape(input.Shape, spatial, input.Channels()),
		Inputs:  []*Layer{input},
		Padding: padding,
	}
}

// PeriodicPadding creates a layer that pads every spatial axis of input by
// wrapping around periodically, as used for periodic boundary conditions.
// padding gives the (prefix, suffix) amounts per spatial axis.
func PeriodicPadding(name string, input *Layer, padding ...[2]int) *Layer {
	checkPadding(name, input, padding)
	layer := ZeroPadding(name, input, padding...)
	layer.Type = TypePeriodicPadding
	return layer
}

// Elementwise creates a layer that applies activation independently to every
// value of input. A nil activation means identity, useful to model shape-only
// layers (e.g. casts) whose dependency structure is one-to-one.
func Elementwise(name string, input *Layer, activation func(x float64) float64) *Layer {
	return &Layer{
		Name:       name,
		Type:       TypeElementwise,
		Shape:      outputShape(input.Shape, input.SpatialDimensions(), input.Channels()),
		Inputs:     []*Layer{input},
		Activation: activation,
	}
}

// ConvBuilder is a helper to describe a convolution layer. Create it with
// Convolution, set the desired parameters and call Done.
type ConvBuilder struct {
	name           string
	input          *Layer
	numSpatialDims int
	filters        int
	kernelSize     []int
	strides        []int
	dilations      []int
	kernel, bias   *tensors.Tensor
}

// Convolution starts the description of an N-dimensional "valid" (no implicit
// padding) convolution over input. Padding, if wanted, is expressed with a
// separate ZeroPadding or PeriodicPadding layer, so the autoregressive
// dependency structure of the model stays explicit.
//
// Two parameters must be set before calling Done: Filters and KernelSize
// (or KernelSizePerDim).
func Convolution(name string, input *Layer) *ConvBuilder {
	conv := &ConvBuilder{
		name:           name,
		input:          input,
		numSpatialDims: len(input.SpatialDimensions()),
	}
	return conv.Strides(1).Dilations(1)
}

// Filters sets the number of output channels. There is no default and this
// must be set before Done is called.
func (conv *ConvBuilder) Filters(filters int) *ConvBuilder {
	if filters <= 0 {
		Panicf("layer %q: number of filters must be > 0, it was set to %d", conv.name, filters)
	}
	conv.filters = filters
	return conv
}

// KernelSize sets the same kernel size for every spatial axis. There is no
// default and the kernel size must be set before Done is called.
func (conv *ConvBuilder) KernelSize(size int) *ConvBuilder {
	return conv.KernelSizePerDim(xslices.SliceWithValue(conv.numSpatialDims, size)...)
}

// KernelSizePerDim sets the kernel size for each spatial axis individually.
func (conv *ConvBuilder) KernelSizePerDim(sizes ...int) *ConvBuilder {
	if len(sizes) != conv.numSpatialDims {
		Panicf("layer %q: received %d kernel sizes, but input %q has %d spatial axes",
			conv.name, len(sizes), conv.input.Name, conv.numSpatialDims)
	}
	conv.kernelSize = sizes
	return conv
}

// Strides sets the same stride for every spatial axis. Default is 1.
func (conv *ConvBuilder) Strides(stride int) *ConvBuilder {
	return conv.StridePerDim(xslices.SliceWithValue(conv.numSpatialDims, stride)...)
}

// StridePerDim sets the stride for each spatial axis individually.
func (conv *ConvBuilder) StridePerDim(strides ...int) *ConvBuilder {
	if len(strides) != conv.numSpatialDims {
		Panicf("layer %q: received %d strides, but input %q has %d spatial axes",
			conv.name, len(strides), conv.input.Name, conv.numSpatialDims)
	}
	conv.strides = strides
	return conv
}

// Dilations sets the same dilation for every spatial axis. Default is 1.
func (conv *ConvBuilder) Dilations(dilation int) *ConvBuilder {
	return conv.DilationPerDim(xslices.SliceWithValue(conv.numSpatialDims, dilation)...)
}

// DilationPerDim sets the dilation for each spatial axis individually.
func (conv *ConvBuilder) DilationPerDim(dilations ...int) *ConvBuilder {
	if len(dilations) != conv.numSpatialDims {
		Panicf("layer %q: received %d dilations, but input %q has %d spatial axes",
			conv.name, len(dilations), conv.input.Name, conv.numSpatialDims)
	}
	conv.dilations = dilations
	return conv
}

// WithKernel attaches convolution weights, shaped
// [kernelSize..., inputChannels, filters]. They are only needed for host
// evaluation of the model (fastar.Evaluator); the dependency structure
// doesn't depend on them.
func (conv *ConvBuilder) WithKernel(kernel *tensors.Tensor) *ConvBuilder {
	conv.kernel = kernel
	return conv
}

// WithBias attaches a per-filter bias, shaped [filters]. Optional.
func (conv *ConvBuilder) WithBias(bias *tensors.Tensor) *ConvBuilder {
	conv.bias = bias
	return conv
}

// Done validates the parameters, computes the output shape and returns the
// convolution Layer.
func (conv *ConvBuilder) Done() *Layer {
	if conv.filters == 0 {
		Panicf("layer %q: Filters must be set for a convolution", conv.name)
	}
	if conv.kernelSize == nil {
		Panicf("layer %q: KernelSize must be set for a convolution", conv.name)
	}
	inSpatial := conv.input.SpatialDimensions()
	outSpatial := make([]int, conv.numSpatialDims)
	for axis := range outSpatial {
		span := conv.dilations[axis]*(conv.kernelSize[axis]-1) + 1
		extent := inSpatial[axis] - span
		if extent < 0 {
			Panicf("layer %q: kernel size %d (dilation %d) doesn't fit input %q axis %d of dimension %d",
				conv.name, conv.kernelSize[axis], conv.dilations[axis], conv.input.Name, axis, inSpatial[axis])
		}
		outSpatial[axis] = extent/conv.strides[axis] + 1
	}
	if conv.kernel != nil {
		wantDims := make([]int, 0, conv.numSpatialDims+2)
		wantDims = append(wantDims, conv.kernelSize...)
		wantDims = append(wantDims, conv.input.Channels(), conv.filters)
		want := shapes.Make(conv.kernel.DType(), wantDims...)
		if !conv.kernel.Shape().Equal(want) {
			Panicf("layer %q: kernel shaped %s, want %s", conv.name, conv.kernel.Shape(), want)
		}
	}
	return &Layer{
		Name:       conv.name,
		Type:       TypeConvolution,
		Shape:      outputShape(conv.input.Shape, outSpatial, conv.filters),
		Inputs:     []*Layer{conv.input},
		KernelSize: conv.kernelSize,
		Strides:    conv.strides,
		Dilations:  conv.dilations,
		Filters:    conv.filters,
		Kernel:     conv.kernel,
		Bias:       conv.bias,
	}
}
