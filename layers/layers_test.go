package layers

import (
	"testing"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputSpatialAndChannels(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 4, 5))
	assert.Equal(t, TypeInput, input.Type)
	// Every declared axis of an input is spatial; channels are assumed 1.
	assert.Equal(t, []int{4, 5}, input.SpatialDimensions())
	assert.Equal(t, 20, input.SpatialSize())
	assert.Equal(t, 1, input.Channels())
}

func TestZeroPaddingShape(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 4, 4))
	padded := ZeroPadding("pad", input, [2]int{1, 2}, [2]int{0, 3})
	assert.Equal(t, []int{7, 7}, padded.SpatialDimensions())
	assert.Equal(t, 1, padded.Channels())
	assert.Equal(t, []int{7, 7, 1}, padded.Shape.Dimensions)

	require.Panics(t, func() { ZeroPadding("bad", input, [2]int{1, 1}) },
		"padding pairs must match the spatial rank")
}

func TestPeriodicPaddingShape(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 6))
	padded := PeriodicPadding("pad", input, [2]int{2, 2})
	assert.Equal(t, TypePeriodicPadding, padded.Type)
	assert.Equal(t, []int{10}, padded.SpatialDimensions())
}

func TestElementwiseShape(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 3, 3))
	act := Elementwise("act", input, nil)
	assert.Equal(t, []int{3, 3}, act.SpatialDimensions())
	assert.Equal(t, []int{3, 3, 1}, act.Shape.Dimensions)
	assert.Equal(t, 1, act.Channels())
}

func TestConvolutionBuilder(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 8, 8))
	conv := Convolution("conv", input).
		Filters(16).
		KernelSize(3).
		StridePerDim(2, 1).
		Done()
	assert.Equal(t, []int{3, 6}, conv.SpatialDimensions())
	assert.Equal(t, 16, conv.Channels())
	assert.Equal(t, []int{1, 1}, conv.Dilations)

	require.Panics(t, func() { Convolution("conv", input).KernelSize(3).Done() },
		"Filters must be set")
	require.Panics(t, func() { Convolution("conv", input).Filters(4).Done() },
		"KernelSize must be set")
	require.Panics(t, func() { Convolution("conv", input).Filters(4).KernelSize(9).Done() },
		"kernel doesn't fit the input")
}

func TestConvolutionKernelShapeCheck(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 5))
	kernel := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 1, 2)
	conv := Convolution("conv", input).Filters(2).KernelSize(2).WithKernel(kernel).Done()
	assert.Equal(t, []int{4, 2}, conv.Shape.Dimensions)

	badKernel := tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2, 1, 1)
	require.Panics(t, func() {
		Convolution("conv", input).Filters(2).KernelSize(2).WithKernel(badKernel).Done()
	}, "kernel shaped for the wrong number of filters")
}

func TestNewModelValidation(t *testing.T) {
	input := Input("in", shapes.Make(dtypes.Float64, 4))
	act := Elementwise("act", input, nil)

	model := NewModel(input, act)
	assert.Same(t, act, model.Output())
	assert.Equal(t, 8, model.NumUnits())

	require.Panics(t, func() { NewModel() }, "empty model")
	require.Panics(t, func() { NewModel(act, input) }, "input listed after its consumer")
	require.Panics(t, func() { NewModel(input, act, act) }, "repeated layer")
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Input", TypeInput.String())
	assert.Equal(t, "PeriodicPadding", TypePeriodicPadding.String())
	assert.Equal(t, "InvalidLayerType", Type(99).String())
}
