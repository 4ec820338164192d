package fastar

import (
	"testing"

	"github.com/gomlx/goket/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologyForUnknownType(t *testing.T) {
	unknown := &layers.Layer{Name: "mystery", Type: layers.Type(99)}
	require.Panics(t, func() { TopologyFor(unknown) })

	// Through GenerationOrder the lookup failure surfaces as an error.
	input := layers.Input("in", shapes.Make(dtypes.Float64, 2))
	unknown.Shape = shapes.Make(dtypes.Float64, 2, 1)
	unknown.Inputs = []*layers.Layer{input}
	_, err := GenerationOrder(layers.NewModel(input, unknown))
	require.ErrorContains(t, err, "no topology registered")
}

func TestInputTopology(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 3, 3))
	topology := TopologyFor(input)
	require.Empty(t, topology.SpatialDependencies([]int{1, 2}))
	require.Panics(t, func() { topology.Apply([]int{1, 2}, nil) })
}

func TestZeroPaddingTopology(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 3, 4))
	padded := layers.ZeroPadding("pad", input, [2]int{1, 0}, [2]int{2, 1})
	require.Equal(t, []int{4, 7}, padded.SpatialDimensions())
	topology := TopologyFor(padded)

	// Units in the padded border have no dependencies and evaluate to zero.
	require.Empty(t, topology.SpatialDependencies([]int{0, 3}))
	require.Empty(t, topology.SpatialDependencies([]int{1, 1}))
	require.Empty(t, topology.SpatialDependencies([]int{2, 6}))
	assert.Equal(t, []float64{0}, topology.Apply([]int{0, 3}, nil))

	// Interior units shift back by the prefix padding.
	deps := topology.SpatialDependencies([]int{1, 2})
	require.Equal(t, []Dependency{{InputIndex: 0, Location: []int{0, 0}}}, deps)
	deps = topology.SpatialDependencies([]int{3, 5})
	require.Equal(t, []Dependency{{InputIndex: 0, Location: []int{2, 3}}}, deps)
	assert.Equal(t, []float64{7}, topology.Apply([]int{3, 5}, [][]float64{{7}}))
}

func TestPeriodicPaddingTopology(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 4))
	padded := layers.PeriodicPadding("pad", input, [2]int{2, 1})
	require.Equal(t, []int{7}, padded.SpatialDimensions())
	topology := TopologyFor(padded)

	// Every unit wraps around modulo the input dimension.
	wantSources := []int{2, 3, 0, 1, 2, 3, 0}
	for location := 0; location < 7; location++ {
		deps := topology.SpatialDependencies([]int{location})
		require.Equal(t, []Dependency{{InputIndex: 0, Location: []int{wantSources[location]}}}, deps,
			"location %d", location)
	}
	assert.Equal(t, []float64{-1}, topology.Apply([]int{0}, [][]float64{{-1}}))
}

func TestConvolutionTopologyDependencies(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 6, 6))
	conv := layers.Convolution("conv", input).
		Filters(1).
		KernelSizePerDim(2, 2).
		StridePerDim(2, 1).
		DilationPerDim(1, 2).
		Done()
	// Output spatial dims: axis 0: (6-2)/2+1 = 3; axis 1: (6-1-2)/1+1 = 4.
	require.Equal(t, []int{3, 4}, conv.SpatialDimensions())

	topology := TopologyFor(conv)
	deps := topology.SpatialDependencies([]int{1, 2})
	// Receptive field in row-major kernel order: location*stride + k*dilation.
	want := []Dependency{
		{InputIndex: 0, Location: []int{2, 2}},
		{InputIndex: 0, Location: []int{2, 4}},
		{InputIndex: 0, Location: []int{3, 2}},
		{InputIndex: 0, Location: []int{3, 4}},
	}
	require.Equal(t, want, deps)
}

func TestConvolutionTopologyApply(t *testing.T) {
	// 1D convolution, kernel size 2, 2 input channels, 3 filters.
	input := layers.Input("in", shapes.Make(dtypes.Float64, 5))
	expand := layers.Convolution("expand", input).Filters(2).KernelSize(1).Done()
	conv := layers.Convolution("conv", expand).
		Filters(3).
		KernelSize(2).
		WithKernel(tensors.FromFlatDataAndDimensions([]float64{
			// kernel position 0: inChannel 0 then 1, 3 filters each.
			1, 0, 0,
			0, 1, 0,
			// kernel position 1:
			0, 0, 1,
			2, 0, 0,
		}, 2, 2, 3)).
		WithBias(tensors.FromFlatDataAndDimensions([]float64{10, 20, 30}, 3)).
		Done()
	topology := TopologyFor(conv)

	depValues := [][]float64{
		{0.5, 3}, // receptive field position 0, channels (0.5, 3)
		{7, 11},  // receptive field position 1
	}
	got := topology.Apply([]int{0}, depValues)
	// filter 0: 10 + 1*0.5 + 2*11 = 32.5
	// filter 1: 20 + 1*3 = 23
	// filter 2: 30 + 1*7 = 37
	require.Equal(t, []float64{32.5, 23, 37}, got)
}

func TestConvolutionTopologyApplyWithoutKernel(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 3))
	conv := layers.Convolution("conv", input).Filters(1).KernelSize(2).Done()
	topology := TopologyFor(conv)
	require.Len(t, topology.SpatialDependencies([]int{0}), 2)
	require.Panics(t, func() { topology.Apply([]int{0}, [][]float64{{1}, {2}}) })
}

func TestElementwiseTopology(t *testing.T) {
	input := layers.Input("in", shapes.Make(dtypes.Float64, 2, 2))
	doubled := layers.Elementwise("double", input, func(x float64) float64 { return 2 * x })
	topology := TopologyFor(doubled)
	deps := topology.SpatialDependencies([]int{1, 0})
	require.Equal(t, []Dependency{{InputIndex: 0, Location: []int{1, 0}}}, deps)
	assert.Equal(t, []float64{2, -4}, topology.Apply([]int{1, 0}, [][]float64{{1, -2}}))
}
