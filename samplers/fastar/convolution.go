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

package fastar

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/goket/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
)

// convolutionTopology: a unit depends on every input unit in its receptive
// field. A "valid" convolution never reads out of range, so each unit has
// exactly prod(kernelSize) dependencies, enumerated in row-major kernel
// order -- the same order the kernel weights are laid out in, which Apply
// relies on.
type convolutionTopology struct {
	layer       *layers.Layer
	kernelShape shapes.Shape
	inChannels  int

	// kernel is the flattened [kernelSize..., inChannels, filters] weights,
	// nil when the layer carries no weights (dependency resolution doesn't
	// need them, only Apply does).
	kernel []float64
	bias   []float64
}

func newConvolutionTopology(layer *layers.Layer) LayerTopology {
	t := &convolutionTopology{
		layer:       layer,
		kernelShape: shapes.Make(layer.Shape.DType, layer.KernelSize...),
		inChannels:  layer.Inputs[0].Channels(),
	}
	if layer.Kernel != nil {
		t.kernel = tensors.CopyFlatData[float64](layer.Kernel)
	}
	if layer.Bias != nil {
		t.bias = tensors.CopyFlatData[float64](layer.Bias)
	}
	return t
}

func (t *convolutionTopology) SpatialDependencies(location []int) []Dependency {
	deps := make([]Dependency, 0, t.kernelShape.Size())
	for kernelPos := range t.kernelShape.Iter() {
		source := make([]int, len(location))
		for axis, loc := range location {
			source[axis] = loc*t.layer.Strides[axis] + kernelPos[axis]*t.layer.Dilations[axis]
		}
		deps = append(deps, Dependency{InputIndex: 0, Location: source})
	}
	return deps
}

func (t *convolutionTopology) Apply(location []int, depValues [][]float64) []float64 {
	if t.kernel == nil {
		Panicf("fastar: convolution layer %q has no kernel weights attached (see layers.ConvBuilder.WithKernel), "+
			"cannot evaluate its units", t.layer.Name)
	}
	filters := t.layer.Filters
	out := make([]float64, filters)
	if t.bias != nil {
		copy(out, t.bias)
	}
	for kernelFlat, value := range depValues {
		base := kernelFlat * t.inChannels * filters
		for channel, v := range value {
			weights := t.kernel[base+channel*filters : base+(channel+1)*filters]
			for filter, w := range weights {
				out[filter] += v * w
			}
		}
	}
	return out
}
