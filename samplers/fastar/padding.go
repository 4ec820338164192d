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
	"github.com/gomlx/goket/layers"
)

// zeroPaddingTopology: a unit in the padded border has no dependencies (its
// value is zero); any other unit depends one-to-one on the input unit shifted
// back by the prefix padding.
type zeroPaddingTopology struct {
	layer     *layers.Layer
	inputDims []int
}

func newZeroPaddingTopology(layer *layers.Layer) LayerTopology {
	return &zeroPaddingTopology{
		layer:     layer,
		inputDims: layer.Inputs[0].SpatialDimensions(),
	}
}

func (t *zeroPaddingTopology) SpatialDependencies(location []int) []Dependency {
	shifted := make([]int, len(location))
	for axis, loc := range location {
		prefix := t.layer.Padding[axis][0]
		if loc < prefix || loc-prefix >= t.inputDims[axis] {
			return nil // Padding area, value is a constant zero.
		}
		shifted[axis] = loc - prefix
	}
	return []Dependency{{InputIndex: 0, Location: shifted}}
}

func (t *zeroPaddingTopology) Apply(location []int, depValues [][]float64) []float64 {
	if len(depValues) == 0 {
		return make([]float64, t.layer.Channels())
	}
	return depValues[0]
}

// periodicPaddingTopology: every unit depends one-to-one on the input unit at
// the shifted location wrapped modulo the input's spatial dimensions.
type periodicPaddingTopology struct {
	layer     *layers.Layer
	inputDims []int
}

func newPeriodicPaddingTopology(layer *layers.Layer) LayerTopology {
	return &periodicPaddingTopology{
		layer:     layer,
		inputDims: layer.Inputs[0].SpatialDimensions(),
	}
}

func (t *periodicPaddingTopology) SpatialDependencies(location []int) []Dependency {
	shifted := make([]int, len(location))
	for axis, loc := range location {
		dim := t.inputDims[axis]
		shifted[axis] = ((loc-t.layer.Padding[axis][0])%dim + dim) % dim
	}
	return []Dependency{{InputIndex: 0, Location: shifted}}
}

func (t *periodicPaddingTopology) Apply(location []int, depValues [][]float64) []float64 {
	return depValues[0]
}
