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
)

// Dependency identifies one upstream unit a given unit depends on:
// InputIndex selects among the layer's inputs (see layers.Layer.Inputs) and
// Location is the spatial location within that input.
type Dependency struct {
	InputIndex int
	Location   []int
}

// LayerTopology is the per-layer-type dependency rule: it knows, for a layer
// of its type, which upstream units feed each unit, and how to compute a
// unit's value from its dependencies' values. One implementation exists per
// layers.Type, selected through RegisterTopology.
//
// Values are per-unit channel vectors, []float64 with one entry per channel
// of the corresponding layer.
type LayerTopology interface {
	// SpatialDependencies returns the upstream units needed to compute the
	// unit at the given spatial location. The result is owned by the caller.
	SpatialDependencies(location []int) []Dependency

	// Apply computes the unit's value at location, given the values of the
	// dependencies returned by SpatialDependencies, in the same order.
	Apply(location []int, depValues [][]float64) []float64
}

// TopologyConstructor creates the LayerTopology for one concrete layer.
type TopologyConstructor func(layer *layers.Layer) LayerTopology

var registeredTopologies = make(map[layers.Type]TopologyConstructor)

// RegisterTopology registers the dependency rule for a layer type. The layer
// types of this package are registered during initialization; call it to
// support new layer types without touching the graph engine. Registering a
// type twice overwrites the previous rule.
func RegisterTopology(layerType layers.Type, constructor TopologyConstructor) {
	registeredTopologies[layerType] = constructor
}

// TopologyFor returns the dependency rule for the given layer. It panics if
// the layer's type has no registered topology: an unsupported layer type
// means the model's dependency structure cannot be resolved at all, so this
// surfaces before any edge of the layer is added.
func TopologyFor(layer *layers.Layer) LayerTopology {
	constructor, found := registeredTopologies[layer.Type]
	if !found {
		Panicf("fastar: no topology registered for layer type %s (layer %q): "+
			"the layer's autoregressive dependencies cannot be resolved -- see fastar.RegisterTopology",
			layer.Type, layer.Name)
	}
	return constructor(layer)
}

func init() {
	RegisterTopology(layers.TypeInput, newInputTopology)
	RegisterTopology(layers.TypeElementwise, newElementwiseTopology)
	RegisterTopology(layers.TypeZeroPadding, newZeroPaddingTopology)
	RegisterTopology(layers.TypePeriodicPadding, newPeriodicPaddingTopology)
	RegisterTopology(layers.TypeConvolution, newConvolutionTopology)
}

// inputTopology: input units have no upstream dependencies, their values are
// seeded by the sampling loop (see Evaluator).
type inputTopology struct {
	layer *layers.Layer
}

func newInputTopology(layer *layers.Layer) LayerTopology {
	return &inputTopology{layer: layer}
}

func (t *inputTopology) SpatialDependencies(location []int) []Dependency {
	return nil
}

func (t *inputTopology) Apply(location []int, depValues [][]float64) []float64 {
	Panicf("fastar: input layer %q units are seeded by the sampling loop, not computed", t.layer.Name)
	return nil
}

// elementwiseTopology: one-to-one with the same location of the single input;
// the value is the layer's activation applied per channel.
type elementwiseTopology struct {
	layer *layers.Layer
}

func newElementwiseTopology(layer *layers.Layer) LayerTopology {
	return &elementwiseTopology{layer: layer}
}

func (t *elementwiseTopology) SpatialDependencies(location []int) []Dependency {
	return []Dependency{{InputIndex: 0, Location: copyLocation(location)}}
}

func (t *elementwiseTopology) Apply(location []int, depValues [][]float64) []float64 {
	in := depValues[0]
	if t.layer.Activation == nil {
		return in
	}
	out := make([]float64, len(in))
	for channel, value := range in {
		out[channel] = t.layer.Activation(value)
	}
	return out
}

func copyLocation(location []int) []int {
	out := make([]int, len(location))
	copy(out, location)
	return out
}
