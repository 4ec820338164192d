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

// Package layers describes the static structure of an autoregressive neural
// wavefunction model: an ordered sequence of layers, each with a per-sample
// output shape and references to the layers that feed it.
//
// It intentionally holds no computation: it is the model description consumed
// by the fast-autoregressive sampler (see package samplers/fastar), which
// resolves per-unit dependencies from it and derives a valid generation order.
// The actual tensor computation of a model is built separately with GoMLX.
//
// Shapes are per-sample: there is no batch axis. For every layer type except
// Input the last axis is the channels axis; the remaining leading axes are the
// spatial axes. Input layers declare only spatial axes, and are assumed to
// have a single channel (see Layer.SpatialDimensions).
package layers

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
)

// Type enumerates the layer kinds known to the fast-autoregressive sampler.
// Each Type has a registered dependency rule (a "topology") in package
// samplers/fastar.
type Type int

const (
	// TypeInput is a model input: one unit per spatial position, no upstream
	// dependencies. The sampled configuration is fed into these units.
	TypeInput Type = iota

	// TypeZeroPadding pads the spatial axes of its input with zeros.
	TypeZeroPadding

	// TypePeriodicPadding pads the spatial axes of its input by wrapping
	// around periodically, used for models of systems with periodic
	// boundary conditions.
	TypePeriodicPadding

	// TypeConvolution is an N-dimensional convolution without implicit
	// padding ("valid" convolution) -- padding is expressed as a separate
	// padding layer, so the autoregressive dependency structure stays
	// explicit.
	TypeConvolution

	// TypeElementwise applies a function independently per unit: activations,
	// scaling, normalization that doesn't mix spatial positions.
	TypeElementwise
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeInput:
		return "Input"
	case TypeZeroPadding:
		return "ZeroPadding"
	case TypePeriodicPadding:
		return "PeriodicPadding"
	case TypeConvolution:
		return "Convolution"
	case TypeElementwise:
		return "Elementwise"
	}
	return "InvalidLayerType"
}

// Layer is one node of the model description. Create layers with the
// constructors in this package (Input, ZeroPadding, PeriodicPadding,
// Convolution, Elementwise), which compute the output shape and validate the
// attributes for you.
//
// A Layer is identified by its pointer; names are only used for messages.
type Layer struct {
	Name string
	Type Type

	// Shape is the per-sample output shape. See package documentation for
	// the axes convention.
	Shape shapes.Shape

	// Inputs are the layers feeding this one, in the order the layer's
	// dependency rule refers to them. Empty for TypeInput.
	Inputs []*Layer

	// Padding holds (prefix, suffix) amounts per spatial axis, for
	// TypeZeroPadding and TypePeriodicPadding.
	Padding [][2]int

	// KernelSize, Strides and Dilations are per spatial axis, for
	// TypeConvolution.
	KernelSize, Strides, Dilations []int

	// Filters is the number of output channels of a TypeConvolution layer.
	Filters int

	// Kernel optionally holds convolution weights, shaped
	// [kernelSize..., inputChannels, Filters]. Only needed when evaluating
	// the model unit-by-unit on the host (see fastar.Evaluator).
	Kernel *tensors.Tensor

	// Bias optionally holds a per-filter bias, shaped [Filters].
	Bias *tensors.Tensor

	// Activation is the function applied per value by a TypeElementwise
	// layer. nil means identity.
	Activation func(x float64) float64
}

// SpatialDimensions returns the extents of the layer's spatial axes.
//
// For Input layers every declared axis is spatial and the channels axis is
// assumed to be a trailing axis of dimension 1; for every other type the last
// axis is the channels axis and the rest are spatial. The returned slice is
// owned by the layer, don't modify it.
func (l *Layer) SpatialDimensions() []int {
	dims := l.Shape.Dimensions
	if l.Type == TypeInput {
		return dims
	}
	return dims[:len(dims)-1]
}

// SpatialSize returns the total number of spatial positions of the layer,
// the product of SpatialDimensions. A layer with no spatial axes has spatial
// size 1.
func (l *Layer) SpatialSize() int {
	size := 1
	for _, dim := range l.SpatialDimensions() {
		size *= dim
	}
	return size
}

// Channels returns the dimension of the layer's channels axis (1 for Input
// layers).
func (l *Layer) Channels() int {
	if l.Type == TypeInput {
		return 1
	}
	return l.Shape.Dimensions[l.Shape.Rank()-1]
}

// Model is an ordered sequence of layers, from the inputs to the output.
// The order is the network order: every layer must appear after all of its
// inputs. The last layer is the model output.
type Model struct {
	Layers []*Layer
}

// NewModel creates a Model from the given layers, in network order.
//
// It panics (with a stack trace, see github.com/gomlx/exceptions) if a layer
// appears before one of its inputs, if a layer is repeated or if the list is
// empty. Those are structural defects of the model, there is no recovery.
func NewModel(all ...*Layer) *Model {
	if len(all) == 0 {
		Panicf("layers.NewModel requires at least one layer")
	}
	seen := make(map[*Layer]int, len(all))
	for idx, layer := range all {
		if _, found := seen[layer]; found {
			Panicf("layers.NewModel: layer %q (#%d) appears more than once", layer.Name, idx)
		}
		for _, input := range layer.Inputs {
			if _, found := seen[input]; !found {
				Panicf("layers.NewModel: layer %q (#%d) takes input from layer %q, which doesn't precede it",
					layer.Name, idx, input.Name)
			}
		}
		seen[layer] = idx
	}
	return &Model{Layers: all}
}

// Output returns the model's output layer, the last one.
func (m *Model) Output() *Layer {
	return m.Layers[len(m.Layers)-1]
}

// NumUnits returns the total number of units (one per layer per spatial
// position) of the model.
func (m *Model) NumUnits() int {
	total := 0
	for _, layer := range m.Layers {
		total += layer.SpatialSize()
	}
	return total
}
