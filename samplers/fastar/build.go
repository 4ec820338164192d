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
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// spatialShape returns a shape spanning only the layer's spatial axes, used
// to iterate over the layer's spatial locations. A layer with no spatial
// axes yields a scalar shape, which iterates over a single empty location.
func spatialShape(layer *layers.Layer) shapes.Shape {
	return shapes.Make(layer.Shape.DType, layer.SpatialDimensions()...)
}

// BuildDependencyGraph creates the dependency graph of model and populates
// it: for every layer, each unit's upstream dependencies are resolved through
// the layer type's registered topology and added as edges.
//
// It panics if some layer's type has no registered topology (see
// RegisterTopology). The returned graph is fully populated; call
// TopologicalSort on it, or use GenerationOrder which does both.
func BuildDependencyGraph(model *layers.Model) *DependencyGraph {
	dg := NewDependencyGraph(model)
	for _, layer := range model.Layers {
		topology := TopologyFor(layer)
		for location := range spatialShape(layer).Iter() {
			// location is reused by Iter; AddEdge doesn't retain it.
			to := Unit{Layer: layer, Location: location}
			for _, dep := range topology.SpatialDependencies(location) {
				from := Unit{Layer: layer.Inputs[dep.InputIndex], Location: dep.Location}
				dg.AddEdge(from, to)
			}
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("fastar: built dependency graph with %d units over %d layers",
			dg.NumVertices(), len(model.Layers))
	}
	return dg
}

// GenerationOrder builds the dependency graph of model and topologically
// sorts it, returning the autoregressive generation order: every unit of
// every layer, each after all the units it depends on. This is the sequence
// an autoregressive sampling loop evaluates, one unit at a time.
//
// Structural defects of the model -- an unregistered layer type, or a cyclic
// dependency structure -- are returned as an error (with the panic's stack
// trace attached); they are not recoverable, the model itself has to change.
func GenerationOrder(model *layers.Model) (order []Unit, err error) {
	err = TryCatch[error](func() {
		order = BuildDependencyGraph(model).TopologicalSort()
	})
	if err != nil {
		return nil, errors.WithMessage(err, "fastar: computing autoregressive generation order")
	}
	return order, nil
}
