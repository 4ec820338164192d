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
	"slices"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/goket/layers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Evaluator runs a model one unit at a time, in the autoregressive
// generation order, on the host. Each unit's value is computed by its layer
// topology's Apply from its dependencies' values, which the generation order
// guarantees were computed earlier.
//
// This is the reference consumer of GenerationOrder: an actual sampler
// interleaves drawing new input values into the same walk. It is also the
// executable check that an order is valid -- were it not, some dependency
// would be missing its value.
//
// An Evaluator is not safe for concurrent use.
type Evaluator struct {
	model      *layers.Model
	graph      *DependencyGraph
	order      []Unit
	topologies []LayerTopology
	numInputs  int
}

// NewEvaluator builds the dependency graph of model, computes the generation
// order and prepares the per-layer topologies. Structural defects of the
// model are returned as an error, as in GenerationOrder.
func NewEvaluator(model *layers.Model) (ev *Evaluator, err error) {
	err = TryCatch[error](func() {
		graph := BuildDependencyGraph(model)
		ev = &Evaluator{
			model:      model,
			graph:      graph,
			order:      graph.TopologicalSort(),
			topologies: make([]LayerTopology, len(model.Layers)),
		}
		for idx, layer := range model.Layers {
			ev.topologies[idx] = TopologyFor(layer)
			if layer.Type == layers.TypeInput {
				ev.numInputs++
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "fastar: preparing unit-by-unit evaluator")
	}
	return ev, nil
}

// GenerationOrder returns the order the Evaluator walks the units in. The
// returned slice is shared, don't modify it.
func (ev *Evaluator) GenerationOrder() []Unit {
	return ev.order
}

// Evaluate runs the model on the given inputs, one tensor per Input layer in
// model order, and returns the output layer's values.
//
// Input tensors must be Float64 and shaped like the corresponding Input
// layer's (spatial) shape; the output is shaped like the output layer's
// per-sample shape. It panics (gomlx exceptions style) on mismatched inputs.
func (ev *Evaluator) Evaluate(inputs ...*tensors.Tensor) *tensors.Tensor {
	if len(inputs) != ev.numInputs {
		Panicf("fastar: Evaluate got %d input tensors, model has %d input layers", len(inputs), ev.numInputs)
	}

	// Per-layer, per-spatial-index unit values; nil until computed.
	values := make([][][]float64, len(ev.model.Layers))
	for idx, layer := range ev.model.Layers {
		values[idx] = make([][]float64, layer.SpatialSize())
	}

	// Seed the input layers.
	inputIdx := 0
	for layerIdx, layer := range ev.model.Layers {
		if layer.Type != layers.TypeInput {
			continue
		}
		tensor := inputs[inputIdx]
		inputIdx++
		if !slices.Equal(tensor.Shape().Dimensions, layer.SpatialDimensions()) {
			Panicf("fastar: input tensor #%d shaped %s, input layer %q expects dimensions %v",
				inputIdx-1, tensor.Shape(), layer.Name, layer.SpatialDimensions())
		}
		flat := tensors.CopyFlatData[float64](tensor)
		for spatialIdx, value := range flat {
			values[layerIdx][spatialIdx] = []float64{value}
		}
	}

	// Walk the generation order.
	for _, unit := range ev.order {
		layerIdx := ev.graph.layerIndex[unit.Layer]
		if unit.Layer.Type == layers.TypeInput {
			continue
		}
		topology := ev.topologies[layerIdx]
		deps := topology.SpatialDependencies(unit.Location)
		depValues := make([][]float64, len(deps))
		for ii, dep := range deps {
			source := unit.Layer.Inputs[dep.InputIndex]
			sourceIdx := ev.graph.layerIndex[source]
			value := values[sourceIdx][ev.graph.spatialIndex(sourceIdx, dep.Location)]
			if value == nil {
				Panicf("fastar: unit of layer %q at %v needed before it was evaluated -- "+
					"generation order is inconsistent with the topology, please report",
					source.Name, dep.Location)
			}
			depValues[ii] = value
		}
		spatialIdx := ev.graph.spatialIndex(layerIdx, unit.Location)
		values[layerIdx][spatialIdx] = topology.Apply(unit.Location, depValues)
	}

	// Assemble the output layer's values.
	output := ev.model.Output()
	outputIdx := ev.graph.layerIndex[output]
	channels := output.Channels()
	flat := make([]float64, output.SpatialSize()*channels)
	for spatialIdx, value := range values[outputIdx] {
		copy(flat[spatialIdx*channels:(spatialIdx+1)*channels], value)
	}
	dims := slices.Clone(output.SpatialDimensions())
	dims = append(dims, channels)
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}
