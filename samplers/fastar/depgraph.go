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

// Package fastar implements fast autoregressive sampling support for neural
// wavefunction models: it derives, from a model description (package layers),
// a generation order of the model's units -- one unit per layer per spatial
// position -- such that every unit's dependencies are generated before it.
//
// The heart of the package is DependencyGraph, a dependency graph at unit
// granularity. A deep 2D convolutional model easily has tens of thousands of
// units, and generic graph libraries are too slow and memory-hungry to
// topologically sort at that scale -- mostly because of per-vertex and
// per-edge allocations. DependencyGraph instead stores vertices and edges in
// dense per-layer arrays indexed by (layer index, flat spatial index), and
// sorts with an iterative Kahn's algorithm over a preallocated array stack:
// O(V+E) time, O(V) auxiliary space, no allocation during the sort.
//
// The per-layer-type dependency rules live behind the LayerTopology interface
// and are selected by a registry keyed on layers.Type, so new layer kinds can
// be supported without touching the graph engine.
//
// Typical usage:
//
//	model := layers.NewModel(...)
//	order, err := fastar.GenerationOrder(model)
//
// The returned order is what an autoregressive sampling loop consumes,
// evaluating one unit at a time. Evaluator implements such a loop on the
// host, mostly useful for tests and small models.
package fastar

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/goket/layers"
)

// noEdge fills the unused slots of the per-layer edge tables.
const noEdge = int32(-1)

// DefaultEdgeCapacity is the initial number of outgoing-edge slots per unit.
// The tables grow by doubling whenever a unit exceeds the current capacity,
// so this is not a limit, just the starting allocation.
const DefaultEdgeCapacity = 10

// Unit identifies one generation target: a spatial position of one layer.
// It is the atomic node of the DependencyGraph. Units are plain immutable
// values: holders of a Unit never point into the graph's internal storage.
type Unit struct {
	Layer *layers.Layer

	// Location is the spatial location within Layer, one coordinate per
	// spatial axis (empty for a layer with no spatial axes).
	Location []int
}

// layerStorage is the dense edge storage of one layer: one entry per flat
// spatial index, with capacity outgoing-edge slots each.
type layerStorage struct {
	spatialDims []int
	spatialSize int

	// capacity is the current number of outgoing-edge slots per unit.
	// destSpatial and destLayer are [spatialSize*capacity], row-major by
	// spatial index, noEdge-filled past each unit's outDegree.
	capacity    int
	destSpatial []int32
	destLayer   []int32

	outDegree []int32
	inDegree  []int32

	// status is the in-progress in-degree during a topological sort. It is
	// reset from inDegree at the start of every sort.
	status []int32
}

// DependencyGraph is a directed dependency graph over every unit of a model.
//
// It is populated once, through AddEdge, with an edge (from, to) for every
// pair of units where to's value depends on from's value; afterwards
// TopologicalSort may be called any number of times. Neither method is safe
// for concurrent use; once population is done, concurrent sorts from a single
// goroutine at a time (or the returned order, shared freely) are fine.
//
// Use BuildDependencyGraph to populate one from the registered per-layer-type
// dependency rules.
type DependencyGraph struct {
	model      *layers.Model
	layerIndex map[*layers.Layer]int
	perLayer   []layerStorage

	numVertices int

	// Work stack used by TopologicalSort, preallocated to the worst case
	// (every vertex pushed exactly once), so sorting allocates nothing
	// beyond its result.
	stackLayer   []int32
	stackSpatial []int32
	stackLen     int

	// ShowProgress displays a progress bar on stderr during
	// TopologicalSort. Off by default; useful for deep models where the
	// sort takes a noticeable moment.
	ShowProgress bool
}

// NewDependencyGraph creates an empty dependency graph for model, with one
// vertex per unit and storage sized from each layer's spatial shape. Edges
// are then added with AddEdge, usually via BuildDependencyGraph.
func NewDependencyGraph(model *layers.Model) *DependencyGraph {
	dg := &DependencyGraph{
		model:      model,
		layerIndex: make(map[*layers.Layer]int, len(model.Layers)),
		perLayer:   make([]layerStorage, len(model.Layers)),
	}
	for idx, layer := range model.Layers {
		dg.layerIndex[layer] = idx
		dims := layer.SpatialDimensions()
		size := layer.SpatialSize()
		storage := &dg.perLayer[idx]
		storage.spatialDims = dims
		storage.spatialSize = size
		storage.capacity = DefaultEdgeCapacity
		storage.destSpatial = newEdgeTable(size * storage.capacity)
		storage.destLayer = newEdgeTable(size * storage.capacity)
		storage.outDegree = make([]int32, size)
		storage.inDegree = make([]int32, size)
		storage.status = make([]int32, size)
		dg.numVertices += size
	}
	dg.stackLayer = make([]int32, dg.numVertices)
	dg.stackSpatial = make([]int32, dg.numVertices)
	return dg
}

// newEdgeTable allocates an edge table of the given size, noEdge-filled.
func newEdgeTable(size int) []int32 {
	table := make([]int32, size)
	for ii := range table {
		table[ii] = noEdge
	}
	return table
}

// NumVertices returns the total number of units of the graph, the sum of the
// spatial sizes of all layers. Fixed at construction.
func (dg *DependencyGraph) NumVertices() int {
	return dg.numVertices
}

// unitIndices resolves a Unit to its (layer index, flat spatial index) pair.
// The spatial location is not bounds-checked: out-of-range locations are a
// caller contract violation.
func (dg *DependencyGraph) unitIndices(unit Unit) (layerIdx, spatialIdx int) {
	layerIdx, found := dg.layerIndex[unit.Layer]
	if !found {
		Panicf("fastar: unit of layer %q is not part of the model the dependency graph was built for",
			unit.Layer.Name)
	}
	return layerIdx, dg.spatialIndex(layerIdx, unit.Location)
}

// spatialIndex encodes a spatial location as a flat index in
// [0, spatialSize), row-major (last axis fastest) mixed-radix over the
// layer's spatial dimensions. The inverse is spatialLocation.
func (dg *DependencyGraph) spatialIndex(layerIdx int, location []int) int {
	dims := dg.perLayer[layerIdx].spatialDims
	index := 0
	for axis, dim := range dims {
		index = index*dim + location[axis]
	}
	return index
}

// spatialLocation decodes a flat spatial index back to a spatial location.
func (dg *DependencyGraph) spatialLocation(layerIdx, spatialIdx int) []int {
	dims := dg.perLayer[layerIdx].spatialDims
	location := make([]int, len(dims))
	for axis := len(dims) - 1; axis >= 0; axis-- {
		location[axis] = spatialIdx % dims[axis]
		spatialIdx /= dims[axis]
	}
	return location
}

// AddEdge records that to's value depends on from's value. Both units must
// belong to the graph's model.
//
// Edges are not deduplicated: adding the same (from, to) pair twice records
// it twice -- degree bookkeeping stays consistent, but storage is wasted, so
// avoid it if the dependency rule may repeat itself. There is no bound on a
// unit's out-degree: tables grow by doubling as needed.
func (dg *DependencyGraph) AddEdge(from, to Unit) {
	fromLayer, fromSpatial := dg.unitIndices(from)
	toLayer, toSpatial := dg.unitIndices(to)

	storage := &dg.perLayer[fromLayer]
	slot := int(storage.outDegree[fromSpatial])
	storage.outDegree[fromSpatial]++
	dg.perLayer[toLayer].inDegree[toSpatial]++

	if slot >= storage.capacity {
		storage.grow()
	}
	pos := fromSpatial*storage.capacity + slot
	storage.destSpatial[pos] = int32(toSpatial)
	storage.destLayer[pos] = int32(toLayer)
}

// grow doubles the layer's outgoing-edge capacity, for all of its units at
// once, preserving recorded edges and noEdge-filling the new slots. Doubling
// keeps AddEdge amortized O(1) over the graph's lifetime.
func (storage *layerStorage) grow() {
	oldCapacity := storage.capacity
	storage.capacity = oldCapacity * 2
	newDestSpatial := newEdgeTable(storage.spatialSize * storage.capacity)
	newDestLayer := newEdgeTable(storage.spatialSize * storage.capacity)
	for spatialIdx := 0; spatialIdx < storage.spatialSize; spatialIdx++ {
		oldRow := spatialIdx * oldCapacity
		newRow := spatialIdx * storage.capacity
		copy(newDestSpatial[newRow:newRow+oldCapacity], storage.destSpatial[oldRow:oldRow+oldCapacity])
		copy(newDestLayer[newRow:newRow+oldCapacity], storage.destLayer[oldRow:oldRow+oldCapacity])
	}
	storage.destSpatial = newDestSpatial
	storage.destLayer = newDestLayer
}
