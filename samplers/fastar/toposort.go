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
	"github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// TopologicalSort returns every unit of the model in an order in which each
// unit appears after all the units it depends on -- the autoregressive
// generation order.
//
// It implements Kahn's algorithm over the graph's dense storage, using the
// preallocated array stack instead of recursion or a queue structure, so it
// runs in O(V+E) with no allocation beyond the returned slice. It may be
// called repeatedly on the same populated graph: traversal state is fully
// reset on entry, and for a fixed edge set the result is deterministic
// (seeding follows layer order then spatial-index order).
//
// It panics (with a stack trace, see github.com/gomlx/exceptions) if the
// graph has a cycle: a cyclic dependency graph means the model cannot
// generate its units autoregressively at all, a structural defect with no
// partial or degraded mode.
func (dg *DependencyGraph) TopologicalSort() []Unit {
	if klog.V(1).Enabled() {
		klog.Infof("fastar: topological sort over %s units of %d layers",
			humanize.Comma(int64(dg.numVertices)), len(dg.model.Layers))
	}
	dg.resetTraversal()
	dg.seedStack()

	var bar *progressbar.ProgressBar
	if dg.ShowProgress {
		bar = progressbar.NewOptions(dg.numVertices,
			progressbar.OptionSetDescription("topological sort"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("units"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII))
	}

	order := make([]Unit, 0, dg.numVertices)
	for dg.stackLen > 0 {
		dg.stackLen--
		layerIdx := int(dg.stackLayer[dg.stackLen])
		spatialIdx := int(dg.stackSpatial[dg.stackLen])
		order = append(order, Unit{
			Layer:    dg.model.Layers[layerIdx],
			Location: dg.spatialLocation(layerIdx, spatialIdx),
		})
		if bar != nil {
			_ = bar.Add(1)
		}
		dg.releaseDependents(layerIdx, spatialIdx)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if len(order) != dg.numVertices {
		Panicf("fastar: dependency graph has a cycle (only %d of %d units could be ordered): "+
			"the model cannot generate autoregressively", len(order), dg.numVertices)
	}
	if klog.V(1).Enabled() {
		klog.Infof("fastar: topological sort done")
	}
	return order
}

// resetTraversal restores the mutable traversal state: clears the stack and
// copies every layer's in-degrees into its working status array.
func (dg *DependencyGraph) resetTraversal() {
	dg.stackLen = 0
	for idx := range dg.perLayer {
		copy(dg.perLayer[idx].status, dg.perLayer[idx].inDegree)
	}
}

// seedStack pushes every unit with no pending dependencies. The iteration
// order (layers in network order, spatial indices ascending) is not needed
// for correctness, but it fixes which of the many valid orders comes out, so
// repeated sorts of the same graph agree.
func (dg *DependencyGraph) seedStack() {
	for layerIdx := range dg.perLayer {
		status := dg.perLayer[layerIdx].status
		for spatialIdx, pending := range status {
			if pending == 0 {
				dg.push(layerIdx, spatialIdx)
			}
		}
	}
}

// releaseDependents walks the outgoing edges of an ordered unit, decrementing
// each destination's pending dependency count and pushing destinations that
// reach zero.
func (dg *DependencyGraph) releaseDependents(layerIdx, spatialIdx int) {
	storage := &dg.perLayer[layerIdx]
	degree := int(storage.outDegree[spatialIdx])
	row := spatialIdx * storage.capacity
	for slot := 0; slot < degree; slot++ {
		toLayer := int(storage.destLayer[row+slot])
		toSpatial := int(storage.destSpatial[row+slot])
		status := dg.perLayer[toLayer].status
		status[toSpatial]--
		if status[toSpatial] == 0 {
			dg.push(toLayer, toSpatial)
		}
	}
}

func (dg *DependencyGraph) push(layerIdx, spatialIdx int) {
	dg.stackLayer[dg.stackLen] = int32(layerIdx)
	dg.stackSpatial[dg.stackLen] = int32(spatialIdx)
	dg.stackLen++
}
