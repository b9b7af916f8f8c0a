// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forest

import (
	"slices"

	"github.com/gorse-io/hybrid/base"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/stat"
)

// Node of a regression tree. Leaves have Feature -1.
type Node struct {
	Feature   int32
	Threshold float32
	Left      int32
	Right     int32
	Value     float32
}

func (node Node) IsLeaf() bool {
	return node.Feature < 0
}

type Tree struct {
	Nodes []Node
}

// Predict walks from the root to a leaf. x must be sorted by indices.
func (tree *Tree) Predict(x *base.SparseVector) float32 {
	i := int32(0)
	for {
		node := tree.Nodes[i]
		if node.IsLeaf() {
			return node.Value
		}
		if x.Get(node.Feature) <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Depth returns the number of edges on the longest path from the root.
func (tree *Tree) Depth() int {
	var depth func(i int32) int
	depth = func(i int32) int {
		node := tree.Nodes[i]
		if node.IsLeaf() {
			return 0
		}
		return 1 + max(depth(node.Left), depth(node.Right))
	}
	return depth(0)
}

type entry struct {
	row   int32
	value float32
}

// columns stores non-zero feature values column by column.
type columns [][]entry

func newColumns(x []*base.SparseVector, numFeatures int) (columns, error) {
	c := make(columns, numFeatures)
	for row, vec := range x {
		var err error
		vec.ForEach(func(_ int, index int32, value float32) {
			switch {
			case err != nil:
			case index < 0 || int(index) >= numFeatures:
				err = errors.NotValidf("feature %d of record %d out of range [0, %d)", index, row, numFeatures)
			case value < 0:
				err = errors.NotValidf("negative feature %d of record %d", index, row)
			case value != 0:
				c[index] = append(c[index], entry{row: int32(row), value: value})
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// stats are weighted sums of labels.
type stats struct {
	n     float64
	sum   float64
	sumSq float64
}

func (s *stats) add(y, w float32) {
	s.n += float64(w)
	s.sum += float64(w) * float64(y)
	s.sumSq += float64(w) * float64(y) * float64(y)
}

func (s stats) sub(o stats) stats {
	return stats{n: s.n - o.n, sum: s.sum - o.sum, sumSq: s.sumSq - o.sumSq}
}

// impurity is the weighted sum of squared deviations.
func (s stats) impurity() float64 {
	if s.n <= 0 {
		return 0
	}
	return s.sumSq - s.sum*s.sum/s.n
}

type treeBuilder struct {
	columns             columns
	labels              []float32
	rng                 base.RandomGenerator
	maxDepth            int
	minInstancesPerNode float64
	numSubFeatures      int

	weights []float32
	stamp   []int32
	nextId  int32
	nodes   []Node
}

func (b *treeBuilder) build(weights []float32) *Tree {
	b.weights = weights
	b.stamp = make([]int32, len(weights))
	for i := range b.stamp {
		b.stamp[i] = -1
	}
	rows := make([]int32, 0, len(weights))
	for i, w := range weights {
		if w > 0 {
			rows = append(rows, int32(i))
		}
	}
	b.grow(rows, 0)
	return &Tree{Nodes: b.nodes}
}

// grow appends the subtree of rows and returns the index of its root.
func (b *treeBuilder) grow(rows []int32, depth int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Feature: -1, Value: b.mean(rows)})
	var total stats
	for _, row := range rows {
		total.add(b.labels[row], b.weights[row])
	}
	if depth >= b.maxDepth || total.n < 2*b.minInstancesPerNode || total.impurity() <= 1e-6 {
		return id
	}
	feature, threshold, ok := b.bestSplit(rows, total)
	if !ok {
		return id
	}
	var left, right []int32
	for _, row := range rows {
		if b.value(feature, row) <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	leftId := b.grow(left, depth+1)
	rightId := b.grow(right, depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: leftId, Right: rightId, Value: b.nodes[id].Value}
	return id
}

func (b *treeBuilder) value(feature int32, row int32) float32 {
	column := b.columns[feature]
	i, found := slices.BinarySearchFunc(column, row, func(e entry, row int32) int {
		return int(e.row - row)
	})
	if found {
		return column[i].value
	}
	return 0
}

// bestSplit searches a random subset of features for the split with the
// largest impurity decrease. Zeros are the smallest values since features
// are non-negative, so only non-zero entries need sorting.
func (b *treeBuilder) bestSplit(rows []int32, total stats) (int32, float32, bool) {
	b.nextId++
	for _, row := range rows {
		b.stamp[row] = b.nextId
	}
	var (
		bestGain      float64
		bestFeature   int32 = -1
		bestThreshold float32
		values        []entry
	)
	parent := total.impurity()
	for _, feature := range b.rng.Sample(0, len(b.columns), b.numSubFeatures) {
		values = values[:0]
		var nonZero stats
		for _, e := range b.columns[feature] {
			if b.stamp[e.row] == b.nextId {
				values = append(values, e)
				nonZero.add(b.labels[e.row], b.weights[e.row])
			}
		}
		if len(values) == 0 {
			continue
		}
		slices.SortFunc(values, func(x, y entry) int {
			switch {
			case x.value < y.value:
				return -1
			case x.value > y.value:
				return 1
			default:
				return int(x.row - y.row)
			}
		})
		// left holds zeros first, then non-zeros up to the threshold
		left := total.sub(nonZero)
		prev := float32(0)
		for i := 0; i <= len(values); i++ {
			if i == len(values) || values[i].value != prev {
				if i > 0 || left.n > 0 {
					right := total.sub(left)
					if i < len(values) && left.n >= b.minInstancesPerNode && right.n >= b.minInstancesPerNode {
						gain := parent - left.impurity() - right.impurity()
						if gain > bestGain+1e-6 {
							bestGain = gain
							bestFeature = int32(feature)
							bestThreshold = (prev + values[i].value) / 2
						}
					}
				}
				if i == len(values) {
					break
				}
				prev = values[i].value
			}
			left.add(b.labels[values[i].row], b.weights[values[i].row])
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (b *treeBuilder) mean(rows []int32) float32 {
	if len(rows) == 0 {
		return 0
	}
	x := make([]float64, len(rows))
	w := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = float64(b.labels[row])
		w[i] = float64(b.weights[row])
	}
	return float32(stat.Mean(x, w))
}
