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
	"context"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/hybrid/base"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/base/progress"
	"github.com/gorse-io/hybrid/common/parallel"
	"github.com/gorse-io/hybrid/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type FitConfig struct {
	Jobs int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{Jobs: 1}
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// RandomForest is an ensemble of regression trees. Every tree is fitted on a
// bootstrap sample of records and considers a random subset of features at
// each node. The prediction is the mean of tree predictions.
type RandomForest struct {
	model.BaseModel
	Trees       []*Tree
	NumFeatures int
	// Hyper parameters
	numTrees            int
	maxDepth            int
	minInstancesPerNode int
	subsamplingRate     float32
	featureSubsetRatio  float32
}

// NewRandomForest creates a random forest regressor.
func NewRandomForest(params model.Params) *RandomForest {
	forest := new(RandomForest)
	forest.SetParams(params)
	return forest
}

// SetParams sets hyper-parameters of the random forest.
func (forest *RandomForest) SetParams(params model.Params) {
	forest.BaseModel.SetParams(params)
	forest.numTrees = forest.Params.GetInt(model.NumTrees, 20)
	forest.maxDepth = forest.Params.GetInt(model.MaxDepth, 5)
	forest.minInstancesPerNode = forest.Params.GetInt(model.MinInstancesPerNode, 1)
	forest.subsamplingRate = forest.Params.GetFloat32(model.SubsamplingRate, 1)
	forest.featureSubsetRatio = forest.Params.GetFloat32(model.FeatureSubsetRatio, 1.0/3)
}

// Invalid returns true if the forest has not been fitted.
func (forest *RandomForest) Invalid() bool {
	return forest == nil || len(forest.Trees) == 0
}

// Fit trees on sparse feature vectors x and labels y. Feature values must be
// non-negative and less than numFeatures in index.
func (forest *RandomForest) Fit(ctx context.Context, x []*base.SparseVector, y []float32, numFeatures int, config *FitConfig) error {
	if config == nil {
		config = NewFitConfig()
	}
	if len(x) == 0 {
		return errors.NotValidf("empty train set")
	}
	if len(x) != len(y) {
		return errors.NotValidf("%d feature vectors with %d labels", len(x), len(y))
	}
	if forest.numTrees <= 0 || forest.maxDepth < 0 {
		return errors.NotValidf("forest of %d trees with max depth %d", forest.numTrees, forest.maxDepth)
	}
	log.Logger().Info("fit random forest",
		zap.Int("train_set_size", len(x)),
		zap.Int("n_features", numFeatures),
		zap.Any("params", forest.GetParams()),
		zap.Any("config", config))
	start := time.Now()
	columns, err := newColumns(x, numFeatures)
	if err != nil {
		return errors.Trace(err)
	}
	seeds := make([]int64, forest.numTrees)
	for i := range seeds {
		seeds[i] = forest.GetRandomGenerator().Int63()
	}
	trees := make([]*Tree, forest.numTrees)
	_, span := progress.Start(ctx, "RandomForest.Fit", forest.numTrees)
	defer span.End()
	if err = parallel.Parallel(ctx, forest.numTrees, config.Jobs, func(_, treeIndex int) error {
		builder := &treeBuilder{
			columns:             columns,
			labels:              y,
			rng:                 base.NewRandomGenerator(seeds[treeIndex]),
			maxDepth:            forest.maxDepth,
			minInstancesPerNode: float64(forest.minInstancesPerNode),
			numSubFeatures:      max(1, int(math32.Ceil(float32(numFeatures)*forest.featureSubsetRatio))),
		}
		weights := forest.bootstrap(builder.rng, len(y))
		trees[treeIndex] = builder.build(weights)
		span.Add(1)
		return nil
	}); err != nil {
		span.Error(err)
		return errors.Trace(err)
	}
	forest.Trees = trees
	forest.NumFeatures = numFeatures
	log.Logger().Info("fit random forest complete",
		zap.Int("n_trees", len(trees)),
		zap.Int("n_nodes", lo.SumBy(trees, func(tree *Tree) int { return len(tree.Nodes) })),
		zap.String("fit_time", time.Since(start).String()))
	return nil
}

// bootstrap draws subsamplingRate * n records with replacement and returns the
// number of times each record is drawn. A single tree is fitted on all records.
func (forest *RandomForest) bootstrap(rng base.RandomGenerator, n int) []float32 {
	weights := make([]float32, n)
	if forest.numTrees == 1 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	numSamples := max(1, int(float32(n)*forest.subsamplingRate))
	for i := 0; i < numSamples; i++ {
		weights[rng.Intn(n)]++
	}
	return weights
}

// Predict the label of a feature vector.
func (forest *RandomForest) Predict(x *base.SparseVector) float32 {
	if forest.Invalid() {
		return 0
	}
	if !x.Sorted {
		sorted := &base.SparseVector{
			Indices: append([]int32(nil), x.Indices...),
			Values:  append([]float32(nil), x.Values...),
		}
		sorted.SortIndex()
		x = sorted
	}
	var sum float32
	for _, tree := range forest.Trees {
		sum += tree.Predict(x)
	}
	return sum / float32(len(forest.Trees))
}
