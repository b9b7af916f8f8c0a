// Copyright 2020 gorse Project Authors
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

package cf

import (
	"context"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/base/progress"
	"github.com/gorse-io/hybrid/common/parallel"
	"github.com/gorse-io/hybrid/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// BaseMatrixFactorization holds latent factors and which of them have been trained.
type BaseMatrixFactorization struct {
	model.BaseModel
	UserFactor      [][]float32
	ItemFactor      [][]float32
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
}

func (baseModel *BaseMatrixFactorization) Init(trainSet *Dataset) {
	baseModel.UserPredictable = bitset.New(uint(trainSet.CountUsers()))
	for userIndex, feedback := range trainSet.GetUserFeedback() {
		if len(feedback) > 0 {
			baseModel.UserPredictable.Set(uint(userIndex))
		}
	}
	baseModel.ItemPredictable = bitset.New(uint(trainSet.CountItems()))
	for itemIndex, feedback := range trainSet.GetItemFeedback() {
		if len(feedback) > 0 {
			baseModel.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

// Invalid returns true if the model has not been fitted.
func (baseModel *BaseMatrixFactorization) Invalid() bool {
	return baseModel == nil || baseModel.UserFactor == nil || baseModel.ItemFactor == nil
}

// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsUserPredictable(userIndex int32) bool {
	if userIndex < 0 || int(userIndex) >= len(baseModel.UserFactor) {
		return false
	}
	return baseModel.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsItemPredictable(itemIndex int32) bool {
	if itemIndex < 0 || int(itemIndex) >= len(baseModel.ItemFactor) {
		return false
	}
	return baseModel.ItemPredictable.Test(uint(itemIndex))
}

// Predict the affinity between a user and a movie. The second return value is
// false if either of them was never trained, in which case the score is zero.
func (baseModel *BaseMatrixFactorization) Predict(userIndex, itemIndex int32) (float32, bool) {
	if !baseModel.IsUserPredictable(userIndex) || !baseModel.IsItemPredictable(itemIndex) {
		return 0, false
	}
	return baseModel.internalPredict(userIndex, itemIndex), true
}

func (baseModel *BaseMatrixFactorization) internalPredict(userIndex, itemIndex int32) float32 {
	return dot(baseModel.UserFactor[userIndex], baseModel.ItemFactor[itemIndex])
}

// ALS is the element-wise alternating least squares for implicit feedback [1].
// An observed rating r has preference 1 and confidence 1 + alpha * |r|, while
// every unobserved pair has preference 0 and confidence 1. Each coordinate
// update is projected onto [0, +inf) if factors are non-negative.
//
// [1] He, Xiangnan, et al. "Fast matrix factorization for online recommendation
// with implicit feedback." SIGIR 2016.
type ALS struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors    int
	nEpochs     int
	reg         float32
	alpha       float32
	initMean    float32
	initStdDev  float32
	nonNegative bool
}

// NewALS creates a ALS model.
func NewALS(params model.Params) *ALS {
	als := new(ALS)
	als.SetParams(params)
	return als
}

// SetParams sets hyper-parameters for the ALS model.
func (als *ALS) SetParams(params model.Params) {
	als.BaseMatrixFactorization.SetParams(params)
	als.nFactors = als.Params.GetInt(model.NFactors, 10)
	als.nEpochs = als.Params.GetInt(model.NEpochs, 10)
	als.reg = als.Params.GetFloat32(model.Reg, 0.1)
	als.alpha = als.Params.GetFloat32(model.Alpha, 1.0)
	als.initMean = als.Params.GetFloat32(model.InitMean, 0)
	als.initStdDev = als.Params.GetFloat32(model.InitStdDev, 0.1)
	als.nonNegative = als.Params.GetBool(model.NonNegative, true)
}

func (als *ALS) Init(trainSet *Dataset) {
	rng := als.GetRandomGenerator()
	als.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), als.nFactors, als.initMean, als.initStdDev)
	als.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), als.nFactors, als.initMean, als.initStdDev)
	if als.nonNegative {
		for _, factors := range [][][]float32{als.UserFactor, als.ItemFactor} {
			for _, row := range factors {
				for k := range row {
					row[k] = math32.Abs(row[k])
				}
			}
		}
	}
	als.BaseMatrixFactorization.Init(trainSet)
}

// Fit the ALS model. Its task complexity is O(als.nEpochs).
func (als *ALS) Fit(ctx context.Context, trainSet *Dataset, config *FitConfig) error {
	if config == nil {
		config = NewFitConfig()
	}
	if trainSet.CountFeedback() == 0 {
		return errors.NotValidf("empty train set")
	}
	log.Logger().Info("fit als",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Any("params", als.GetParams()),
		zap.Any("config", config))
	als.Init(trainSet)
	s := make([][]float32, als.nFactors)
	for i := range s {
		s[i] = make([]float32, als.nFactors)
	}

	_, span := progress.Start(ctx, "ALS.Fit", als.nEpochs)
	defer span.End()
	for ep := 1; ep <= als.nEpochs; ep++ {
		fitStart := time.Now()
		// S^q <- \sum_i q_i q_i^T
		als.gram(s, als.ItemFactor, als.ItemPredictable)
		if err := parallel.Parallel(ctx, trainSet.CountUsers(), config.Jobs, func(_, userIndex int) error {
			als.update(als.UserFactor[userIndex], als.ItemFactor, trainSet.GetUserFeedback()[userIndex], s)
			return nil
		}); err != nil {
			span.Error(err)
			return errors.Trace(err)
		}
		// S^p <- \sum_u p_u p_u^T
		als.gram(s, als.UserFactor, als.UserPredictable)
		if err := parallel.Parallel(ctx, trainSet.CountItems(), config.Jobs, func(_, itemIndex int) error {
			als.update(als.ItemFactor[itemIndex], als.UserFactor, trainSet.GetItemFeedback()[itemIndex], s)
			return nil
		}); err != nil {
			span.Error(err)
			return errors.Trace(err)
		}
		if config.Verbose > 0 && (ep%config.Verbose == 0 || ep == als.nEpochs) {
			log.Logger().Debug(fmt.Sprintf("fit als %v/%v", ep, als.nEpochs),
				zap.String("fit_time", time.Since(fitStart).String()),
				zap.Float32("loss", als.Loss(trainSet)))
		}
		span.Add(1)
	}
	log.Logger().Info("fit als complete", zap.Float32("loss", als.Loss(trainSet)))
	return nil
}

// gram computes S <- \sum_j x_j x_j^T over trained rows.
func (als *ALS) gram(s, factors [][]float32, predictable *bitset.BitSet) {
	for i := range s {
		clear(s[i])
	}
	for j, x := range factors {
		if !predictable.Test(uint(j)) {
			continue
		}
		for i := 0; i < als.nFactors; i++ {
			for k := 0; k < als.nFactors; k++ {
				s[i][k] += x[i] * x[k]
			}
		}
	}
}

// update solves every coordinate of p given the fixed side Q, the feedback of
// p and S = Q^T Q.
func (als *ALS) update(p []float32, q [][]float32, feedback []Feedback, s [][]float32) {
	if len(feedback) == 0 {
		return
	}
	predictions := make([]float32, len(feedback))
	residuals := make([]float32, len(feedback))
	for j, fb := range feedback {
		predictions[j] = dot(p, q[fb.Index])
	}
	for f := 0; f < als.nFactors; f++ {
		// \hat{r}^f_{ui} <- \hat{r}_{ui} - p_{uf} q_{if}
		for j, fb := range feedback {
			residuals[j] = predictions[j] - p[f]*q[fb.Index][f]
		}
		a, b, c := float32(0), float32(0), float32(0)
		for j, fb := range feedback {
			confidence := 1 + als.alpha*math32.Abs(fb.Rating)
			preference := float32(0)
			if fb.Rating > 0 {
				preference = 1
			}
			qf := q[fb.Index][f]
			a += (confidence*preference - (confidence-1)*residuals[j]) * qf
			c += (confidence - 1) * qf * qf
		}
		for k := 0; k < als.nFactors; k++ {
			if k != f {
				b += p[k] * s[k][f]
			}
		}
		p[f] = (a - b) / (c + s[f][f] + als.reg)
		if als.nonNegative && p[f] < 0 {
			p[f] = 0
		}
		// \hat{r}_{ui} <- \hat{r}^f_{ui} + p_{uf} q_{if}
		for j, fb := range feedback {
			predictions[j] = residuals[j] + p[f]*q[fb.Index][f]
		}
	}
}

// Loss is the regularized weighted squared error over the whole matrix. Terms
// of unobserved pairs are summed through the Gram matrix of item factors.
func (als *ALS) Loss(trainSet *Dataset) float32 {
	s := make([][]float32, als.nFactors)
	for i := range s {
		s[i] = make([]float32, als.nFactors)
	}
	als.gram(s, als.ItemFactor, als.ItemPredictable)
	var loss float32
	for userIndex, feedback := range trainSet.GetUserFeedback() {
		if len(feedback) == 0 {
			continue
		}
		p := als.UserFactor[userIndex]
		// \sum_i \hat{r}_{ui}^2 = p_u^T S^q p_u
		for i := 0; i < als.nFactors; i++ {
			for k := 0; k < als.nFactors; k++ {
				loss += p[i] * s[i][k] * p[k]
			}
		}
		for _, fb := range feedback {
			prediction := dot(p, als.ItemFactor[fb.Index])
			confidence := 1 + als.alpha*math32.Abs(fb.Rating)
			preference := float32(0)
			if fb.Rating > 0 {
				preference = 1
			}
			loss += confidence*(preference-prediction)*(preference-prediction) - prediction*prediction
		}
	}
	for _, factors := range [][][]float32{als.UserFactor, als.ItemFactor} {
		for _, row := range factors {
			loss += als.reg * dot(row, row)
		}
	}
	return loss
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
