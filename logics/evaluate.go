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

package logics

import (
	"context"
	"math"

	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Score is the root mean squared error of each scorer on a test set.
type Score struct {
	CollaborativeRMSE float64
	ContentRMSE       float64
	HybridRMSE        float64
	NumTest           int
	// NumColdStart records are excluded from CollaborativeRMSE.
	NumColdStart int
}

// Evaluate predictions against ratings of the test set. Records whose user or
// movie was not trained are dropped from the collaborative error but still
// count toward content and hybrid errors.
func (p *Predictor) Evaluate(ctx context.Context, test *dataset.Dataset) (Score, error) {
	if err := test.Validate(); err != nil {
		return Score{}, errors.Trace(err)
	}
	var (
		truth, content, hybrid []float64
		warmTruth, warm        []float64
	)
	for _, record := range test.Records {
		if err := ctx.Err(); err != nil {
			return Score{}, errors.Trace(err)
		}
		prediction := p.Predict(record.UserId, record.MovieId, record.Genres)
		rating := float64(record.Rating.Rating)
		truth = append(truth, rating)
		content = append(content, float64(prediction.Content))
		hybrid = append(hybrid, float64(prediction.Score))
		if !prediction.ColdStart {
			warmTruth = append(warmTruth, rating)
			warm = append(warm, float64(prediction.Collaborative))
		}
	}
	score := Score{
		CollaborativeRMSE: rmse(warm, warmTruth),
		ContentRMSE:       rmse(content, truth),
		HybridRMSE:        rmse(hybrid, truth),
		NumTest:           len(truth),
		NumColdStart:      len(truth) - len(warmTruth),
	}
	log.Logger().Info("evaluate hybrid predictor",
		zap.Int("n_test", score.NumTest),
		zap.Int("n_cold_start", score.NumColdStart),
		zap.Float64("collaborative_rmse", score.CollaborativeRMSE),
		zap.Float64("content_rmse", score.ContentRMSE),
		zap.Float64("hybrid_rmse", score.HybridRMSE))
	return score, nil
}

// rmse is NaN for empty inputs.
func rmse(predictions, truth []float64) float64 {
	if len(truth) == 0 {
		return math.NaN()
	}
	return floats.Distance(predictions, truth, 2) / math.Sqrt(float64(len(truth)))
}
