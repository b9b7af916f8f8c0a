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
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/hybrid/base"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/config"
	"github.com/gorse-io/hybrid/dataset"
	"github.com/gorse-io/hybrid/feature"
	"github.com/gorse-io/hybrid/model/cf"
	"github.com/gorse-io/hybrid/model/forest"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Weights of the collaborative score and the content score.
const (
	CollaborativeWeight = 0.7
	ContentWeight       = 0.3
)

// Prediction is a hybrid score and its components.
type Prediction struct {
	Collaborative float32
	Content       float32
	Score         float32
	// ColdStart is true if the collaborative score is the fallback value.
	ColdStart bool
}

// Predictor bundles the fitted feature pipeline and both scorers. It is never
// mutated after creation and is safe for concurrent use.
type Predictor struct {
	pipeline       *feature.Pipeline
	als            *cf.ALS
	forest         *forest.RandomForest
	coldStartScore float32
	cache          *ttlcache.Cache[string, Prediction]
	fitTime        time.Time
}

// NewPredictor creates a predictor from fitted components. coldStartScore
// replaces the collaborative score of pairs the ALS model was not trained on.
func NewPredictor(pipeline *feature.Pipeline, als *cf.ALS, rf *forest.RandomForest, coldStartScore float32) *Predictor {
	return &Predictor{
		pipeline:       pipeline,
		als:            als,
		forest:         rf,
		coldStartScore: coldStartScore,
		fitTime:        time.Now(),
	}
}

// WithCache memorizes up to size predictions for ttl. A non-positive size
// disables the cache.
func (p *Predictor) WithCache(size int, ttl time.Duration) *Predictor {
	if size <= 0 {
		p.cache = nil
		return p
	}
	p.cache = ttlcache.New[string, Prediction](
		ttlcache.WithTTL[string, Prediction](ttl),
		ttlcache.WithCapacity[string, Prediction](uint64(size)),
		ttlcache.WithDisableTouchOnHit[string, Prediction](),
	)
	return p
}

func (p *Predictor) Pipeline() *feature.Pipeline {
	return p.pipeline
}

func (p *Predictor) ALS() *cf.ALS {
	return p.als
}

func (p *Predictor) Forest() *forest.RandomForest {
	return p.forest
}

// FitTime is when the predictor was created.
func (p *Predictor) FitTime() time.Time {
	return p.fitTime
}

// Predict the hybrid score of a movie with genres for a user. Unknown users,
// movies and genres never fail: unknown identities are encoded as zero
// vectors and the collaborative score falls back to the cold start score.
func (p *Predictor) Predict(userId, movieId int, genres []string) Prediction {
	var key string
	if p.cache != nil {
		key = cacheKey(userId, movieId, genres)
		if item := p.cache.Get(key); item != nil {
			return item.Value()
		}
	}
	row := p.pipeline.Transform(userId, movieId, genres)
	var prediction Prediction
	if score, ok := p.als.Predict(row.UserIndex, row.MovieIndex); ok {
		prediction.Collaborative = score
	} else {
		prediction.Collaborative = p.coldStartScore
		prediction.ColdStart = true
		log.Logger().Debug("cold start",
			zap.Int("user_id", userId),
			zap.Int("movie_id", movieId),
			zap.Bool("known_user", row.UserIndex >= 0),
			zap.Bool("known_movie", row.MovieIndex >= 0))
	}
	prediction.Content = p.forest.Predict(p.pipeline.ContentVector(row))
	prediction.Score = CollaborativeWeight*prediction.Collaborative + ContentWeight*prediction.Content
	if p.cache != nil {
		p.cache.Set(key, prediction, ttlcache.DefaultTTL)
	}
	return prediction
}

// cacheKey writes every genre with its length so that no two genre lists
// share a key.
func cacheKey(userId, movieId int, genres []string) string {
	var builder strings.Builder
	builder.WriteString(strconv.Itoa(userId))
	builder.WriteByte('/')
	builder.WriteString(strconv.Itoa(movieId))
	for _, genre := range genres {
		builder.WriteByte('/')
		builder.WriteString(strconv.Itoa(len(genre)))
		builder.WriteByte(':')
		builder.WriteString(genre)
	}
	return builder.String()
}

// Fit the feature pipeline on the dataset, then fit the ALS model and the
// random forest concurrently.
func Fit(ctx context.Context, data *dataset.Dataset, cfg *config.Config) (*Predictor, error) {
	if err := data.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	start := time.Now()
	pipeline, err := feature.Fit(ctx, data.Records, cfg.Features.NumHashFeatures, cfg.Features.FitJobs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rows := pipeline.TransformRecords(data.Records)

	als := cf.NewALS(cfg.Collaborative.GetParams())
	rf := forest.NewRandomForest(cfg.Content.GetParams())
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		trainSet := cf.NewDataset(pipeline.NumUsers(), pipeline.NumMovies())
		for i, row := range rows {
			if err := trainSet.Add(row.UserIndex, row.MovieIndex, data.Records[i].Rating.Rating); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(als.Fit(groupCtx, trainSet, cfg.Collaborative.GetFitConfig()))
	})
	group.Go(func() error {
		x := make([]*base.SparseVector, len(rows))
		y := make([]float32, len(rows))
		for i, row := range rows {
			x[i] = pipeline.ContentVector(row)
			y[i] = data.Records[i].Rating.Rating
		}
		return errors.Trace(rf.Fit(groupCtx, x, y, pipeline.ContentDim(), cfg.Content.GetFitConfig()))
	})
	if err = group.Wait(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("fit hybrid predictor complete",
		zap.Int("n_records", len(rows)),
		zap.String("fit_time", time.Since(start).String()))
	return NewPredictor(pipeline, als, rf, cfg.Hybrid.ColdStartScore).
		WithCache(cfg.Hybrid.CacheSize, cfg.Hybrid.CacheTTL), nil
}
