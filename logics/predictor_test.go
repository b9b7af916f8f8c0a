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
	"testing"
	"time"

	"github.com/gorse-io/hybrid/config"
	"github.com/gorse-io/hybrid/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var (
	testMovieIds    = []int{1, 3, 6, 47, 50}
	testGenresLists = [][]string{
		{"Adventure", "Animation", "Children", "Comedy", "Fantasy"},
		{"Comedy", "Romance"},
		{"Action", "Crime", "Thriller"},
		{"Mystery", "Thriller"},
		{"Crime", "Mystery", "Thriller"},
	}
)

// NewTestDataset creates ratings where movie 1 is loved by everyone and
// movie 3 is disliked.
func NewTestDataset() *dataset.Dataset {
	movies := []dataset.Movie{
		{MovieId: 1, Title: "Toy Story (1995)", Genres: testGenresLists[0]},
		{MovieId: 3, Title: "Grumpier Old Men (1995)", Genres: testGenresLists[1]},
		{MovieId: 6, Title: "Heat (1995)", Genres: testGenresLists[2]},
		{MovieId: 47, Title: "Seven (a.k.a. Se7en) (1995)", Genres: testGenresLists[3]},
		{MovieId: 50, Title: "Usual Suspects, The (1995)", Genres: testGenresLists[4]},
	}
	var ratings []dataset.Rating
	for userId := 1; userId <= 8; userId++ {
		ratings = append(ratings, dataset.Rating{UserId: userId, MovieId: 1, Rating: 5})
		if userId%2 == 1 {
			ratings = append(ratings, dataset.Rating{UserId: userId, MovieId: 3, Rating: 1})
		}
		if userId > 2 {
			ratings = append(ratings, dataset.Rating{UserId: userId, MovieId: 50, Rating: 4})
		}
		if userId > 3 {
			ratings = append(ratings, dataset.Rating{UserId: userId, MovieId: 47, Rating: 3.5})
		}
		if userId > 5 {
			ratings = append(ratings, dataset.Rating{UserId: userId, MovieId: 6, Rating: 2.5})
		}
	}
	return dataset.NewDataset(ratings, movies)
}

func NewTestConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Features.FitJobs = 2
	cfg.Collaborative.FitJobs = 2
	cfg.Content.FitJobs = 2
	return cfg
}

type PredictorTestSuite struct {
	suite.Suite
	predictor *Predictor
}

func (suite *PredictorTestSuite) SetupSuite() {
	var err error
	suite.predictor, err = Fit(context.Background(), NewTestDataset(), NewTestConfig())
	suite.NoError(err)
}

func (suite *PredictorTestSuite) TestWeightedCombination() {
	for _, userId := range []int{1, 2, 8, 100} {
		for i, movieId := range append(testMovieIds, 999) {
			genres := testGenresLists[i%len(testGenresLists)]
			prediction := suite.predictor.Predict(userId, movieId, genres)
			suite.InDelta(0.7*prediction.Collaborative+0.3*prediction.Content, prediction.Score, 1e-5)
			suite.GreaterOrEqual(prediction.Collaborative, float32(0))
		}
	}
}

func (suite *PredictorTestSuite) TestDeterministic() {
	a := suite.predictor.Predict(2, 47, testGenresLists[3])
	b := suite.predictor.Predict(2, 47, testGenresLists[3])
	suite.Equal(a, b)
	// same prediction without the cache
	uncached := NewPredictor(suite.predictor.Pipeline(), suite.predictor.ALS(), suite.predictor.Forest(), 0)
	suite.Equal(a, uncached.Predict(2, 47, testGenresLists[3]))
}

func (suite *PredictorTestSuite) TestContentIgnoresUser() {
	a := suite.predictor.Predict(1, 50, testGenresLists[4])
	b := suite.predictor.Predict(7, 50, testGenresLists[4])
	suite.Equal(a.Content, b.Content)
}

func (suite *PredictorTestSuite) TestColdStart() {
	// unknown movie
	prediction := suite.predictor.Predict(1, 999, []string{"Western"})
	suite.True(prediction.ColdStart)
	suite.Zero(prediction.Collaborative)
	suite.False(math.IsNaN(float64(prediction.Content)))
	// unknown user
	prediction = suite.predictor.Predict(100, 1, testGenresLists[0])
	suite.True(prediction.ColdStart)
	// known pair
	prediction = suite.predictor.Predict(1, 1, testGenresLists[0])
	suite.False(prediction.ColdStart)

	// fallback score is configurable
	custom := NewPredictor(suite.predictor.Pipeline(), suite.predictor.ALS(), suite.predictor.Forest(), 2.5)
	prediction = custom.Predict(1, 999, nil)
	suite.True(prediction.ColdStart)
	suite.Equal(float32(2.5), prediction.Collaborative)
}

func (suite *PredictorTestSuite) TestRecommend() {
	scores, err := suite.predictor.Recommend(context.Background(), 1, testMovieIds, testGenresLists, 0)
	suite.NoError(err)
	suite.Len(scores, len(testMovieIds))
	suite.ElementsMatch(testMovieIds, lo.Map(scores, func(s HybridScore, _ int) int { return s.MovieId }))
	for i := 1; i < len(scores); i++ {
		suite.GreaterOrEqual(scores[i-1].Score, scores[i].Score)
	}
	suite.Equal(1, scores[0].MovieId)
}

func (suite *PredictorTestSuite) TestRecommendTruncate() {
	all, err := suite.predictor.Recommend(context.Background(), 1, testMovieIds, testGenresLists, 0)
	suite.NoError(err)
	top, err := suite.predictor.Recommend(context.Background(), 1, testMovieIds, testGenresLists, 2)
	suite.NoError(err)
	suite.Equal(all[:2], top)
	top, err = suite.predictor.Recommend(context.Background(), 1, testMovieIds, testGenresLists, 100)
	suite.NoError(err)
	suite.Equal(all, top)
}

func (suite *PredictorTestSuite) TestRecommendStable() {
	// identical unknown candidates tie and keep input order
	scores, err := suite.predictor.Recommend(context.Background(), 1, []int{998, 999}, [][]string{{"Drama"}, {"Drama"}}, 0)
	suite.NoError(err)
	suite.Equal(scores[0].Score, scores[1].Score)
	suite.Equal([]int{998, 999}, []int{scores[0].MovieId, scores[1].MovieId})
	scores, err = suite.predictor.Recommend(context.Background(), 1, []int{999, 998}, [][]string{{"Drama"}, {"Drama"}}, 0)
	suite.NoError(err)
	suite.Equal([]int{999, 998}, []int{scores[0].MovieId, scores[1].MovieId})
}

func (suite *PredictorTestSuite) TestRecommendEmpty() {
	scores, err := suite.predictor.Recommend(context.Background(), 1, nil, nil, 0)
	suite.NoError(err)
	suite.Empty(scores)
}

func (suite *PredictorTestSuite) TestRecommendFail() {
	_, err := suite.predictor.Recommend(context.Background(), 1, testMovieIds, testGenresLists[:3], 0)
	suite.True(errors.Is(err, errors.NotValid))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.predictor.Recommend(ctx, 1, testMovieIds, testGenresLists, 0)
	suite.ErrorIs(err, context.Canceled)
}

func TestPredictor(t *testing.T) {
	suite.Run(t, new(PredictorTestSuite))
}

func TestFit_Invalid(t *testing.T) {
	_, err := Fit(context.Background(), dataset.NewDataset(nil, nil), NewTestConfig())
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestPredictor_Cache(t *testing.T) {
	predictor, err := Fit(context.Background(), NewTestDataset(), NewTestConfig())
	assert.NoError(t, err)
	assert.NotNil(t, predictor.cache)
	prediction := predictor.Predict(1, 1, testGenresLists[0])
	item := predictor.cache.Get(cacheKey(1, 1, testGenresLists[0]))
	if assert.NotNil(t, item) {
		assert.Equal(t, prediction, item.Value())
	}
	assert.Nil(t, predictor.WithCache(0, time.Minute).cache)
}

func TestPredictor_CacheKeySeparatesGenres(t *testing.T) {
	cached, err := Fit(context.Background(), NewTestDataset(), NewTestConfig())
	assert.NoError(t, err)
	uncached := NewPredictor(cached.Pipeline(), cached.ALS(), cached.Forest(), 0)
	for _, movieId := range testMovieIds {
		joined := cached.Predict(1, movieId, []string{"Comedy|Romance"})
		split := cached.Predict(1, movieId, []string{"Comedy", "Romance"})
		assert.Equal(t, uncached.Predict(1, movieId, []string{"Comedy|Romance"}), joined)
		assert.Equal(t, uncached.Predict(1, movieId, []string{"Comedy", "Romance"}), split)
	}
	assert.NotEqual(t, cacheKey(1, 3, []string{"Comedy|Romance"}), cacheKey(1, 3, []string{"Comedy", "Romance"}))
	assert.NotEqual(t, cacheKey(1, 3, []string{"a/1:b"}), cacheKey(1, 3, []string{"a", "b"}))
	assert.NotEqual(t, cacheKey(1, 3, nil), cacheKey(1, 3, []string{""}))
}

func TestEvaluate(t *testing.T) {
	train, test := NewTestDataset().Split(0.2, 0)
	predictor, err := Fit(context.Background(), train, NewTestConfig())
	assert.NoError(t, err)
	score, err := predictor.Evaluate(context.Background(), test)
	assert.NoError(t, err)
	assert.Equal(t, test.Count(), score.NumTest)
	assert.LessOrEqual(t, score.NumColdStart, score.NumTest)
	assert.False(t, math.IsNaN(score.ContentRMSE))
	assert.False(t, math.IsNaN(score.HybridRMSE))
	assert.GreaterOrEqual(t, score.ContentRMSE, float64(0))

	_, err = predictor.Evaluate(context.Background(), dataset.NewDataset(nil, nil))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestRMSE(t *testing.T) {
	assert.InDelta(t, 1.0, rmse([]float64{1, 2}, []float64{2, 3}), 1e-9)
	assert.InDelta(t, math.Sqrt(2), rmse([]float64{0, 0}, []float64{1, -math.Sqrt(3)}), 1e-9)
	assert.True(t, math.IsNaN(rmse(nil, nil)))
}
