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
	"slices"

	"github.com/juju/errors"
)

// HybridScore is a ranked candidate movie.
type HybridScore struct {
	MovieId int     `json:"movieId"`
	Score   float64 `json:"score"`
}

// Recommend scores candidate movies for a user and sorts them by score in
// descending order. Candidates with equal scores keep their input order.
// movieIds and genresLists are paired by position. The first n results are
// returned if n is positive, otherwise all of them.
func (p *Predictor) Recommend(ctx context.Context, userId int, movieIds []int, genresLists [][]string, n int) ([]HybridScore, error) {
	if len(movieIds) != len(genresLists) {
		return nil, errors.NotValidf("%d movieIds with %d genres_lists", len(movieIds), len(genresLists))
	}
	scores := make([]HybridScore, len(movieIds))
	for i, movieId := range movieIds {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		scores[i] = HybridScore{
			MovieId: movieId,
			Score:   float64(p.Predict(userId, movieId, genresLists[i]).Score),
		}
	}
	slices.SortStableFunc(scores, func(a, b HybridScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if n > 0 && n < len(scores) {
		scores = scores[:n]
	}
	return scores, nil
}
