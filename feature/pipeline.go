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

package feature

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/chewxy/math32"
	"github.com/gorse-io/hybrid/base"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/common/parallel"
	"github.com/gorse-io/hybrid/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// DefaultNumHashFeatures is the width of hashed genre vectors.
const DefaultNumHashFeatures = 1000

// Row is the intermediate record passed through the stages of a pipeline.
type Row struct {
	UserId     int
	MovieId    int
	Genres     []string
	UserIndex  int32
	MovieIndex int32
	GenreTF    *base.SparseVector
	GenreTFIDF *base.SparseVector
}

// Stage is a transform whose learned parameters live in the pipeline.
type Stage struct {
	Name  string
	Apply func(p *Pipeline, row Row) Row
}

// Stages are applied in order. The TF-IDF stage depends on the hashing stage.
var Stages = []Stage{
	{Name: "index_users", Apply: indexUsers},
	{Name: "index_movies", Apply: indexMovies},
	{Name: "hash_genres", Apply: hashGenres},
	{Name: "weigh_genres", Apply: weighGenres},
}

func indexUsers(p *Pipeline, row Row) Row {
	row.UserIndex = p.userIndex.Id(row.UserId)
	return row
}

func indexMovies(p *Pipeline, row Row) Row {
	row.MovieIndex = p.movieIndex.Id(row.MovieId)
	return row
}

func hashGenres(p *Pipeline, row Row) Row {
	row.GenreTF = HashingTF(row.Genres, p.numHashFeatures)
	return row
}

func weighGenres(p *Pipeline, row Row) Row {
	vec := base.NewSparseVector()
	if row.GenreTF != nil {
		row.GenreTF.ForEach(func(_ int, index int32, value float32) {
			vec.Add(index, value*p.idf[index])
		})
	}
	row.GenreTFIDF = vec
	return row
}

// HashTerm maps a term to a slot in [0, numFeatures).
func HashTerm(term string, numFeatures int) int32 {
	return int32(xxhash.Sum64String(term) % uint64(numFeatures))
}

// HashingTF counts hashed terms. Colliding terms share a slot.
func HashingTF(terms []string, numFeatures int) *base.SparseVector {
	counts := make(map[int32]float32, len(terms))
	for _, term := range terms {
		counts[HashTerm(term, numFeatures)]++
	}
	vec := base.NewSparseVector()
	for index, count := range counts {
		vec.Add(index, count)
	}
	vec.SortIndex()
	return vec
}

// Pipeline bundles the parameters learned by every stage. It is never mutated
// after Fit returns.
type Pipeline struct {
	numHashFeatures int
	numDocuments    int
	userIndex       *dataset.FreqDict
	movieIndex      *dataset.FreqDict
	idf             []float32
}

// Fit learns user and movie indexes and inverse document frequencies of
// hashed genres from records.
func Fit(ctx context.Context, records []dataset.JoinedRecord, numHashFeatures, jobs int) (*Pipeline, error) {
	if len(records) == 0 {
		return nil, errors.NotValidf("empty records")
	}
	if numHashFeatures <= 0 {
		return nil, errors.NotValidf("number of hash features %d", numHashFeatures)
	}
	p := &Pipeline{
		numHashFeatures: numHashFeatures,
		numDocuments:    len(records),
	}
	userIds := make([]int, len(records))
	movieIds := make([]int, len(records))
	for i, record := range records {
		userIds[i] = record.UserId
		movieIds[i] = record.MovieId
	}
	p.userIndex = dataset.NewFreqDict(userIds)
	p.movieIndex = dataset.NewFreqDict(movieIds)

	// document frequency of every slot
	chunks := parallel.Split(records, max(jobs, 1))
	dfs := make([][]int, len(chunks))
	if err := parallel.For(ctx, len(chunks), jobs, func(i int) {
		dfs[i] = make([]int, numHashFeatures)
		for _, record := range chunks[i] {
			HashingTF(record.Genres, numHashFeatures).ForEach(func(_ int, index int32, _ float32) {
				dfs[i][index]++
			})
		}
	}); err != nil {
		return nil, errors.Trace(err)
	}
	p.idf = make([]float32, numHashFeatures)
	m := float32(len(records))
	for j := range p.idf {
		df := 0
		for i := range dfs {
			df += dfs[i][j]
		}
		p.idf[j] = math32.Log((m + 1) / (float32(df) + 1))
	}
	log.Logger().Info("fit feature pipeline",
		zap.Int("n_records", len(records)),
		zap.Int32("n_users", p.userIndex.Count()),
		zap.Int32("n_movies", p.movieIndex.Count()),
		zap.Int("n_hash_features", numHashFeatures))
	return p, nil
}

// Transform builds the feature row of a single (user, movie, genres) triple
// with the fitted parameters. Unknown users and movies get index -1.
func (p *Pipeline) Transform(userId, movieId int, genres []string) Row {
	row := Row{UserId: userId, MovieId: movieId, Genres: genres}
	for _, stage := range Stages {
		row = stage.Apply(p, row)
	}
	return row
}

// TransformRecords transforms every joined record.
func (p *Pipeline) TransformRecords(records []dataset.JoinedRecord) []Row {
	rows := make([]Row, len(records))
	for i, record := range records {
		rows[i] = p.Transform(record.UserId, record.MovieId, record.Genres)
	}
	return rows
}

func (p *Pipeline) NumUsers() int {
	return int(p.userIndex.Count())
}

func (p *Pipeline) NumMovies() int {
	return int(p.movieIndex.Count())
}

func (p *Pipeline) NumHashFeatures() int {
	return p.numHashFeatures
}

func (p *Pipeline) UserIndex() *dataset.FreqDict {
	return p.userIndex
}

func (p *Pipeline) MovieIndex() *dataset.FreqDict {
	return p.movieIndex
}

// IDF returns the inverse document frequency of a hashed slot.
func (p *Pipeline) IDF(slot int32) float32 {
	return p.idf[slot]
}

// UserVector is the one-hot encoding of the user. Unknown users are all zeros.
func (p *Pipeline) UserVector(row Row) *base.SparseVector {
	return oneHot(row.UserIndex)
}

// MovieVector is the one-hot encoding of the movie. Unknown movies are all zeros.
func (p *Pipeline) MovieVector(row Row) *base.SparseVector {
	return oneHot(row.MovieIndex)
}

// ContentVector concatenates the movie vector and the TF-IDF genre vector.
func (p *Pipeline) ContentVector(row Row) *base.SparseVector {
	vec := p.MovieVector(row)
	if row.GenreTFIDF != nil {
		vec.Append(row.GenreTFIDF, int32(p.NumMovies()))
	}
	return vec
}

// ContentDim is the length of content vectors.
func (p *Pipeline) ContentDim() int {
	return p.NumMovies() + p.numHashFeatures
}

func oneHot(index int32) *base.SparseVector {
	vec := base.NewSparseVector()
	if index >= 0 {
		vec.Add(index, 1)
	}
	return vec
}
