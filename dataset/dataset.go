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

package dataset

import (
	"io"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/hybrid/base"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// NoGenres is the placeholder MovieLens uses for movies without genres.
const NoGenres = "(no genres listed)"

// Rating is an observed interaction between a user and a movie.
type Rating struct {
	UserId    int
	MovieId   int
	Rating    float32
	Timestamp int64
}

// Movie is a catalog entry.
type Movie struct {
	MovieId int
	Title   string
	Genres  []string
}

// JoinedRecord is a rating left joined with its movie. Title and Genres are
// empty and HasMovie is false if the movie is missing in the catalog.
type JoinedRecord struct {
	Rating
	Title    string
	Genres   []string
	HasMovie bool
}

// SplitGenres parses the pipe separated genre column.
func SplitGenres(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == NoGenres {
		return []string{}
	}
	return lo.FilterMap(strings.Split(s, "|"), func(g string, _ int) (string, bool) {
		g = strings.TrimSpace(g)
		return g, g != ""
	})
}

// ReadRatings parses ratings in the format of "userId,movieId,rating,timestamp".
// The first line is a header.
func ReadRatings(r io.Reader) ([]Rating, error) {
	var (
		ratings []Rating
		err     error
	)
	parseErr := ReadLines(r, ',', func(lineNumber int, fields []string) bool {
		if lineNumber == 0 || isBlank(fields) {
			return true
		}
		if len(fields) < 4 {
			err = errors.NotValidf("line %d of ratings: expect 4 fields but get %d", lineNumber+1, len(fields))
			return false
		}
		var rating Rating
		if rating.UserId, err = util.ParseInt[int](fields[0]); err != nil {
			err = errors.Annotatef(err, "line %d of ratings: invalid user id", lineNumber+1)
			return false
		}
		if rating.MovieId, err = util.ParseInt[int](fields[1]); err != nil {
			err = errors.Annotatef(err, "line %d of ratings: invalid movie id", lineNumber+1)
			return false
		}
		if rating.Rating, err = util.ParseFloat[float32](fields[2]); err != nil {
			err = errors.Annotatef(err, "line %d of ratings: invalid rating", lineNumber+1)
			return false
		}
		if rating.Timestamp, err = util.ParseInt[int64](fields[3]); err != nil {
			err = errors.Annotatef(err, "line %d of ratings: invalid timestamp", lineNumber+1)
			return false
		}
		ratings = append(ratings, rating)
		return true
	})
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	if err != nil {
		return nil, err
	}
	return ratings, nil
}

// ReadMovies parses movies in the format of "movieId,title,genres". The first
// line is a header. Titles may be quoted.
func ReadMovies(r io.Reader) ([]Movie, error) {
	var (
		movies []Movie
		err    error
	)
	parseErr := ReadLines(r, ',', func(lineNumber int, fields []string) bool {
		if lineNumber == 0 || isBlank(fields) {
			return true
		}
		if len(fields) < 3 {
			err = errors.NotValidf("line %d of movies: expect 3 fields but get %d", lineNumber+1, len(fields))
			return false
		}
		var movie Movie
		if movie.MovieId, err = util.ParseInt[int](fields[0]); err != nil {
			err = errors.Annotatef(err, "line %d of movies: invalid movie id", lineNumber+1)
			return false
		}
		movie.Title = fields[1]
		movie.Genres = SplitGenres(fields[2])
		movies = append(movies, movie)
		return true
	})
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	if err != nil {
		return nil, err
	}
	return movies, nil
}

func isBlank(fields []string) bool {
	return len(fields) == 1 && strings.TrimSpace(fields[0]) == ""
}

// Join left joins ratings with movies on movie id. The order of ratings is kept.
func Join(ratings []Rating, movies []Movie) []JoinedRecord {
	catalog := make(map[int]Movie, len(movies))
	for _, movie := range movies {
		catalog[movie.MovieId] = movie
	}
	records := make([]JoinedRecord, len(ratings))
	for i, rating := range ratings {
		records[i].Rating = rating
		if movie, ok := catalog[rating.MovieId]; ok {
			records[i].Title = movie.Title
			records[i].Genres = movie.Genres
			records[i].HasMovie = true
		}
	}
	return records
}

// Dataset is the joined record set used for fitting.
type Dataset struct {
	Records []JoinedRecord
	Movies  []Movie
}

// NewDataset joins ratings with movies.
func NewDataset(ratings []Rating, movies []Movie) *Dataset {
	return &Dataset{
		Records: Join(ratings, movies),
		Movies:  movies,
	}
}

// LoadDataset loads and joins ratings and movies from csv files.
func LoadDataset(ratingsPath, moviesPath string) (*Dataset, error) {
	ratingsFile, err := os.Open(ratingsPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer ratingsFile.Close()
	ratings, err := ReadRatings(ratingsFile)
	if err != nil {
		return nil, errors.Annotate(err, ratingsPath)
	}
	moviesFile, err := os.Open(moviesPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer moviesFile.Close()
	movies, err := ReadMovies(moviesFile)
	if err != nil {
		return nil, errors.Annotate(err, moviesPath)
	}
	d := NewDataset(ratings, movies)
	log.Logger().Info("load dataset",
		zap.String("ratings", ratingsPath),
		zap.String("movies", moviesPath),
		zap.Int("n_ratings", len(ratings)),
		zap.Int("n_movies", len(movies)),
		zap.Int("n_users", d.CountUsers()),
		zap.Int("n_unmatched", d.CountUnmatched()))
	return d, nil
}

func (d *Dataset) Count() int {
	return len(d.Records)
}

func (d *Dataset) CountUsers() int {
	users := mapset.NewThreadUnsafeSet[int]()
	for _, record := range d.Records {
		users.Add(record.UserId)
	}
	return users.Cardinality()
}

// CountUnmatched returns the number of records without a movie.
func (d *Dataset) CountUnmatched() int {
	return lo.CountBy(d.Records, func(record JoinedRecord) bool {
		return !record.HasMovie
	})
}

// Validate fails on data no model can be fitted on.
func (d *Dataset) Validate() error {
	if len(d.Records) == 0 {
		return errors.NotValidf("empty dataset")
	}
	return nil
}

// Split the dataset into a train set and a test set randomly. testRatio is the
// fraction of records in the test set.
func (d *Dataset) Split(testRatio float32, seed int64) (*Dataset, *Dataset) {
	rng := base.NewRandomGenerator(seed)
	perm := rng.Perm(len(d.Records))
	numTest := int(float32(len(d.Records)) * testRatio)
	train := &Dataset{Movies: d.Movies, Records: make([]JoinedRecord, 0, len(d.Records)-numTest)}
	test := &Dataset{Movies: d.Movies, Records: make([]JoinedRecord, 0, numTest)}
	for i, j := range perm {
		if i < numTest {
			test.Records = append(test.Records, d.Records[j])
		} else {
			train.Records = append(train.Records, d.Records[j])
		}
	}
	return train, test
}
