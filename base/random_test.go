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

package base

import (
	"math"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

const randomEpsilon = 0.1

func TestRandomGenerator_NormalMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := lo.Map(rng.NormalMatrix(1, 1000, 1, 2)[0], func(v float32, _ int) float64 {
		return float64(v)
	})
	assert.False(t, math.Abs(stat.Mean(vec, nil)-1) > randomEpsilon)
	assert.False(t, math.Abs(stat.StdDev(vec, nil)-2) > randomEpsilon)
}

func TestRandomGenerator_Sample(t *testing.T) {
	rng := NewRandomGenerator(0)
	for _, n := range []int{1, 3, 8, 10, 20} {
		sampled := rng.Sample(5, 15, n)
		assert.Len(t, sampled, min(n, 10))
		assert.Equal(t, len(sampled), mapset.NewSet(sampled...).Cardinality())
		for _, v := range sampled {
			assert.GreaterOrEqual(t, v, 5)
			assert.Less(t, v, 15)
		}
	}
}
