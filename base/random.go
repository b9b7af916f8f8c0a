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
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
)

// RandomGenerator is the random generator for gorse.
type RandomGenerator struct {
	*rand.Rand
}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator(seed int64) RandomGenerator {
	return RandomGenerator{rand.New(rand.NewSource(seed))}
}

// NewNormalVector makes a vec filled with normal random floats.
func (rng RandomGenerator) NewNormalVector(size int, mean, stdDev float32) []float32 {
	ret := make([]float32, size)
	for i := 0; i < len(ret); i++ {
		ret[i] = float32(rng.NormFloat64())*stdDev + mean
	}
	return ret
}

// NormalMatrix makes a matrix filled with normal random floats.
func (rng RandomGenerator) NormalMatrix(row, col int, mean, stdDev float32) [][]float32 {
	ret := make([][]float32, row)
	for i := range ret {
		ret[i] = rng.NewNormalVector(col, mean, stdDev)
	}
	return ret
}

// Sample n values between low and high without replacement.
func (rng RandomGenerator) Sample(low, high, n int) []int {
	intervalLength := high - low
	if n >= intervalLength {
		sampled := make([]int, 0, intervalLength)
		for i := low; i < high; i++ {
			sampled = append(sampled, i)
		}
		return sampled
	}
	sampled := make([]int, 0, n)
	if n > intervalLength/2 {
		// dense sampling is cheaper by permutation
		for _, v := range rng.Perm(intervalLength)[:n] {
			sampled = append(sampled, v+low)
		}
		return sampled
	}
	excludeSet := mapset.NewThreadUnsafeSet[int]()
	for len(sampled) < n {
		v := rng.Intn(intervalLength) + low
		if !excludeSet.Contains(v) {
			sampled = append(sampled, v)
			excludeSet.Add(v)
		}
	}
	return sampled
}
