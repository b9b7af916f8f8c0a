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

import "sort"

// FreqDict maps raw identifiers to dense indexes. Indexes are ordered by
// descending frequency and identifiers with the same frequency keep the order
// in which they were first seen, so the most frequent identifier gets index 0.
type FreqDict struct {
	si map[int]int32
}

// NewFreqDict counts ids and assigns indexes.
func NewFreqDict(ids []int) *FreqDict {
	counts := make(map[int]int)
	var order []int
	for _, id := range ids {
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	d := &FreqDict{si: make(map[int]int32, len(order))}
	for i, id := range order {
		d.si[id] = int32(i)
	}
	return d
}

func (d *FreqDict) Count() int32 {
	return int32(len(d.si))
}

// Id returns the index of a raw identifier or -1 if it was never seen.
func (d *FreqDict) Id(s int) int32 {
	if y, ok := d.si[s]; ok {
		return y
	}
	return -1
}
