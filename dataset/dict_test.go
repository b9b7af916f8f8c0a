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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreqDict(t *testing.T) {
	dict := NewFreqDict([]int{7, 5, 5, 9, 9, 9, 3})
	assert.Equal(t, int32(4), dict.Count())
	// most frequent first
	assert.Equal(t, int32(0), dict.Id(9))
	assert.Equal(t, int32(1), dict.Id(5))
	// ties keep first seen order
	assert.Equal(t, int32(2), dict.Id(7))
	assert.Equal(t, int32(3), dict.Id(3))
	// unknown
	assert.Equal(t, int32(-1), dict.Id(100))

}
