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

package cf

import (
	"github.com/juju/errors"
)

// Feedback is a rating to a movie (or by a user) in a feedback list.
type Feedback struct {
	Index  int32
	Rating float32
}

// Dataset is the interaction matrix stored as per-user and per-movie lists.
// Repeated (user, movie) pairs are merged by summing ratings.
type Dataset struct {
	userFeedback [][]Feedback
	itemFeedback [][]Feedback
	positions    map[[2]int32]int
	count        int
}

// NewDataset creates an empty interaction matrix of the given shape.
func NewDataset(numUsers, numItems int) *Dataset {
	return &Dataset{
		userFeedback: make([][]Feedback, numUsers),
		itemFeedback: make([][]Feedback, numItems),
		positions:    make(map[[2]int32]int),
	}
}

// Add a rating. Negative indexes (unknown users or movies) are rejected.
func (d *Dataset) Add(userIndex, itemIndex int32, rating float32) error {
	if userIndex < 0 || int(userIndex) >= len(d.userFeedback) {
		return errors.NotValidf("user index %d", userIndex)
	}
	if itemIndex < 0 || int(itemIndex) >= len(d.itemFeedback) {
		return errors.NotValidf("item index %d", itemIndex)
	}
	key := [2]int32{userIndex, itemIndex}
	if pos, exist := d.positions[key]; exist {
		d.userFeedback[userIndex][pos].Rating += rating
		for j := range d.itemFeedback[itemIndex] {
			if d.itemFeedback[itemIndex][j].Index == userIndex {
				d.itemFeedback[itemIndex][j].Rating += rating
				break
			}
		}
		return nil
	}
	d.positions[key] = len(d.userFeedback[userIndex])
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], Feedback{Index: itemIndex, Rating: rating})
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], Feedback{Index: userIndex, Rating: rating})
	d.count++
	return nil
}

func (d *Dataset) CountUsers() int {
	return len(d.userFeedback)
}

func (d *Dataset) CountItems() int {
	return len(d.itemFeedback)
}

// CountFeedback returns the number of distinct (user, movie) pairs.
func (d *Dataset) CountFeedback() int {
	return d.count
}

func (d *Dataset) GetUserFeedback() [][]Feedback {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]Feedback {
	return d.itemFeedback
}
