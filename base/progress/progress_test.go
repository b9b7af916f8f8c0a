// Copyright 2023 gorse Project Authors
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

package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ProgressTestSuite struct {
	suite.Suite
	tracer *Tracer
	ctx    context.Context
}

func (suite *ProgressTestSuite) SetupTest() {
	suite.tracer = NewTracer()
	suite.ctx = WithReporter(context.Background(), suite.tracer)
}

func (suite *ProgressTestSuite) TestLeafProgress() {
	_, span := Start(suite.ctx, "root", 100)
	progressList := suite.tracer.List()
	suite.Equal(1, len(progressList))
	suite.Equal("root", progressList[0].Name)
	suite.Equal(StatusRunning, progressList[0].Status)
	suite.Equal(100, progressList[0].Total)

	span.Add(10)
	suite.Equal(10, suite.tracer.List()[0].Count)

	span.End()
	progressList = suite.tracer.List()
	suite.Equal(StatusComplete, progressList[0].Status)
	suite.Equal(100, progressList[0].Count)
	suite.False(progressList[0].FinishTime.IsZero())
}

func (suite *ProgressTestSuite) TestError() {
	_, span := Start(suite.ctx, "root", 100)
	span.Error(errors.New("error"))
	span.End()
	progressList := suite.tracer.List()
	suite.Equal(StatusFailed, progressList[0].Status)
	suite.Equal("error", progressList[0].Error)
}

func (suite *ProgressTestSuite) TestWithoutReporter() {
	_, span := Start(context.Background(), "root", 10)
	span.Add(3)
	suite.Equal(3, span.Count())
	suite.Empty(suite.tracer.List())
}

func TestProgressTestSuite(t *testing.T) {
	suite.Run(t, new(ProgressTestSuite))
}
