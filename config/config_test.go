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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorse-io/hybrid/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	assert.NoError(t, err)
	text := string(data)
	text = strings.Replace(text, "cold_start_score = 0.0", "cold_start_score = 2.5", -1)
	text = strings.Replace(text, "rate_limit = 0", "rate_limit = 100", -1)
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	config, err := LoadConfig(path)
	assert.NoError(t, err)

	// [data]
	assert.Equal(t, "ratings.csv", config.Data.RatingsPath)
	assert.Equal(t, "movies.csv", config.Data.MoviesPath)
	// [features]
	assert.Equal(t, 1000, config.Features.NumHashFeatures)
	assert.Equal(t, 4, config.Features.FitJobs)
	// [collaborative]
	assert.Equal(t, 10, config.Collaborative.NFactors)
	assert.Equal(t, 10, config.Collaborative.NEpochs)
	assert.Equal(t, float32(0.1), config.Collaborative.Reg)
	assert.Equal(t, float32(1.0), config.Collaborative.Alpha)
	assert.Equal(t, float32(0.1), config.Collaborative.InitStdDev)
	assert.True(t, config.Collaborative.NonNegative)
	assert.Equal(t, 4, config.Collaborative.FitJobs)
	assert.Equal(t, 5, config.Collaborative.Verbose)
	assert.Zero(t, config.Collaborative.InitMean)
	// [content]
	assert.Equal(t, 20, config.Content.NumTrees)
	assert.Equal(t, 5, config.Content.MaxDepth)
	assert.Equal(t, 1, config.Content.MinInstancesPerNode)
	assert.Equal(t, float32(1.0), config.Content.SubsamplingRate)
	assert.Equal(t, float32(0.333), config.Content.FeatureSubsetRatio)
	// [hybrid]
	assert.Equal(t, float32(2.5), config.Hybrid.ColdStartScore)
	assert.Equal(t, 10000, config.Hybrid.CacheSize)
	assert.Equal(t, 10*time.Minute, config.Hybrid.CacheTTL)
	// [server]
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 5000, config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.RequestTimeout)
	assert.Equal(t, 10*time.Second, config.Server.ShutdownTimeout)
	assert.Equal(t, float64(100), config.Server.RateLimit)
	// [evaluation]
	assert.Equal(t, float32(0.2), config.Evaluation.TestRatio)
}

func TestDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte("[collaborative]\nn_factors = 32\n"), 0644))
	config, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, 32, config.Collaborative.NFactors)
	assert.Equal(t, 10, config.Collaborative.NEpochs)
	assert.Equal(t, 5000, config.Server.Port)
}

func TestBindEnv(t *testing.T) {
	t.Setenv("GORSE_HYBRID_SERVER_PORT", "8080")
	t.Setenv("GORSE_HYBRID_DATA_RATINGS_PATH", "/data/ratings.csv")
	t.Setenv("GORSE_HYBRID_SERVER_REQUEST_TIMEOUT", "1s")
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "/data/ratings.csv", config.Data.RatingsPath)
	assert.Equal(t, time.Second, config.Server.RequestTimeout)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())
	config.Collaborative.NFactors = 0
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte("[evaluation]\ntest_ratio = 1.5\n"), 0644))
	_, err := LoadConfig(path)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestGetParams(t *testing.T) {
	config := GetDefaultConfig()
	params := config.Collaborative.GetParams()
	assert.Equal(t, 10, params.GetInt(model.NFactors, 0))
	assert.Equal(t, float32(1.0), params.GetFloat32(model.Alpha, 0))
	assert.True(t, params.GetBool(model.NonNegative, false))
	assert.Equal(t, float32(0), params.GetFloat32(model.InitMean, -1))
	assert.Equal(t, 1, config.Collaborative.GetFitConfig().Jobs)
	assert.Equal(t, 10, config.Collaborative.GetFitConfig().Verbose)
	config.Collaborative.InitMean = 0.5
	config.Collaborative.Verbose = 0
	assert.Equal(t, float32(0.5), config.Collaborative.GetParams().GetFloat32(model.InitMean, 0))
	assert.Zero(t, config.Collaborative.GetFitConfig().Verbose)
	params = config.Content.GetParams()
	assert.Equal(t, 20, params.GetInt(model.NumTrees, 0))
	assert.Equal(t, 5, params.GetInt(model.MaxDepth, 0))
}
