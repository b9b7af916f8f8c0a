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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/hybrid/feature"
	"github.com/gorse-io/hybrid/model"
	"github.com/gorse-io/hybrid/model/cf"
	"github.com/gorse-io/hybrid/model/forest"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding configuration,
// e.g. GORSE_HYBRID_SERVER_PORT overrides server.port.
const EnvPrefix = "GORSE_HYBRID"

// Config is the configuration for the recommender.
type Config struct {
	Data          DataConfig          `mapstructure:"data"`
	Features      FeaturesConfig      `mapstructure:"features"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Content       ContentConfig       `mapstructure:"content"`
	Hybrid        HybridConfig        `mapstructure:"hybrid"`
	Server        ServerConfig        `mapstructure:"server"`
	Evaluation    EvaluationConfig    `mapstructure:"evaluation"`
}

// DataConfig is the configuration for input files.
type DataConfig struct {
	RatingsPath string `mapstructure:"ratings_path" validate:"required"`
	MoviesPath  string `mapstructure:"movies_path" validate:"required"`
}

// FeaturesConfig is the configuration for the feature pipeline.
type FeaturesConfig struct {
	NumHashFeatures int `mapstructure:"num_hash_features" validate:"gt=0"`
	FitJobs         int `mapstructure:"fit_jobs" validate:"gt=0"`
}

// CollaborativeConfig is the configuration for the ALS model.
type CollaborativeConfig struct {
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gte=0"`
	Reg         float32 `mapstructure:"reg" validate:"gte=0"`
	Alpha       float32 `mapstructure:"alpha" validate:"gte=0"`
	InitMean    float32 `mapstructure:"init_mean"`
	InitStdDev  float32 `mapstructure:"init_std" validate:"gte=0"`
	NonNegative bool    `mapstructure:"non_negative"`
	RandomState int64   `mapstructure:"random_state"`
	FitJobs     int     `mapstructure:"fit_jobs" validate:"gt=0"`
	// Verbose logs the training loss every Verbose epochs. Zero disables it.
	Verbose int `mapstructure:"verbose" validate:"gte=0"`
}

func (config *CollaborativeConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:    config.NFactors,
		model.NEpochs:     config.NEpochs,
		model.Reg:         config.Reg,
		model.Alpha:       config.Alpha,
		model.InitMean:    config.InitMean,
		model.InitStdDev:  config.InitStdDev,
		model.NonNegative: config.NonNegative,
		model.RandomState: config.RandomState,
	}
}

func (config *CollaborativeConfig) GetFitConfig() *cf.FitConfig {
	return cf.NewFitConfig().SetJobs(config.FitJobs).SetVerbose(config.Verbose)
}

// ContentConfig is the configuration for the random forest.
type ContentConfig struct {
	NumTrees            int     `mapstructure:"num_trees" validate:"gt=0"`
	MaxDepth            int     `mapstructure:"max_depth" validate:"gte=0"`
	MinInstancesPerNode int     `mapstructure:"min_instances_per_node" validate:"gte=1"`
	SubsamplingRate     float32 `mapstructure:"subsampling_rate" validate:"gt=0,lte=1"`
	FeatureSubsetRatio  float32 `mapstructure:"feature_subset_ratio" validate:"gt=0,lte=1"`
	RandomState         int64   `mapstructure:"random_state"`
	FitJobs             int     `mapstructure:"fit_jobs" validate:"gt=0"`
}

func (config *ContentConfig) GetParams() model.Params {
	return model.Params{
		model.NumTrees:            config.NumTrees,
		model.MaxDepth:            config.MaxDepth,
		model.MinInstancesPerNode: config.MinInstancesPerNode,
		model.SubsamplingRate:     config.SubsamplingRate,
		model.FeatureSubsetRatio:  config.FeatureSubsetRatio,
		model.RandomState:         config.RandomState,
	}
}

func (config *ContentConfig) GetFitConfig() *forest.FitConfig {
	return forest.NewFitConfig().SetJobs(config.FitJobs)
}

// HybridConfig is the configuration for blending scores.
type HybridConfig struct {
	ColdStartScore float32       `mapstructure:"cold_start_score"`
	CacheSize      int           `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// ServerConfig is the configuration for the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int64         `mapstructure:"rate_burst" validate:"gte=0"`
}

// EvaluationConfig is the configuration for offline evaluation.
type EvaluationConfig struct {
	TestRatio   float32 `mapstructure:"test_ratio" validate:"gt=0,lt=1"`
	RandomState int64   `mapstructure:"random_state"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			RatingsPath: "ratings.csv",
			MoviesPath:  "movies.csv",
		},
		Features: FeaturesConfig{
			NumHashFeatures: feature.DefaultNumHashFeatures,
			FitJobs:         1,
		},
		Collaborative: CollaborativeConfig{
			NFactors:    10,
			NEpochs:     10,
			Reg:         0.1,
			Alpha:       1.0,
			InitStdDev:  0.1,
			NonNegative: true,
			FitJobs:     1,
			Verbose:     10,
		},
		Content: ContentConfig{
			NumTrees:            20,
			MaxDepth:            5,
			MinInstancesPerNode: 1,
			SubsamplingRate:     1,
			FeatureSubsetRatio:  1.0 / 3,
			FitJobs:             1,
		},
		Hybrid: HybridConfig{
			CacheSize: 10000,
			CacheTTL:  10 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Evaluation: EvaluationConfig{
			TestRatio: 0.2,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.ratings_path", defaultConfig.Data.RatingsPath)
	v.SetDefault("data.movies_path", defaultConfig.Data.MoviesPath)
	// [features]
	v.SetDefault("features.num_hash_features", defaultConfig.Features.NumHashFeatures)
	v.SetDefault("features.fit_jobs", defaultConfig.Features.FitJobs)
	// [collaborative]
	v.SetDefault("collaborative.n_factors", defaultConfig.Collaborative.NFactors)
	v.SetDefault("collaborative.n_epochs", defaultConfig.Collaborative.NEpochs)
	v.SetDefault("collaborative.reg", defaultConfig.Collaborative.Reg)
	v.SetDefault("collaborative.alpha", defaultConfig.Collaborative.Alpha)
	v.SetDefault("collaborative.init_mean", defaultConfig.Collaborative.InitMean)
	v.SetDefault("collaborative.init_std", defaultConfig.Collaborative.InitStdDev)
	v.SetDefault("collaborative.non_negative", defaultConfig.Collaborative.NonNegative)
	v.SetDefault("collaborative.random_state", defaultConfig.Collaborative.RandomState)
	v.SetDefault("collaborative.fit_jobs", defaultConfig.Collaborative.FitJobs)
	v.SetDefault("collaborative.verbose", defaultConfig.Collaborative.Verbose)
	// [content]
	v.SetDefault("content.num_trees", defaultConfig.Content.NumTrees)
	v.SetDefault("content.max_depth", defaultConfig.Content.MaxDepth)
	v.SetDefault("content.min_instances_per_node", defaultConfig.Content.MinInstancesPerNode)
	v.SetDefault("content.subsampling_rate", defaultConfig.Content.SubsamplingRate)
	v.SetDefault("content.feature_subset_ratio", defaultConfig.Content.FeatureSubsetRatio)
	v.SetDefault("content.random_state", defaultConfig.Content.RandomState)
	v.SetDefault("content.fit_jobs", defaultConfig.Content.FitJobs)
	// [hybrid]
	v.SetDefault("hybrid.cold_start_score", defaultConfig.Hybrid.ColdStartScore)
	v.SetDefault("hybrid.cache_size", defaultConfig.Hybrid.CacheSize)
	v.SetDefault("hybrid.cache_ttl", defaultConfig.Hybrid.CacheTTL)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.request_timeout", defaultConfig.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", defaultConfig.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit", defaultConfig.Server.RateLimit)
	v.SetDefault("server.rate_burst", defaultConfig.Server.RateBurst)
	// [evaluation]
	v.SetDefault("evaluation.test_ratio", defaultConfig.Evaluation.TestRatio)
	v.SetDefault("evaluation.random_state", defaultConfig.Evaluation.RandomState)
}

// LoadConfig loads configuration from a toml file. Missing keys take default
// values and environment variables with the prefix GORSE_HYBRID_ take priority
// over the file. An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges of every field.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}
