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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/base/progress"
	"github.com/gorse-io/hybrid/cmd/version"
	"github.com/gorse-io/hybrid/common/util"
	"github.com/gorse-io/hybrid/config"
	"github.com/gorse-io/hybrid/dataset"
	"github.com/gorse-io/hybrid/logics"
	"github.com/gorse-io/hybrid/server"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "gorse-hybrid",
	Short: "Hybrid movie recommender combining collaborative filtering and content features.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Fit models and serve recommendations over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, data := mustLoad(cmd)
		var current atomic.Pointer[dataset.Dataset]
		current.Store(data)
		s := server.NewServer(cfg, func(ctx context.Context) (*logics.Predictor, error) {
			return logics.Fit(ctx, current.Load(), cfg)
		})
		ctx := withProgress(cmd)
		if err := s.Fit(ctx); err != nil {
			log.Logger().Fatal("failed to fit predictor", zap.Error(err))
		}

		go func() {
			defer util.CheckPanic()
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			for sig := range signals {
				if sig != syscall.SIGHUP {
					log.Logger().Info("received signal", zap.String("signal", sig.String()))
					_ = s.Shutdown()
					return
				}
				// reload ratings and movies, then refit in background
				reloaded, err := dataset.LoadDataset(cfg.Data.RatingsPath, cfg.Data.MoviesPath)
				if err == nil {
					err = reloaded.Validate()
				}
				if err != nil {
					log.Logger().Error("failed to reload dataset", zap.Error(err))
					continue
				}
				current.Store(reloaded)
				go func() {
					defer util.CheckPanic()
					_ = s.Refit(context.Background())
				}()
			}
		}()

		if err := s.ListenAndServe(); err != nil {
			log.Logger().Fatal("failed to serve", zap.Error(err))
		}
		log.Logger().Info("server stopped")
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Fit models and rank candidate movies for a user.",
	Example: `  gorse-hybrid recommend -c config.toml --user 1 --movie "1:Adventure|Comedy" --movie "47:Mystery|Thriller"`,
	Run: func(cmd *cobra.Command, args []string) {
		userId, _ := cmd.Flags().GetInt("user")
		candidates, _ := cmd.Flags().GetStringArray("movie")
		n, _ := cmd.Flags().GetInt("number")
		movieIds, genresLists, err := parseCandidates(candidates)
		if err != nil {
			log.Logger().Fatal("invalid candidates", zap.Error(err))
		}
		cfg, data := mustLoad(cmd)
		ctx := withProgress(cmd)
		predictor, err := logics.Fit(ctx, data, cfg)
		if err != nil {
			log.Logger().Fatal("failed to fit predictor", zap.Error(err))
		}
		scores, err := predictor.Recommend(ctx, userId, movieIds, genresLists, n)
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rank", "Movie", "Score")
		for i, score := range scores {
			_ = table.Append([]string{
				fmt.Sprint(i + 1),
				fmt.Sprint(score.MovieId),
				fmt.Sprintf("%.4f", score.Score),
			})
		}
		_ = table.Render()
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Fit models on a random split and report RMSE on the held out ratings.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, data := mustLoad(cmd)
		train, test := data.Split(cfg.Evaluation.TestRatio, cfg.Evaluation.RandomState)
		log.Logger().Info("split dataset",
			zap.Int("n_train", train.Count()),
			zap.Int("n_test", test.Count()))
		ctx := withProgress(cmd)
		predictor, err := logics.Fit(ctx, train, cfg)
		if err != nil {
			log.Logger().Fatal("failed to fit predictor", zap.Error(err))
		}
		score, err := predictor.Evaluate(ctx, test)
		if err != nil {
			log.Logger().Fatal("failed to evaluate predictor", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Model", "RMSE")
		_ = table.Append([]string{"collaborative", fmt.Sprintf("%.4f", score.CollaborativeRMSE)})
		_ = table.Append([]string{"content", fmt.Sprintf("%.4f", score.ContentRMSE)})
		_ = table.Append([]string{"hybrid", fmt.Sprintf("%.4f", score.HybridRMSE)})
		_ = table.Render()
		fmt.Printf("%d test ratings, %d cold start\n", score.NumTest, score.NumColdStart)

		table = tablewriter.NewWriter(os.Stdout)
		table.Header("Property", "Value")
		for _, row := range summarize(predictor) {
			_ = table.Append(row)
		}
		_ = table.Render()
	},
}

func mustLoad(cmd *cobra.Command) (*config.Config, *dataset.Dataset) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	data, err := dataset.LoadDataset(cfg.Data.RatingsPath, cfg.Data.MoviesPath)
	if err != nil {
		log.Logger().Fatal("failed to load dataset", zap.Error(err))
	}
	if err = data.Validate(); err != nil {
		log.Logger().Fatal("invalid dataset", zap.Error(err))
	}
	return cfg, data
}

// summarize describes the shape of fitted models.
func summarize(predictor *logics.Predictor) [][]string {
	pipeline, als, rf := predictor.Pipeline(), predictor.ALS(), predictor.Forest()
	numFactors := 0
	if len(als.ItemFactor) > 0 {
		numFactors = len(als.ItemFactor[0])
	}
	depth := 0
	for _, tree := range rf.Trees {
		depth = max(depth, tree.Depth())
	}
	return [][]string{
		{"users", fmt.Sprint(pipeline.NumUsers())},
		{"movies", fmt.Sprint(pipeline.NumMovies())},
		{"content features", fmt.Sprint(pipeline.ContentDim())},
		{"latent factors", fmt.Sprint(numFactors)},
		{"trees", fmt.Sprint(len(rf.Trees))},
		{"max tree depth", fmt.Sprint(depth)},
		{"fitted at", predictor.FitTime().Format(time.RFC3339)},
	}
}

func withProgress(cmd *cobra.Command) context.Context {
	ctx := context.Background()
	if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
		ctx = progress.WithReporter(ctx, NewProgressBarReporter(os.Stderr))
	}
	return ctx
}

// parseCandidates parses candidates in the format of "movieId:Genre|Genre".
func parseCandidates(candidates []string) ([]int, [][]string, error) {
	movieIds := make([]int, 0, len(candidates))
	genresLists := make([][]string, 0, len(candidates))
	for _, candidate := range candidates {
		id, genres, _ := strings.Cut(candidate, ":")
		movieId, err := util.ParseInt[int](strings.TrimSpace(id))
		if err != nil {
			return nil, nil, errors.Annotatef(err, "candidate %q", candidate)
		}
		movieIds = append(movieIds, movieId)
		genresLists = append(genresLists, dataset.SplitGenres(genres))
	}
	return movieIds, genresLists, nil
}

func init() {
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().Bool("progress", false, "show progress bars while fitting")
	rootCommand.Flags().BoolP("version", "v", false, "gorse version")
	log.AddFlags(rootCommand.PersistentFlags())

	recommendCommand.Flags().Int("user", 0, "user id")
	recommendCommand.Flags().StringArray("movie", nil, "candidate movie in the format of movieId:Genre|Genre")
	recommendCommand.Flags().IntP("number", "n", 0, "number of recommendations (0 returns all)")

	rootCommand.AddCommand(serveCommand, recommendCommand, evaluateCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
