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
	"io"
	"sync"

	"github.com/gorse-io/hybrid/base/progress"
	"github.com/schollz/progressbar/v3"
)

// ProgressBarReporter draws a progress bar for every span.
type ProgressBarReporter struct {
	writer io.Writer
	mu     sync.Mutex
	bars   map[*progress.Span]*progressbar.ProgressBar
}

func NewProgressBarReporter(writer io.Writer) *ProgressBarReporter {
	return &ProgressBarReporter{
		writer: writer,
		bars:   make(map[*progress.Span]*progressbar.ProgressBar),
	}
}

func (r *ProgressBarReporter) OnStart(span *progress.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars[span] = progressbar.NewOptions(span.Total(),
		progressbar.OptionSetWriter(r.writer),
		progressbar.OptionSetDescription(span.Name()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true))
}

func (r *ProgressBarReporter) OnAdd(span *progress.Span, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bar, ok := r.bars[span]; ok {
		_ = bar.Add(n)
	}
}

func (r *ProgressBarReporter) OnEnd(span *progress.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bar, ok := r.bars[span]; ok {
		_ = bar.Finish()
		_, _ = io.WriteString(r.writer, "\n")
		delete(r.bars, span)
	}
}
