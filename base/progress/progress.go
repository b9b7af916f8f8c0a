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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type reporterKeyType string

var reporterKeyName = reporterKeyType(uuid.New().String())

type Status string

const (
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// Reporter receives updates of spans started under a context.
type Reporter interface {
	OnStart(span *Span)
	OnAdd(span *Span, n int)
	OnEnd(span *Span)
}

// WithReporter attaches a reporter to the context. Spans started from the
// returned context forward their updates to it.
func WithReporter(ctx context.Context, reporter Reporter) context.Context {
	return context.WithValue(ctx, reporterKeyName, reporter)
}

type Span struct {
	name     string
	total    int
	count    atomic.Int64
	reporter Reporter

	mu     sync.Mutex
	status Status
	err    error
	start  time.Time
	finish time.Time
}

// Start creates a span counting up to total.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := &Span{
		name:   name,
		total:  total,
		status: StatusRunning,
		start:  time.Now(),
	}
	if ctx == nil {
		return nil, span
	}
	if reporter, ok := ctx.Value(reporterKeyName).(Reporter); ok {
		span.reporter = reporter
		reporter.OnStart(span)
	}
	return ctx, span
}

func (s *Span) Name() string {
	return s.name
}

func (s *Span) Total() int {
	return s.total
}

func (s *Span) Count() int {
	return int(s.count.Load())
}

func (s *Span) Add(n int) {
	s.count.Add(int64(n))
	if s.reporter != nil {
		s.reporter.OnAdd(s, n)
	}
}

func (s *Span) End() {
	s.mu.Lock()
	s.count.Store(int64(s.total))
	if s.status == StatusRunning {
		s.status = StatusComplete
	}
	s.finish = time.Now()
	s.mu.Unlock()
	if s.reporter != nil {
		s.reporter.OnEnd(s)
	}
}

func (s *Span) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.status = StatusFailed
}

// Progress is a snapshot of a span.
type Progress struct {
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}

func (s *Span) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		Name:       s.name,
		Status:     s.status,
		Count:      s.Count(),
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	if s.err != nil {
		p.Error = s.err.Error()
	}
	return p
}

// Tracer is a reporter remembering the latest snapshot of every span by name.
type Tracer struct {
	spans sync.Map
}

func NewTracer() *Tracer {
	return &Tracer{}
}

func (t *Tracer) OnStart(span *Span) {
	t.spans.Store(span.name, span)
}

func (t *Tracer) OnAdd(*Span, int) {}

func (t *Tracer) OnEnd(*Span) {}

func (t *Tracer) List() []Progress {
	var progress []Progress
	t.spans.Range(func(_, value any) bool {
		progress = append(progress, value.(*Span).Progress())
		return true
	})
	return progress
}
