/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scheduler is the Process Registry & Singleton Enforcement
// component (SPEC_FULL.md §4.6), re-expressed per its REDESIGN FLAG as an
// in-process scheduler: at most one Optimizer run is in flight per
// service, and triggering a new run cancels the prior one via
// context.CancelFunc rather than sending an OS signal to a subprocess.
// The cache-backed run-identifier list is kept only as the advisory
// bulletin board §9 calls for; a missed removal cannot corrupt state
// because the Optimizer itself is idempotent.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/errs"
	"github.com/898djh/scalewave/internal/logging"
)

// RunFunc is an Optimizer run: it must return promptly after ctx is
// cancelled, reporting *errs.Preempted rather than a hard failure.
type RunFunc func(ctx context.Context, runID string) error

// activeRun tracks the generation and cancel func of the run currently
// occupying a service's single slot, so a completing run can tell whether
// it is still the occupant or has already been superseded.
type activeRun struct {
	generation uint64
	cancel     context.CancelFunc
}

// Scheduler owns at most one in-flight RunFunc per service.
type Scheduler struct {
	cache cache.Cache

	mu     sync.Mutex
	active map[string]activeRun

	seq uint64
}

// New returns a Scheduler backed by c for the advisory process registry.
func New(c cache.Cache) *Scheduler {
	return &Scheduler{cache: c, active: make(map[string]activeRun)}
}

// Trigger starts run for service, preempting (cancelling) any run already
// in flight for that service, then returns immediately; run executes in
// its own goroutine (§4.5, §4.6).
func (s *Scheduler) Trigger(ctx context.Context, service string, run RunFunc) {
	generation := atomic.AddUint64(&s.seq, 1)
	runID := fmt.Sprintf("%s-%d", service, generation)

	s.mu.Lock()
	if prev, ok := s.active[service]; ok {
		prev.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active[service] = activeRun{generation: generation, cancel: cancel}
	s.mu.Unlock()

	s.appendRunID(runCtx, service, runID)

	go func() {
		defer s.finish(service, generation, runID)
		err := run(runCtx, runID)

		log := logging.FromContext(ctx)
		switch {
		case err == nil:
		case isPreempted(err):
			log.V(logging.DEBUG).Info("optimizer run preempted", "service", service, "run_id", runID)
		default:
			log.Error(err, "optimizer run failed", "service", service, "run_id", runID)
		}
	}()
}

// finish clears the service's active slot only if this run's generation
// still occupies it (a successor's Trigger call may already have replaced
// it), and removes this run's identifier from the registry.
func (s *Scheduler) finish(service string, generation uint64, runID string) {
	s.mu.Lock()
	if current, ok := s.active[service]; ok && current.generation == generation {
		delete(s.active, service)
	}
	s.mu.Unlock()

	s.removeRunID(context.Background(), service, runID)
}

func isPreempted(err error) bool {
	_, ok := err.(*errs.Preempted)
	return ok
}

func (s *Scheduler) appendRunID(ctx context.Context, service, runID string) {
	key := cache.ServiceOptimizerProcessKey(service)
	var ids []string
	_, _ = s.cache.Get(ctx, key, &ids)
	ids = append(ids, runID)
	_ = s.cache.Set(ctx, key, ids)
}

func (s *Scheduler) removeRunID(ctx context.Context, service, runID string) {
	key := cache.ServiceOptimizerProcessKey(service)
	var ids []string
	if _, err := s.cache.Get(ctx, key, &ids); err != nil {
		return
	}
	out := ids[:0]
	for _, id := range ids {
		if id != runID {
			out = append(out, id)
		}
	}
	_ = s.cache.Set(ctx, key, out)
}
