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

package optimizer

import (
	"context"
	"math/rand"
	"time"

	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/errs"
	"github.com/898djh/scalewave/internal/logging"
	"github.com/898djh/scalewave/internal/metrics"
	"github.com/898djh/scalewave/internal/platform"
)

// Deps bundles the collaborators an Optimizer run reads from and writes
// to; all fields are required except Emitter.
type Deps struct {
	Cache    cache.Cache
	Platform *platform.Adapter
	Emitter  *metrics.Emitter

	Namespace               string
	GPUNodeName             string
	AdjustmentFactor        float64
	GPUDampingDivisor       float64
	TargetConcurrencyPerPod float64
	OptimizerSettleDelay    time.Duration
}

// Request identifies the service an Optimizer run targets, plus the
// revision/replica context needed to bound and label the search.
type Request struct {
	Service  domain.Service
	Replicas map[string]int // revision -> current replica count
}

// Run executes one Optimizer pass for req.Service (§4.5). ctx is expected
// to be cancelled by the caller (the scheduler, §4.6) when a newer run for
// the same service starts; Run then returns an *errs.Preempted instead of
// attempting to commit a traffic split computed from stale inputs.
func Run(ctx context.Context, d Deps, req Request, runID string) error {
	log := logging.FromContext(ctx)

	select {
	case <-time.After(d.OptimizerSettleDelay):
	case <-ctx.Done():
		return &errs.Preempted{Service: req.Service.Name, RunID: runID}
	}
	if ctx.Err() != nil {
		return &errs.Preempted{Service: req.Service.Name, RunID: runID}
	}

	var capacity domain.ClusterCapacity
	if _, err := d.Cache.Get(ctx, cache.KeyAvailableClusterResources, &capacity); err != nil {
		if d.Emitter != nil {
			d.Emitter.CacheError(cache.KeyAvailableClusterResources)
		}
		return err
	}

	var metricsIn domain.ServiceMetrics
	if _, err := d.Cache.Get(ctx, cache.ServiceKey(req.Service.Name), &metricsIn); err != nil {
		if d.Emitter != nil {
			d.Emitter.CacheError(cache.ServiceKey(req.Service.Name))
		}
		return err
	}

	var inFlight domain.InFlightRequests
	if _, err := d.Cache.Get(ctx, cache.ServiceRequestsKey(req.Service.Name), &inFlight); err != nil {
		if d.Emitter != nil {
			d.Emitter.CacheError(cache.ServiceRequestsKey(req.Service.Name))
		}
		return err
	}

	imputed := imputeCapacity(ctx, d.Platform, d.Namespace, d.GPUNodeName, capacity, req.Service.Revisions, metricsIn)

	problem := buildSearchProblem(req, imputed, capacity, inFlight, d.TargetConcurrencyPerPod)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	best := problem.run(rng)

	proposal := shapeSolution(req.Service.Revisions, imputed, best)

	current := currentSplit(req.Service.Revisions)
	if trafficEqual(current, proposal) {
		log.V(logging.DEBUG).Info("optimizer: proposal matches current split, no action", "service", req.Service.Name)
		return nil
	}

	next := smoothTraffic(current, proposal, d.AdjustmentFactor)

	if gpuRev, ok := gpuRevisionName(req.Service.Revisions); ok {
		next = dampGPU(next, gpuRev, d.GPUDampingDivisor)
	}

	if ctx.Err() != nil {
		if d.Emitter != nil {
			d.Emitter.OptimizerCommitted(req.Service.Name, "preempted")
		}
		return &errs.Preempted{Service: req.Service.Name, RunID: runID}
	}

	if err := d.Platform.ApplyTrafficSplit(ctx, req.Service.Name, next); err != nil {
		result := "platform_error"
		if _, ok := err.(*errs.ConsistencyError); ok {
			result = "consistency_error"
		}
		if d.Emitter != nil {
			d.Emitter.OptimizerCommitted(req.Service.Name, result)
		}
		log.Error(err, "optimizer: failed to commit traffic split", "service", req.Service.Name)
		return err
	}

	if d.Emitter != nil {
		d.Emitter.OptimizerCommitted(req.Service.Name, "committed")
	}
	log.Info("optimizer: committed traffic split", "service", req.Service.Name, "split", next)
	return nil
}

// buildSearchProblem translates a service's imputed per-revision metrics
// and cluster capacity into the bounded fitness landscape the genetic
// algorithm searches (§4.5).
func buildSearchProblem(req Request, imputed domain.ServiceMetrics, capacity domain.ClusterCapacity, inFlight domain.InFlightRequests, targetConcurrencyPerPod float64) *searchProblem {
	revisions := req.Service.Revisions
	n := len(revisions)

	totalReplicas := 0
	for _, c := range req.Replicas {
		totalReplicas += c
	}
	bound := maxRepBound(inFlight.Total, targetConcurrencyPerPod, totalReplicas)

	capMap := capacity.AsMap()
	capVec := make([]float64, len(resourceKeys))
	for i, r := range resourceKeys {
		capVec[i] = capMap[r]
	}

	bounds := make([]int, n)
	throughput := make([]float64, n)
	usage := make([][]float64, n)

	for i, rev := range revisions {
		m := imputed[rev.Name]
		bounds[i] = minInt(maxCount(capacity, m, rev.GPUBearing), bound)
		throughput[i] = m.NormalizedThroughput

		useMap := m.AsMap()
		row := make([]float64, len(resourceKeys))
		for j, r := range resourceKeys {
			row[j] = useMap[r]
		}
		usage[i] = row
	}

	return &searchProblem{
		bounds:               bounds,
		normalizedThroughput: throughput,
		usage:                usage,
		capacity:             capVec,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// shapeSolution converts the genetic algorithm's winning replica vector
// into integer traffic percentages by largest-remainder normalization of
// each revision's weighted throughput contribution (§4.5).
func shapeSolution(revisions []domain.Revision, imputed domain.ServiceMetrics, best individual) domain.TrafficSplit {
	weights := make(map[string]float64, len(revisions))
	for i, rev := range revisions {
		if i >= len(best) {
			break
		}
		m := imputed[rev.Name]
		weights[rev.Name] = m.NormalizedThroughput * float64(best[i])
	}
	return largestRemainder(normalizeTo100(weights))
}

func currentSplit(revisions []domain.Revision) domain.TrafficSplit {
	out := make(domain.TrafficSplit, len(revisions))
	for _, rev := range revisions {
		out[rev.Name] = rev.TrafficPercent
	}
	return out
}

func trafficEqual(a, b domain.TrafficSplit) bool {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func gpuRevisionName(revisions []domain.Revision) (string, bool) {
	for _, rev := range revisions {
		if rev.GPUBearing {
			return rev.Name, true
		}
	}
	return "", false
}
