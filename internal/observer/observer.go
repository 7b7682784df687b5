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

// Package observer is the Observer (SPEC_FULL.md §4.4): the periodic tick
// loop that composes the Platform and Metrics Adapters, derives per-replica
// RevisionMetrics, writes them to the State Cache, and decides whether a
// throughput regression or a request-volume spike should trigger the
// Optimizer or switch the next inter-tick sleep to the panic timer.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/logging"
	"github.com/898djh/scalewave/internal/metrics"
	"github.com/898djh/scalewave/internal/metricsadapter"
	"github.com/898djh/scalewave/internal/optimizer"
	"github.com/898djh/scalewave/internal/platform"
	"github.com/898djh/scalewave/internal/scheduler"
	"github.com/898djh/scalewave/internal/utils"
)

// Deps bundles the collaborators one Observer tick reads from and writes
// to.
type Deps struct {
	Platform  *platform.Adapter
	Metrics   *metricsadapter.Adapter
	Cache     cache.Cache
	Scheduler *scheduler.Scheduler
	Emitter   *metrics.Emitter

	Namespace               string
	TargetConcurrencyPerPod float64
	RegressionThreshold     float64
	PanicFactor             float64
	GPUDampingDivisor       float64
	AdjustmentFactor        float64
	GPUNodeName             string
	OptimizerSettleDelay    time.Duration
}

// Tick runs one full Observer iteration: discover services, process each
// in parallel, and report whether any service entered panic mode this tick
// (§4.4 step 3 leaves the inter-tick sleep decision to the caller).
func Tick(ctx context.Context, d Deps) bool {
	log := logging.FromContext(ctx)

	services, err := utils.DiscoverServices(ctx, d.Platform)
	if err != nil {
		log.Error(err, "observer: failed to discover services")
		return false
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		panicMode bool
	)

	for _, svc := range services {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := processService(ctx, d, svc)
			if p {
				mu.Lock()
				panicMode = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if d.Emitter != nil {
		d.Emitter.TickCompleted(panicMode)
	}
	return panicMode
}

// processService runs steps 2a-2i of §4.4 for a single service. It never
// returns an error: every failure is logged and the service is skipped for
// this tick, per the Observer's never-abort policy.
func processService(ctx context.Context, d Deps, svc domain.Service) bool {
	log := logging.FromContext(ctx).WithValues("service", svc.Name)

	replicas := utils.ReplicaCounts(ctx, d.Platform, svc)
	if utils.AllZeroReplicas(svc, replicas) {
		log.V(logging.DEBUG).Info("observer: all revisions at zero replicas, skipping")
		return false
	}

	capacity := d.Metrics.ClusterAvailability(ctx)
	gpuRevision, gpuPresent := utils.GPURevision(svc)
	var gpuUtil float64
	if gpuPresent {
		gpuUtil = d.Metrics.GPUUtilization(ctx)
		capacity.GPU = 100 - gpuUtil
	}

	podUsage := d.Metrics.PodResourceUsage(ctx, svc.Name)
	requestMetrics := d.Metrics.RequestMetrics(ctx, svc.Name)

	revisionMetrics := make(domain.ServiceMetrics, len(svc.Revisions))
	concurrency := make(map[string]float64, len(svc.Revisions))
	totalConcurrent := 0.0
	throughputNow := 0.0

	for _, rev := range svc.Revisions {
		n := replicas[rev.Name]
		c := requestMetrics.Concurrency[rev.Name]
		concurrency[rev.Name] = c
		totalConcurrent += c

		if n <= 0 {
			continue
		}

		m := deriveRevisionMetrics(rev, n, podUsage, requestMetrics, d.TargetConcurrencyPerPod)
		if gpuPresent && rev.Name == gpuRevision.Name {
			m.GPU = gpuUtil / n
		}
		if m.NormalizedThroughput <= 0 {
			continue // degenerate sample; do not update the cache for this revision
		}

		revisionMetrics[rev.Name] = m
		throughputNow += m.NormalizedThroughput

		if d.Emitter != nil {
			d.Emitter.NormalizedThroughput(svc.Name, rev.Name, m.NormalizedThroughput)
			d.Emitter.TrafficWeight(svc.Name, rev.Name, rev.TrafficPercent)
		}
	}

	if err := d.Cache.Set(ctx, cache.ServiceKey(svc.Name), revisionMetrics); err != nil {
		log.Error(err, "observer: failed to write revision metrics")
	}
	if err := d.Cache.Set(ctx, cache.KeyAvailableClusterResources, capacity); err != nil {
		log.Error(err, "observer: failed to write cluster capacity")
	}

	var prevRequests domain.InFlightRequests
	_, _ = d.Cache.Get(ctx, cache.ServiceRequestsKey(svc.Name), &prevRequests)

	newRequests := domain.InFlightRequests{ByRevision: concurrency, Total: totalConcurrent}
	if err := d.Cache.Set(ctx, cache.ServiceRequestsKey(svc.Name), newRequests); err != nil {
		log.Error(err, "observer: failed to write in-flight requests")
	}

	var throughputPrev float64
	_, _ = d.Cache.Get(ctx, cache.ServiceThroughputPrevKey(svc.Name), &throughputPrev)

	regression := throughputPrev > domain.RegressionEpsilon && throughputNow <= d.RegressionThreshold*throughputPrev
	if err := d.Cache.Set(ctx, cache.ServiceThroughputPrevKey(svc.Name), throughputNow); err != nil {
		log.Error(err, "observer: failed to write throughput_prev")
	}

	if regression && d.Scheduler != nil {
		log.Info("observer: throughput regression detected, triggering optimizer",
			"throughput_now", throughputNow, "throughput_prev", throughputPrev)
		if d.Emitter != nil {
			d.Emitter.OptimizerTriggered(svc.Name)
		}
		triggerOptimizer(ctx, d, svc, replicas)
	}

	panicMode := prevRequests.Total > 0 && totalConcurrent >= d.PanicFactor*prevRequests.Total
	if panicMode && d.Emitter != nil {
		d.Emitter.PanicMode(svc.Name)
	}
	return panicMode
}

func triggerOptimizer(ctx context.Context, d Deps, svc domain.Service, replicas map[string]int) {
	deps := optimizer.Deps{
		Cache:                   d.Cache,
		Platform:                d.Platform,
		Emitter:                 d.Emitter,
		Namespace:               d.Namespace,
		GPUNodeName:             d.GPUNodeName,
		AdjustmentFactor:        d.AdjustmentFactor,
		GPUDampingDivisor:       d.GPUDampingDivisor,
		TargetConcurrencyPerPod: d.TargetConcurrencyPerPod,
		OptimizerSettleDelay:    d.OptimizerSettleDelay,
	}
	req := optimizer.Request{Service: svc, Replicas: replicas}

	d.Scheduler.Trigger(ctx, svc.Name, func(ctx context.Context, runID string) error {
		return optimizer.Run(ctx, deps, req, runID)
	})
}

// deriveRevisionMetrics computes per-replica RevisionMetrics for one
// revision with replicas > 0 (§4.4 step 2d).
func deriveRevisionMetrics(rev domain.Revision, replicas int, pod metricsadapter.PodResourceUsage, req metricsadapter.RevisionRequestMetrics, defaultTargetConcurrency float64) domain.RevisionMetrics {
	name := rev.Name
	n := float64(replicas)

	successful := req.SuccessfulRequests[name]
	latencySum := req.RequestLatencies[name] + req.ActivatorLatencies[name]

	normalizedThroughput := 0.0
	if latencySum > 0 {
		normalizedThroughput = successful / latencySum
	}
	normalizedThroughput = maxFloat(normalizedThroughput, domain.NormalizedThroughputFloor) / n

	throughput := 0.0
	if rawThroughput := req.Throughput[name]; rawThroughput > 0 {
		throughput = maxFloat(rawThroughput, domain.NormalizedThroughputFloor) / n
	}

	latencyPerRequest := 0.0
	if successful > 0 {
		latencyPerRequest = latencySum / successful
	}

	targetConcurrency := req.TargetConcurrencyPerPod[name]
	if targetConcurrency <= 0 {
		targetConcurrency = defaultTargetConcurrency
	}

	return domain.RevisionMetrics{
		Throughput:              throughput,
		NormalizedThroughput:    normalizedThroughput,
		SuccessfulRequests:      successful / n,
		Latency:                 latencySum / n,
		LatencyPerRequest:       maxFloat(latencyPerRequest, 0.001) / n,
		QueuedRequests:          req.Concurrency[name],
		TargetConcurrencyPerPod: targetConcurrency,
		CPU:                     pod.CPU[name] / n,
		Memory:                  pod.Memory[name] / n,
		DiskRead:                pod.DiskRead[name] / n,
		DiskWrite:               pod.DiskWrite[name] / n,
		NetworkDownlink:         pod.NetworkDownlink[name] / n,
		NetworkUplink:           pod.NetworkUplink[name] / n,
		CurrentReplica:          replicas,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
