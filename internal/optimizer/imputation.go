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
	"math"

	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/platform"
)

// resourceKeys is the fixed iteration order over ClusterCapacity.AsMap /
// RevisionMetrics.AsMap, shared by imputation and the genetic algorithm.
var resourceKeys = []string{
	"cpu", "memory", "disk_read", "disk_write", "network_uplink", "network_downlink", "gpu",
}

// imputeCapacity substitutes the cluster capacity vector, and the
// normalized-throughput floor, for any revision whose observed per-replica
// resource usage is degenerate: either all-zero (unexercised this tick) or
// GPU-bearing with a node that is not Ready or a pod that is not Running
// (§4.5). The input metrics map is not mutated; a new map is returned.
func imputeCapacity(ctx context.Context, adapter *platform.Adapter, namespace, gpuNode string, capacity domain.ClusterCapacity, revisions []domain.Revision, metrics domain.ServiceMetrics) domain.ServiceMetrics {
	out := make(domain.ServiceMetrics, len(revisions))
	for _, rev := range revisions {
		m, known := metrics[rev.Name]
		degenerate := !known || m.IsAllZeroResource()

		if !degenerate && rev.GPUBearing {
			if gpuNodeDegenerate(ctx, adapter, namespace, gpuNode, rev.Name) {
				degenerate = true
			}
		}

		if degenerate {
			out[rev.Name] = domain.RevisionMetrics{
				CPU:                     capacity.CPU,
				Memory:                  capacity.Memory,
				DiskRead:                capacity.DiskRead,
				DiskWrite:               capacity.DiskWrite,
				NetworkDownlink:         capacity.NetworkDownlink,
				NetworkUplink:           capacity.NetworkUplink,
				GPU:                     capacity.GPU,
				NormalizedThroughput:    domain.NormalizedThroughputFloor,
				CurrentReplica:          m.CurrentReplica,
				TargetConcurrencyPerPod: m.TargetConcurrencyPerPod,
			}
			continue
		}
		out[rev.Name] = m
	}
	return out
}

// gpuNodeDegenerate reports whether a GPU-bearing revision's backing node
// is not Ready, or its pod is not Running.
func gpuNodeDegenerate(ctx context.Context, adapter *platform.Adapter, namespace, gpuNode, revision string) bool {
	if adapter == nil {
		return false
	}
	if gpuNode != "" {
		if ready, err := adapter.NodeReady(ctx, gpuNode); err == nil && ready == platform.NotReady {
			return true
		}
	}
	if phase, err := adapter.PodPhase(ctx, namespace, revision); err == nil && phase != "" && phase != "Running" {
		return true
	}
	return false
}

// maxCount computes the per-revision replica ceiling: the floor of the
// minimum available/usage ratio across resources (excluding the GPU term
// for non-GPU revisions), plus one unit of headroom (§4.5).
func maxCount(capacity domain.ClusterCapacity, usage domain.RevisionMetrics, gpuBearing bool) int {
	capMap := capacity.AsMap()
	useMap := usage.AsMap()

	min := math.Inf(1)
	for _, r := range resourceKeys {
		if r == "gpu" && !gpuBearing {
			continue
		}
		u := useMap[r]
		if u <= 0 {
			continue // unbounded by this resource
		}
		ratio := capMap[r] / u
		if ratio < min {
			min = ratio
		}
	}

	if math.IsInf(min, 1) {
		return 1
	}

	n := int(math.Floor(min))
	if n <= 0 {
		return 1
	}
	return n + 1
}

// maxRepBound computes the global replica ceiling shared by every revision
// of a service (§4.5).
func maxRepBound(concurrentRequestsTotal, targetConcurrencyPerPod float64, totalCurrentReplicas int) int {
	if targetConcurrencyPerPod <= 0 {
		targetConcurrencyPerPod = 1
	}
	needed := int(math.Ceil(concurrentRequestsTotal / targetConcurrencyPerPod))
	bound := needed - totalCurrentReplicas
	if bound < 0 {
		bound = 0
	}
	return bound + 1
}
