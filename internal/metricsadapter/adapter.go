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

// Package metricsadapter is the Metrics Adapter (SPEC_FULL.md §4.2):
// range queries against a Prometheus-compatible backend for cluster
// availability, per-pod utilization, accelerator utilization, and
// per-revision request metrics. Failure or an empty result is surfaced as
// numeric zero for cluster aggregates and as a missing key for per-revision
// aggregates, matching the duck-typed query shapes of the original
// PromQL-querying observer, re-expressed as a tagged variant per §9.
package metricsadapter

import (
	"context"
	"fmt"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/errs"
)

// API is the subset of promv1.API the adapter calls, so tests can supply a
// fake.
type API interface {
	Query(ctx context.Context, query string, ts model.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// Adapter queries a Prometheus-compatible backend for the cluster and
// per-revision metrics the Observer needs every tick.
type Adapter struct {
	API API
	// Window is the range-query duration, e.g. "1m".
	Window string
	// MasterNodeInstance is excluded from cluster aggregates by label
	// match.
	MasterNodeInstance string
	Benchmarks         domain.ClusterCapacityBenchmarks
}

// New constructs an Adapter backed by a real Prometheus HTTP API client.
func New(url, window, masterNodeInstance string, benchmarks domain.ClusterCapacityBenchmarks) (*Adapter, error) {
	client, err := promapi.NewClient(promapi.Config{Address: url})
	if err != nil {
		return nil, errs.NewMetricsError("client init", err)
	}
	return &Adapter{
		API:                promv1.NewAPI(client),
		Window:             window,
		MasterNodeInstance: masterNodeInstance,
		Benchmarks:         benchmarks,
	}, nil
}

func (a *Adapter) scalar(ctx context.Context, query string) float64 {
	val, _, err := a.API.Query(ctx, query, 0)
	if err != nil {
		return 0
	}
	vec, ok := val.(model.Vector)
	if !ok || len(vec) == 0 {
		return 0
	}
	return float64(vec[0].Value)
}

// ClusterAvailability fetches cluster-level resource availability: CPU,
// memory, disk read/write, network up/down, per SPEC_FULL.md §4.2.
func (a *Adapter) ClusterAvailability(ctx context.Context) domain.ClusterCapacity {
	inst := a.MasterNodeInstance
	w := a.Window

	cpu := a.scalar(ctx, fmt.Sprintf(
		`(sum(rate(node_cpu_seconds_total{mode="idle", instance!="%s"}[%s]))) * 1000`, inst, w))
	memory := a.scalar(ctx, fmt.Sprintf(
		`sum(node_memory_MemAvailable_bytes{instance!="%s"}) / 1048576`, inst))
	diskRead := a.scalar(ctx, fmt.Sprintf(
		`sum(rate(node_disk_read_bytes_total{instance!="%s"}[%s])) / 1048576`, inst, w))
	diskWrite := a.scalar(ctx, fmt.Sprintf(
		`sum(rate(node_disk_written_bytes_total{instance!="%s"}[%s])) / 1048576`, inst, w))
	netRecv := a.scalar(ctx, fmt.Sprintf(
		`sum(rate(node_network_receive_bytes_total{instance!="%s", device!~"lo|veth.*|docker.*|flannel.*|cali.*|cbr.*"}[%s])) * 8 / 1048576`, inst, w))
	netXmit := a.scalar(ctx, fmt.Sprintf(
		`sum(rate(node_network_transmit_bytes_total{instance!="%s", device!~"lo|veth.*|docker.*|flannel.*|cali.*|cbr.*"}[%s])) * 8 / 1048576`, inst, w))

	return domain.ClusterCapacity{
		CPU:             cpu,
		Memory:          memory,
		DiskRead:        a.Benchmarks.MaxDiskRead - diskRead,
		DiskWrite:       a.Benchmarks.MaxDiskWrite - diskWrite,
		NetworkDownlink: a.Benchmarks.MaxNetworkDownlink - netRecv,
		NetworkUplink:   a.Benchmarks.MaxNetworkUplink - netXmit,
	}
}

// GPUUtilization returns the maximum observed GPU utilization over the
// window, for nodes exposing accelerator metrics. Only meaningful for
// GPU-tagged revisions; the Observer divides it by that revision's replica
// count to populate its per-replica RevisionMetrics.GPU (§4.2, §4.4).
func (a *Adapter) GPUUtilization(ctx context.Context) float64 {
	return a.scalar(ctx, fmt.Sprintf(`max(max_over_time(jetson_gpu_utilization[%s]))`, a.Window))
}

// GPUAvailability returns 100 minus the maximum observed GPU utilization
// over the window, for nodes exposing accelerator metrics. Only meaningful
// for GPU-tagged revisions.
func (a *Adapter) GPUAvailability(ctx context.Context) float64 {
	return 100 - a.GPUUtilization(ctx)
}

// revisionVector maps a revision name (prefix-matched from the pod/
// deployment/revision label) to an aggregated value. A missing key means
// the metric was absent for that revision this tick.
type revisionVector map[string]float64

func (a *Adapter) vectorByLabel(ctx context.Context, query, label string) revisionVector {
	val, _, err := a.API.Query(ctx, query, 0)
	if err != nil {
		return nil
	}
	vec, ok := val.(model.Vector)
	if !ok {
		return nil
	}
	out := make(revisionVector)
	for _, sample := range vec {
		key := string(sample.Metric[model.LabelName(label)])
		out[key] += float64(sample.Value)
	}
	return out
}

// PodResourceUsage returns per-revision resource usage aggregated by
// pod-name prefix equal to the revision name (§4.2).
type PodResourceUsage struct {
	CPU             revisionVector
	Memory          revisionVector
	DiskRead        revisionVector
	DiskWrite       revisionVector
	NetworkDownlink revisionVector
	NetworkUplink   revisionVector
}

// PodResourceUsage fetches per-pod resource utilization for pods whose
// name matches servicePrefix.
func (a *Adapter) PodResourceUsage(ctx context.Context, servicePrefix string) PodResourceUsage {
	w := a.Window
	sel := fmt.Sprintf(`pod=~"%s.*"`, servicePrefix)
	return PodResourceUsage{
		CPU:             a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(container_cpu_usage_seconds_total{%s}[%s])) by (pod) * 1000`, sel, w), "pod"),
		Memory:          a.vectorByLabel(ctx, fmt.Sprintf(`sum(container_memory_usage_bytes{%s}) by (pod) / 1048576`, sel), "pod"),
		DiskRead:        a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(container_fs_reads_bytes_total{%s}[%s])) by (pod) / 1048576`, sel, w), "pod"),
		DiskWrite:       a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(container_fs_writes_bytes_total{%s}[%s])) by (pod) / 1048576`, sel, w), "pod"),
		NetworkDownlink: a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(container_network_receive_bytes_total{%s}[%s])) by (pod) * 8 / 1048576`, sel, w), "pod"),
		NetworkUplink:   a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(container_network_transmit_bytes_total{%s}[%s])) by (pod) * 8 / 1048576`, sel, w), "pod"),
	}
}

// RevisionRequestMetrics bundles the per-revision request statistics read
// through the `configuration_name` label (§6, §9 Open Question (a)).
type RevisionRequestMetrics struct {
	Throughput              revisionVector
	SuccessfulRequests      revisionVector
	TotalRequests           revisionVector
	RequestLatencies        revisionVector
	ActivatorLatencies      revisionVector
	Concurrency             revisionVector
	TargetConcurrencyPerPod revisionVector
}

// RequestMetrics fetches per-revision request throughput, latency, and
// concurrency for the service named by configurationName.
func (a *Adapter) RequestMetrics(ctx context.Context, configurationName string) RevisionRequestMetrics {
	w := a.Window
	sel := fmt.Sprintf(`configuration_name="%s"`, configurationName)
	sel2xx := fmt.Sprintf(`configuration_name="%s", response_code_class="2xx"`, configurationName)

	return RevisionRequestMetrics{
		Throughput: a.vectorByLabel(ctx, fmt.Sprintf(
			`sum(revision_request_count{%s}) by (revision_name) / sum(revision_request_latencies_sum{%s}) by (revision_name)`, sel2xx, sel2xx), "revision_name"),
		SuccessfulRequests:      a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(revision_request_count{%s}[%s])) by (revision_name) * 60`, sel2xx, w), "revision_name"),
		TotalRequests:           a.vectorByLabel(ctx, fmt.Sprintf(`sum(rate(revision_request_count{%s}[%s])) by (revision_name) * 60`, sel, w), "revision_name"),
		RequestLatencies:        a.vectorByLabel(ctx, fmt.Sprintf(`(sum(rate(revision_request_latencies_sum{%s}[%s])) by (revision_name) / 1000) * 60`, sel2xx, w), "revision_name"),
		ActivatorLatencies:      a.vectorByLabel(ctx, fmt.Sprintf(`(sum(rate(activator_request_latencies_sum{%s}[%s])) by (revision_name) / 1000) * 60`, sel2xx, w), "revision_name"),
		Concurrency:             a.vectorByLabel(ctx, fmt.Sprintf(`sum(activator_request_concurrency{%s}) by (revision_name)`, sel), "revision_name"),
		TargetConcurrencyPerPod: a.vectorByLabel(ctx, fmt.Sprintf(`sum(autoscaler_target_concurrency_per_pod{%s}) by (revision_name)`, sel), "revision_name"),
	}
}
