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

package observer_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/metricsadapter"
	obs "github.com/898djh/scalewave/internal/observer"
	"github.com/898djh/scalewave/internal/platform"
	"github.com/898djh/scalewave/internal/scheduler"
)

// fakeRunner answers the small set of kn/kubectl invocations the Observer
// and a subsequently triggered Optimizer run can issue, without shelling
// out to a real cluster.
type fakeRunner struct {
	mu       sync.Mutex
	replicas map[string]int
	calls    []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	f.mu.Unlock()

	switch {
	case name == "kn" && len(args) > 1 && args[0] == "service" && args[1] == "list":
		return json.Marshal(knList{Items: []knItem{{
			Metadata: knMeta{Name: "echo"},
			Status: knStatus{Traffic: []knTraffic{
				{RevisionName: "echo-00001", Percent: 50},
				{RevisionName: "echo-00002", Percent: 50},
			}},
		}}})
	case name == "kn" && len(args) > 1 && args[0] == "service" && args[1] == "update":
		return []byte(`{}`), nil
	case name == "kubectl" && len(args) > 1 && args[0] == "get" && args[1] == "deployment":
		revision := strings.TrimSuffix(args[2], "-deployment")
		f.mu.Lock()
		n := f.replicas[revision]
		f.mu.Unlock()
		return json.Marshal(deployment{Spec: deploySpec{Replicas: &n}})
	case name == "kubectl" && len(args) > 1 && args[0] == "get" && args[1] == "node":
		return json.Marshal(node{})
	case name == "kubectl" && len(args) > 1 && args[0] == "get" && args[1] == "pods":
		return json.Marshal(podList{})
	default:
		return []byte(`{}`), nil
	}
}

type knList struct {
	Items []knItem `json:"items"`
}
type knItem struct {
	Metadata knMeta   `json:"metadata"`
	Status   knStatus `json:"status"`
}
type knMeta struct {
	Name string `json:"name"`
}
type knStatus struct {
	Traffic []knTraffic `json:"traffic"`
}
type knTraffic struct {
	RevisionName string `json:"revisionName"`
	Percent      int    `json:"percent"`
}
type deployment struct {
	Spec deploySpec `json:"spec"`
}
type deploySpec struct {
	Replicas *int `json:"replicas"`
}
type node struct {
	Status nodeStatus `json:"status"`
}
type nodeStatus struct {
	Conditions []any `json:"conditions"`
}
type podList struct {
	Items []any `json:"items"`
}

// queryRule matches a PromQL query by substring and answers with a fixed
// value, letting tests avoid reproducing the adapter's exact query text.
type queryRule struct {
	match func(q string) bool
	value model.Value
}

type fakeMetricsAPI struct {
	rules []queryRule
}

func (f *fakeMetricsAPI) Query(_ context.Context, query string, _ model.Time, _ ...promv1.Option) (model.Value, promv1.Warnings, error) {
	for _, r := range f.rules {
		if r.match(query) {
			return r.value, nil, nil
		}
	}
	return model.Vector{}, nil, nil
}

func contains(substrs ...string) func(string) bool {
	return func(q string) bool {
		for _, s := range substrs {
			if !strings.Contains(q, s) {
				return false
			}
		}
		return true
	}
}

func notContains(s string) func(string) bool {
	return func(q string) bool { return !strings.Contains(q, s) }
}

func all(preds ...func(string) bool) func(string) bool {
	return func(q string) bool {
		for _, p := range preds {
			if !p(q) {
				return false
			}
		}
		return true
	}
}

func scalar(v float64) model.Value {
	return model.Vector{&model.Sample{Value: model.SampleValue(v)}}
}

func perRevision(label string, values map[string]float64) model.Value {
	vec := make(model.Vector, 0, len(values))
	for k, v := range values {
		vec = append(vec, &model.Sample{
			Metric: model.Metric{model.LabelName(label): model.LabelValue(k)},
			Value:  model.SampleValue(v),
		})
	}
	return vec
}

// defaultMetricsAPI answers every query the Observer and a subsequently
// triggered Optimizer run issue for service "echo" with two non-GPU
// revisions, given a per-revision throughput map.
func defaultMetricsAPI(successfulByRevision, latencyByRevision, concurrencyByRevision map[string]float64) *fakeMetricsAPI {
	return &fakeMetricsAPI{rules: []queryRule{
		{match: contains("node_cpu_seconds_total"), value: scalar(8000)},
		{match: contains("node_memory_MemAvailable_bytes"), value: scalar(16000)},
		{match: contains("node_disk_read_bytes_total"), value: scalar(0)},
		{match: contains("node_disk_written_bytes_total"), value: scalar(0)},
		{match: contains("node_network_receive_bytes_total"), value: scalar(0)},
		{match: contains("node_network_transmit_bytes_total"), value: scalar(0)},
		{match: contains("jetson_gpu_utilization"), value: scalar(0)},

		{match: contains("container_cpu_usage_seconds_total"), value: perRevision("pod", map[string]float64{"echo-00001": 100, "echo-00002": 100})},
		{match: contains("container_memory_usage_bytes"), value: perRevision("pod", map[string]float64{"echo-00001": 256, "echo-00002": 256})},
		{match: contains("container_fs_reads_bytes_total"), value: perRevision("pod", map[string]float64{})},
		{match: contains("container_fs_writes_bytes_total"), value: perRevision("pod", map[string]float64{})},
		{match: contains("container_network_receive_bytes_total"), value: perRevision("pod", map[string]float64{})},
		{match: contains("container_network_transmit_bytes_total"), value: perRevision("pod", map[string]float64{})},

		// Throughput: division form, no rate() wrapping.
		{match: all(contains("revision_request_count"), contains("revision_request_latencies_sum"), notContains("rate(")),
			value: perRevision("revision_name", successfulByRevision)},
		{match: all(contains("rate(revision_request_count"), contains("2xx")),
			value: perRevision("revision_name", successfulByRevision)},
		{match: all(contains("rate(revision_request_count"), notContains("2xx")),
			value: perRevision("revision_name", successfulByRevision)},
		{match: contains("rate(revision_request_latencies_sum"), value: perRevision("revision_name", latencyByRevision)},
		{match: contains("activator_request_latencies_sum"), value: perRevision("revision_name", map[string]float64{})},
		{match: contains("activator_request_concurrency"), value: perRevision("revision_name", concurrencyByRevision)},
		{match: contains("autoscaler_target_concurrency_per_pod"), value: perRevision("revision_name", map[string]float64{})},
	}}
}

var _ = Describe("Observer tick loop", func() {
	var (
		runner *fakeRunner
		dep    obs.Deps
	)

	BeforeEach(func() {
		runner = &fakeRunner{replicas: map[string]int{"echo-00001": 2, "echo-00002": 2}}
		pAdapter := &platform.Adapter{Runner: runner, Namespace: "default", GPUMarker: "gpu"}
		mem := cache.NewMemory()

		dep = obs.Deps{
			Platform:                pAdapter,
			Cache:                   mem,
			Scheduler:               scheduler.New(mem),
			Namespace:               "default",
			TargetConcurrencyPerPod: 10,
			RegressionThreshold:     0.95,
			PanicFactor:             1.5,
			GPUDampingDivisor:       8,
			AdjustmentFactor:        0.3,
			OptimizerSettleDelay:    0,
		}
	})

	Context("steady throughput across ticks", func() {
		It("does not trigger the optimizer and reports no panic", func() {
			steady := defaultMetricsAPI(
				map[string]float64{"echo-00001": 600, "echo-00002": 600},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 5, "echo-00002": 5},
			)
			dep.Metrics = &metricsadapter.Adapter{API: steady, Window: "1m"}

			ctx := testContext()
			panicMode := obs.Tick(ctx, dep)
			Expect(panicMode).To(BeFalse())

			panicMode = obs.Tick(ctx, dep)
			Expect(panicMode).To(BeFalse())

			var ids []string
			found, err := dep.Cache.Get(ctx, cache.ServiceOptimizerProcessKey("echo"), &ids)
			Expect(err).NotTo(HaveOccurred())
			if found {
				Expect(ids).To(BeEmpty())
			}
		})
	})

	Context("throughput regresses below the threshold on the second tick", func() {
		It("registers an optimizer run for the service", func() {
			first := defaultMetricsAPI(
				map[string]float64{"echo-00001": 600, "echo-00002": 600},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 5, "echo-00002": 5},
			)
			dep.Metrics = &metricsadapter.Adapter{API: first, Window: "1m"}

			ctx := testContext()
			Expect(obs.Tick(ctx, dep)).To(BeFalse())

			regressed := defaultMetricsAPI(
				map[string]float64{"echo-00001": 100, "echo-00002": 100},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 5, "echo-00002": 5},
			)
			dep.Metrics = &metricsadapter.Adapter{API: regressed, Window: "1m"}

			obs.Tick(ctx, dep)

			var ids []string
			found, err := dep.Cache.Get(ctx, cache.ServiceOptimizerProcessKey("echo"), &ids)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(ids).To(ContainElement(ContainSubstring("echo-")))

			Eventually(func() bool {
				var remaining []string
				_, _ = dep.Cache.Get(ctx, cache.ServiceOptimizerProcessKey("echo"), &remaining)
				return len(remaining) == 0
			}).Should(BeTrue())
		})
	})

	Context("in-flight requests spike across ticks", func() {
		It("reports panic mode on the tick that crosses the factor", func() {
			low := defaultMetricsAPI(
				map[string]float64{"echo-00001": 600, "echo-00002": 600},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 2, "echo-00002": 2},
			)
			dep.Metrics = &metricsadapter.Adapter{API: low, Window: "1m"}

			ctx := testContext()
			Expect(obs.Tick(ctx, dep)).To(BeFalse())

			spike := defaultMetricsAPI(
				map[string]float64{"echo-00001": 600, "echo-00002": 600},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 20, "echo-00002": 20},
			)
			dep.Metrics = &metricsadapter.Adapter{API: spike, Window: "1m"}

			Expect(obs.Tick(ctx, dep)).To(BeTrue())
		})
	})

	Context("one revision is GPU-bearing", func() {
		It("divides the observed GPU utilization across that revision's replicas only", func() {
			pAdapter := &platform.Adapter{Runner: runner, Namespace: "default", GPUMarker: "00002"}
			dep.Platform = pAdapter

			api := defaultMetricsAPI(
				map[string]float64{"echo-00001": 600, "echo-00002": 600},
				map[string]float64{"echo-00001": 60, "echo-00002": 60},
				map[string]float64{"echo-00001": 5, "echo-00002": 5},
			)
			for i, r := range api.rules {
				if r.match("jetson_gpu_utilization") {
					api.rules[i].value = scalar(40)
				}
			}
			dep.Metrics = &metricsadapter.Adapter{API: api, Window: "1m"}

			ctx := testContext()
			Expect(obs.Tick(ctx, dep)).To(BeFalse())

			var metrics map[string]map[string]any
			found, err := dep.Cache.Get(ctx, cache.ServiceKey("echo"), &metrics)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			Expect(metrics["echo-00002"]["GPU"]).To(Equal(20.0)) // 40 util / 2 replicas
			Expect(metrics["echo-00001"]["GPU"]).To(Equal(0.0))
		})
	})

	Context("every revision is at zero replicas", func() {
		It("skips the service without writing its metrics to the cache", func() {
			runner.replicas = map[string]int{"echo-00001": 0, "echo-00002": 0}
			dep.Metrics = &metricsadapter.Adapter{API: defaultMetricsAPI(nil, nil, nil), Window: "1m"}

			ctx := testContext()
			Expect(obs.Tick(ctx, dep)).To(BeFalse())

			found, err := dep.Cache.Get(ctx, cache.ServiceKey("echo"), new(map[string]any))
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})
})
