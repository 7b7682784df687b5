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

// Package metrics emits operational Prometheus metrics for the Observer and
// Optimizer loops: ticks completed, panic-mode transitions, optimizer
// triggers/commits, cache errors, and per-revision throughput/traffic
// gauges. This is ambient observability rather than a component named in
// SPEC_FULL.md, but every engine loop in this codebase is expected to carry
// it, the same way the original VariantAutoscaling metrics package treated
// metrics emission as a first-class part of its reconcile loop.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal         *prometheus.CounterVec
	panicModeTotal     *prometheus.CounterVec
	optimizerTriggered *prometheus.CounterVec
	optimizerCommitted *prometheus.CounterVec
	cacheErrorsTotal   *prometheus.CounterVec
	throughputGauge    *prometheus.GaugeVec
	trafficGauge       *prometheus.GaugeVec

	// initOnce ensures Init only registers metrics once for thread safety.
	initOnce sync.Once
	initErr  error
)

// Init registers ScaleWave's operational metrics with registry. It is
// thread-safe and idempotent; only the first call's registry is used.
func Init(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalewave_observer_ticks_total",
			Help: "Total number of Observer ticks completed, by mode (panic/stable).",
		}, []string{"mode"})

		panicModeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalewave_panic_mode_total",
			Help: "Total number of times a service entered panic mode.",
		}, []string{"service"})

		optimizerTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalewave_optimizer_triggered_total",
			Help: "Total number of Optimizer runs triggered by a throughput regression.",
		}, []string{"service"})

		optimizerCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalewave_optimizer_committed_total",
			Help: "Total number of Optimizer runs that reached apply_traffic_split, by result.",
		}, []string{"service", "result"})

		cacheErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalewave_cache_errors_total",
			Help: "Total number of State Cache get/set failures, by key.",
		}, []string{"key"})

		throughputGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalewave_normalized_throughput",
			Help: "Most recently observed normalized throughput for a revision.",
		}, []string{"service", "revision"})

		trafficGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalewave_traffic_weight_percent",
			Help: "Current committed traffic percent for a revision.",
		}, []string{"service", "revision"})

		for _, c := range []prometheus.Collector{
			ticksTotal, panicModeTotal, optimizerTriggered, optimizerCommitted,
			cacheErrorsTotal, throughputGauge, trafficGauge,
		} {
			if err := registry.Register(c); err != nil {
				initErr = fmt.Errorf("registering scalewave metric: %w", err)
				return
			}
		}
	})

	return initErr
}

// Emitter records ScaleWave's operational metrics. Its methods are
// nil-safe: they are no-ops until Init has registered the underlying
// collectors, so components can hold an Emitter before metrics are wired.
type Emitter struct{}

// NewEmitter returns a metrics Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// TickCompleted records one Observer tick, tagged by whether it ran in
// panic mode.
func (e *Emitter) TickCompleted(panicMode bool) {
	if ticksTotal == nil {
		return
	}
	mode := "stable"
	if panicMode {
		mode = "panic"
	}
	ticksTotal.WithLabelValues(mode).Inc()
}

// PanicMode records a service entering panic mode for the current tick.
func (e *Emitter) PanicMode(service string) {
	if panicModeTotal == nil {
		return
	}
	panicModeTotal.WithLabelValues(service).Inc()
}

// OptimizerTriggered records the Observer invoking the Optimizer for
// service.
func (e *Emitter) OptimizerTriggered(service string) {
	if optimizerTriggered == nil {
		return
	}
	optimizerTriggered.WithLabelValues(service).Inc()
}

// OptimizerCommitted records an Optimizer run reaching apply_traffic_split,
// tagged with its result ("committed", "preempted", "consistency_error",
// "platform_error").
func (e *Emitter) OptimizerCommitted(service, result string) {
	if optimizerCommitted == nil {
		return
	}
	optimizerCommitted.WithLabelValues(service, result).Inc()
}

// CacheError records a State Cache failure for key.
func (e *Emitter) CacheError(key string) {
	if cacheErrorsTotal == nil {
		return
	}
	cacheErrorsTotal.WithLabelValues(key).Inc()
}

// NormalizedThroughput records the most recently observed normalized
// throughput for a revision.
func (e *Emitter) NormalizedThroughput(service, revision string, value float64) {
	if throughputGauge == nil {
		return
	}
	throughputGauge.WithLabelValues(service, revision).Set(value)
}

// TrafficWeight records the current committed traffic percent for a
// revision.
func (e *Emitter) TrafficWeight(service, revision string, percent int) {
	if trafficGauge == nil {
		return
	}
	trafficGauge.WithLabelValues(service, revision).Set(float64(percent))
}
