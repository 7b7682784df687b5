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

// Package config loads and exposes ScaleWave's recognized configuration
// options, bound from environment variables and an optional YAML file via
// viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed configuration surface described in SPEC_FULL.md §6.
type Config struct {
	// ObserverWindow is the range-query window used for metrics queries.
	ObserverWindow time.Duration `mapstructure:"observer_window"`
	// PanicTimer is the inter-tick sleep while any service is in panic mode.
	PanicTimer time.Duration `mapstructure:"panic_timer"`
	// StableTimer is the inter-tick sleep otherwise.
	StableTimer time.Duration `mapstructure:"stable_timer"`
	// TargetConcurrencyPerPod is the fallback concurrency target used when
	// the platform reports none for a revision.
	TargetConcurrencyPerPod float64 `mapstructure:"target_concurrency_per_pod"`
	// AdjustmentFactor bounds the per-tick traffic-percentage change.
	AdjustmentFactor float64 `mapstructure:"adjustment_factor"`
	// GPURevisionMarker is the substring identifying a GPU-bearing
	// revision by name, e.g. "-00004".
	GPURevisionMarker string `mapstructure:"gpu_revision_marker"`
	// MasterNodeInstance is excluded from cluster-wide aggregates.
	MasterNodeInstance string `mapstructure:"master_node_instance"`
	// GPUNodeName is the node hosting the accelerator the GPU-bearing
	// revision schedules onto. Empty disables the node-readiness half of
	// the Optimizer's degenerate-revision check (§4.5), falling back to
	// the pod-phase check alone.
	GPUNodeName string `mapstructure:"gpu_node_name"`
	// RegressionThreshold is the fraction of previous throughput below
	// which the Optimizer fires.
	RegressionThreshold float64 `mapstructure:"regression_threshold"`
	// PanicFactor is the ratio of current to previous tick's total
	// in-flight requests that triggers panic mode.
	PanicFactor float64 `mapstructure:"panic_factor"`
	// GPUDampingDivisor is the divisor applied to a GPU revision's smoothed
	// traffic weight (Open Question (b): made configurable, default 8).
	GPUDampingDivisor float64 `mapstructure:"gpu_damping_divisor"`
	// OptimizerSettleDelay is the delay after acquiring the per-service
	// singleton and before reading the cache, letting the Observer's
	// just-triggered writes land.
	OptimizerSettleDelay time.Duration `mapstructure:"optimizer_settle_delay"`

	// PrometheusURL is the Metrics Adapter's backend address.
	PrometheusURL string `mapstructure:"prometheus_url"`
	// RedisAddr is the State Cache's backend address. Ignored when
	// CacheFilePath is set.
	RedisAddr string `mapstructure:"redis_addr"`
	// CacheFilePath, when non-empty, selects the YAML-file-backed State
	// Cache instead of Redis — for single-node deployments that don't run
	// a Redis instance.
	CacheFilePath string `mapstructure:"cache_file_path"`
	// Namespace scopes the Platform Adapter's kubectl/kn invocations.
	Namespace string `mapstructure:"namespace"`
}

// Default returns the configuration defaults enumerated in SPEC_FULL.md §6.
func Default() Config {
	return Config{
		ObserverWindow:          time.Minute,
		PanicTimer:              6 * time.Second,
		StableTimer:             30 * time.Second,
		TargetConcurrencyPerPod: 1,
		AdjustmentFactor:        0.25,
		GPURevisionMarker:       "-00004",
		MasterNodeInstance:      "nano-desktop",
		GPUNodeName:             "",
		RegressionThreshold:     0.95,
		PanicFactor:             1.5,
		GPUDampingDivisor:       8,
		OptimizerSettleDelay:    1500 * time.Millisecond,
		PrometheusURL:           "http://localhost:9090",
		RedisAddr:               "localhost:6379",
		CacheFilePath:           "",
		Namespace:               "default",
	}
}

// Load binds environment variables (prefixed SCALEWAVE_) and an optional
// YAML config file over the defaults, returning the merged Config.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SCALEWAVE")
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("observer_window", cfg.ObserverWindow)
	v.SetDefault("panic_timer", cfg.PanicTimer)
	v.SetDefault("stable_timer", cfg.StableTimer)
	v.SetDefault("target_concurrency_per_pod", cfg.TargetConcurrencyPerPod)
	v.SetDefault("adjustment_factor", cfg.AdjustmentFactor)
	v.SetDefault("gpu_revision_marker", cfg.GPURevisionMarker)
	v.SetDefault("master_node_instance", cfg.MasterNodeInstance)
	v.SetDefault("gpu_node_name", cfg.GPUNodeName)
	v.SetDefault("regression_threshold", cfg.RegressionThreshold)
	v.SetDefault("panic_factor", cfg.PanicFactor)
	v.SetDefault("gpu_damping_divisor", cfg.GPUDampingDivisor)
	v.SetDefault("optimizer_settle_delay", cfg.OptimizerSettleDelay)
	v.SetDefault("prometheus_url", cfg.PrometheusURL)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("cache_file_path", cfg.CacheFilePath)
	v.SetDefault("namespace", cfg.Namespace)
}
