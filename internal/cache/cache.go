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

// Package cache is the State Cache (SPEC_FULL.md §4.3): a shared
// key-value store of JSON-serializable values, single-writer-per-key,
// requiring no transactions or cross-key atomicity. Treat every key as a
// bulletin board, not a database (§9).
package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/898djh/scalewave/internal/errs"
)

// Well-known key names and key-builder helpers, per §4.3 and §6.
const (
	KeyMaxResourceBenchmarks     = "max_resource_benchmarks"
	KeyAvailableClusterResources = "available_cluster_resources"
)

// ServiceKey returns the per-service RevisionMetrics key.
func ServiceKey(service string) string { return service }

// ServiceRequestsKey returns the per-service InFlightRequests key.
func ServiceRequestsKey(service string) string { return service + "_requests" }

// ServiceThroughputPrevKey returns the per-service throughput_prev key.
func ServiceThroughputPrevKey(service string) string { return service + "_throughput_prev" }

// ServiceOptimizerProcessKey returns the per-service optimizer-process
// registry key.
func ServiceOptimizerProcessKey(service string) string { return service + "_optimizer_process" }

// Cache is a simple JSON key-value interface. Implementations need not
// provide transactions; callers treat each key as single-writer.
type Cache interface {
	// Get unmarshals the value stored at key into out. It returns
	// (false, nil) if the key is absent.
	Get(ctx context.Context, key string, out any) (bool, error)
	// Set marshals value and stores it at key.
	Set(ctx context.Context, key string, value any) error
}

// Memory is an in-memory Cache, used for tests and local development. It
// round-trips values through JSON so callers observe the same semantics as
// the Redis-backed implementation.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory Cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errs.NewCacheError(key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.NewCacheError(key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}
