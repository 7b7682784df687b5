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

// Package utils discovers Services and builds domain.Service values from
// the Platform Adapter, and derives each revision's capability tag. This is
// the CLI-polling analogue of the teacher's client.Client-backed
// VariantAutoscaling discovery: the same "list, filter by replica count,
// derive a capability tag" shape, now driven by `kn`/`kubectl` output
// instead of an informer cache.
package utils

import (
	"context"

	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/platform"
)

// DiscoverServices enumerates every service and its revisions via the
// Platform Adapter, annotating each revision with its GPU capability tag
// (SPEC_FULL.md §4.4 step 1).
func DiscoverServices(ctx context.Context, adapter *platform.Adapter) ([]domain.Service, error) {
	raw, err := adapter.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	services := make([]domain.Service, 0, len(raw))
	for name, revs := range raw {
		svc := domain.Service{Name: name}
		for _, r := range revs {
			svc.Revisions = append(svc.Revisions, domain.Revision{
				Name:           r.Revision,
				TrafficPercent: r.Percent,
				GPUBearing:     adapter.IsGPURevision(r.Revision),
			})
		}
		services = append(services, svc)
	}
	return services, nil
}

// ReplicaCounts fetches the current replica count for every revision of
// svc, keyed by revision name. A revision whose deployment is absent is
// simply omitted (Unknown, per §4.1).
func ReplicaCounts(ctx context.Context, adapter *platform.Adapter, svc domain.Service) map[string]int {
	counts := make(map[string]int, len(svc.Revisions))
	for _, rev := range svc.Revisions {
		if n, known, err := adapter.ReplicaCount(ctx, rev.Name); err == nil && known {
			counts[rev.Name] = n
		}
	}
	return counts
}

// AllZeroReplicas reports whether every revision in counts has zero
// replicas (or is absent), the Observer's skip-this-service condition
// (§4.4 step 2b).
func AllZeroReplicas(svc domain.Service, counts map[string]int) bool {
	for _, rev := range svc.Revisions {
		if counts[rev.Name] > 0 {
			return false
		}
	}
	return true
}

// GPURevision returns the first GPU-tagged revision in svc, if any.
func GPURevision(svc domain.Service) (domain.Revision, bool) {
	for _, rev := range svc.Revisions {
		if rev.GPUBearing {
			return rev, true
		}
	}
	return domain.Revision{}, false
}
