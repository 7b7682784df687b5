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

// Package platform is the Platform Adapter (SPEC_FULL.md §4.1): read-only
// and write-once access to the serverless-on-Kubernetes platform via the
// `kn` and `kubectl` CLIs, parsed into typed k8s.io/api structs rather than
// ad hoc maps.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/898djh/scalewave/internal/errs"
)

// Readiness is the tri-state result of a node-readiness check.
type Readiness int

const (
	Unknown Readiness = iota
	Ready
	NotReady
)

// Runner abstracts process execution so tests can substitute a fake CLI.
// Grounded on the exec.CommandContext(...).Output() idiom used for
// kubectl/gcloud wrapping in the broader example pack.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real OS commands.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s %s: %w (stderr: %s)", name, strings.Join(args, " "), err, string(ee.Stderr))
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Adapter is the Platform Adapter. Every operation is idempotent and may
// fail transiently; callers are expected to retry at the next tick.
type Adapter struct {
	Runner    Runner
	Namespace string
	// GPUMarker is the configured substring identifying a GPU-bearing
	// revision by name (the capability tag of SPEC_FULL.md §3).
	GPUMarker string
}

// New returns an Adapter that shells out to the real kn/kubectl CLIs.
func New(namespace, gpuMarker string) *Adapter {
	return &Adapter{Runner: ExecRunner{}, Namespace: namespace, GPUMarker: gpuMarker}
}

// knServiceList is the shape of `kn service list -o json`.
type knServiceList struct {
	Items []knService `json:"items"`
}

type knService struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Status struct {
		Traffic []knTrafficTarget `json:"traffic"`
	} `json:"status"`
}

type knTrafficTarget struct {
	RevisionName string `json:"revisionName"`
	Percent      int    `json:"percent"`
}

// ServiceRevisions pairs a revision name with its current traffic percent.
type ServiceRevisions struct {
	Name     string
	Revision string
	Percent  int
}

// ListServices enumerates services and their revisions with current
// traffic weights.
func (a *Adapter) ListServices(ctx context.Context) (map[string][]ServiceRevisions, error) {
	out, err := a.Runner.Run(ctx, "kn", "service", "list", "-n", a.Namespace, "-o", "json")
	if err != nil {
		return nil, errs.NewPlatformError("list_services", err)
	}
	var list knServiceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, errs.NewPlatformError("list_services: decode", err)
	}
	result := make(map[string][]ServiceRevisions, len(list.Items))
	for _, svc := range list.Items {
		revs := make([]ServiceRevisions, 0, len(svc.Status.Traffic))
		for _, t := range svc.Status.Traffic {
			revs = append(revs, ServiceRevisions{Name: svc.Metadata.Name, Revision: t.RevisionName, Percent: t.Percent})
		}
		result[svc.Metadata.Name] = revs
	}
	return result, nil
}

var trailingNumberRE = regexp.MustCompile(`-(\d+)$`)

// ListRevisions returns revisions for service sorted by trailing numeric
// suffix ascending, non-numeric suffixes sorted to the end.
func (a *Adapter) ListRevisions(ctx context.Context, service string) ([]string, error) {
	out, err := a.Runner.Run(ctx, "kn", "revision", "list", "-n", a.Namespace, "--service", service, "-o", "json")
	if err != nil {
		return nil, errs.NewPlatformError("list_revisions", err)
	}
	var list knServiceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, errs.NewPlatformError("list_revisions: decode", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.Metadata.Name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, oki := trailingSuffix(names[i])
		nj, okj := trailingSuffix(names[j])
		if oki && okj {
			return ni < nj
		}
		if oki != okj {
			return oki // numeric suffixes sort before non-numeric
		}
		return names[i] < names[j]
	})
	return names, nil
}

func trailingSuffix(name string) (int, bool) {
	m := trailingNumberRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsGPURevision reports whether name carries the configured GPU marker.
func (a *Adapter) IsGPURevision(name string) bool {
	return a.GPUMarker != "" && strings.Contains(name, a.GPUMarker)
}

// ReplicaCount returns the current replica count for a revision's backing
// deployment, or (0, false) if the deployment is absent.
func (a *Adapter) ReplicaCount(ctx context.Context, revision string) (int, bool, error) {
	out, err := a.Runner.Run(ctx, "kubectl", "get", "deployment", revision+"-deployment", "-n", a.Namespace, "-o", "json")
	if err != nil {
		return 0, false, nil // absent deployment: Unknown, not an error per §4.1
	}
	var deploy appsv1.Deployment
	if err := json.Unmarshal(out, &deploy); err != nil {
		return 0, false, errs.NewPlatformError("replica_count: decode", err)
	}
	replicas := int32(0)
	if deploy.Spec.Replicas != nil {
		replicas = *deploy.Spec.Replicas
	}
	return int(replicas), true, nil
}

// NodeReady returns the readiness of a named node.
func (a *Adapter) NodeReady(ctx context.Context, node string) (Readiness, error) {
	out, err := a.Runner.Run(ctx, "kubectl", "get", "node", node, "-o", "json")
	if err != nil {
		return Unknown, nil
	}
	var n corev1.Node
	if err := json.Unmarshal(out, &n); err != nil {
		return Unknown, errs.NewPlatformError("node_ready: decode", err)
	}
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			if cond.Status == corev1.ConditionTrue {
				return Ready, nil
			}
			return NotReady, nil
		}
	}
	return Unknown, nil
}

// PodPhase returns Running if any pod matching namePrefix is Running, else
// the first observed phase, else Unknown.
func (a *Adapter) PodPhase(ctx context.Context, namespace, namePrefix string) (corev1.PodPhase, error) {
	out, err := a.Runner.Run(ctx, "kubectl", "get", "pods", "-n", namespace, "-o", "json")
	if err != nil {
		return "", nil
	}
	var pods corev1.PodList
	if err := json.Unmarshal(out, &pods); err != nil {
		return "", errs.NewPlatformError("pod_phase: decode", err)
	}
	var first corev1.PodPhase
	for _, p := range pods.Items {
		if !strings.HasPrefix(p.Name, namePrefix) {
			continue
		}
		if p.Status.Phase == corev1.PodRunning {
			return corev1.PodRunning, nil
		}
		if first == "" {
			first = p.Status.Phase
		}
	}
	if first == "" {
		return "", nil // Unknown
	}
	return first, nil
}

// ApplyTrafficSplit pushes a new traffic split for service. A split with a
// negative percentage, or whose percentages do not sum to exactly 100, is
// rejected with a ConsistencyError before any CLI call is made; a failure
// of the update itself is reported as a PlatformError.
func (a *Adapter) ApplyTrafficSplit(ctx context.Context, service string, split map[string]int) error {
	total := 0
	for _, p := range split {
		if p < 0 {
			return &errs.ConsistencyError{Service: service, Sum: -1}
		}
		total += p
	}
	if total != 100 {
		return &errs.ConsistencyError{Service: service, Sum: total}
	}

	args := []string{"service", "update", service, "-n", a.Namespace}
	for revision, percent := range split {
		args = append(args, "--traffic", fmt.Sprintf("%s=%d", revision, percent))
	}
	if _, err := a.Runner.Run(ctx, "kn", args...); err != nil {
		return errs.NewPlatformError("apply_traffic_split", err)
	}
	return nil
}
