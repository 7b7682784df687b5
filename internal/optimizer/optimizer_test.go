package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/errs"
	"github.com/898djh/scalewave/internal/platform"
)

type noopRunner struct{ calls int }

func (r *noopRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.calls++
	return []byte(`{}`), nil
}

func newTestDeps(runner *noopRunner, mem *cache.Memory) Deps {
	return Deps{
		Cache:                   mem,
		Platform:                &platform.Adapter{Runner: runner, Namespace: "default", GPUMarker: "-gpu"},
		Namespace:               "default",
		AdjustmentFactor:        0.25,
		GPUDampingDivisor:       8,
		TargetConcurrencyPerPod: 1,
		OptimizerSettleDelay:    time.Millisecond,
	}
}

func TestRunCommitsValidTrafficSplit(t *testing.T) {
	mem := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, cache.KeyAvailableClusterResources, domain.ClusterCapacity{
		CPU: 1000, Memory: 1000, DiskRead: 1000, DiskWrite: 1000, NetworkDownlink: 1000, NetworkUplink: 1000,
	}))
	require.NoError(t, mem.Set(ctx, cache.ServiceKey("svc"), domain.ServiceMetrics{
		"svc-00001": {CPU: 10, Memory: 10, NormalizedThroughput: 1.0, CurrentReplica: 2},
		"svc-00002": {CPU: 10, Memory: 10, NormalizedThroughput: 0.5, CurrentReplica: 2},
	}))
	require.NoError(t, mem.Set(ctx, cache.ServiceRequestsKey("svc"), domain.InFlightRequests{Total: 20}))

	req := Request{
		Service: domain.Service{Name: "svc", Revisions: []domain.Revision{
			{Name: "svc-00001", TrafficPercent: 50},
			{Name: "svc-00002", TrafficPercent: 50},
		}},
		Replicas: map[string]int{"svc-00001": 2, "svc-00002": 2},
	}

	runner := &noopRunner{}
	err := Run(ctx, newTestDeps(runner, mem), req, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
}

func TestRunReturnsPreemptedWhenContextCancelledDuringSettle(t *testing.T) {
	mem := cache.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := Request{Service: domain.Service{Name: "svc"}}
	d := newTestDeps(&noopRunner{}, mem)
	d.OptimizerSettleDelay = 50 * time.Millisecond

	err := Run(ctx, d, req, "run-1")
	require.Error(t, err)
	var preempted *errs.Preempted
	require.ErrorAs(t, err, &preempted)
}

func TestRunNoOpWhenProposalMatchesCurrent(t *testing.T) {
	mem := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, cache.KeyAvailableClusterResources, domain.ClusterCapacity{CPU: 100}))
	require.NoError(t, mem.Set(ctx, cache.ServiceKey("svc"), domain.ServiceMetrics{
		"svc-00001": {CPU: 1, NormalizedThroughput: 1.0, CurrentReplica: 1},
	}))
	require.NoError(t, mem.Set(ctx, cache.ServiceRequestsKey("svc"), domain.InFlightRequests{Total: 1}))

	req := Request{
		Service: domain.Service{Name: "svc", Revisions: []domain.Revision{
			{Name: "svc-00001", TrafficPercent: 100},
		}},
		Replicas: map[string]int{"svc-00001": 1},
	}

	runner := &noopRunner{}
	err := Run(ctx, newTestDeps(runner, mem), req, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls, "single-revision service should be a no-op commit")
}
