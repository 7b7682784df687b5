package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/898djh/scalewave/internal/domain"
)

func TestMemoryGetAbsentKeyReturnsFalseNoError(t *testing.T) {
	m := NewMemory()
	var out domain.ServiceMetrics
	found, err := m.Get(context.Background(), "face-recognition-oblique", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySetThenGetRoundTrips(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	in := domain.ServiceMetrics{
		"face-recognition-oblique-00001": {NormalizedThroughput: 3.5, CurrentReplica: 2},
	}
	require.NoError(t, m.Set(ctx, ServiceKey("face-recognition-oblique"), in))

	var out domain.ServiceMetrics
	found, err := m.Get(ctx, ServiceKey("face-recognition-oblique"), &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "svc_requests", ServiceRequestsKey("svc"))
	assert.Equal(t, "svc_throughput_prev", ServiceThroughputPrevKey("svc"))
	assert.Equal(t, "svc_optimizer_process", ServiceOptimizerProcessKey("svc"))
}
