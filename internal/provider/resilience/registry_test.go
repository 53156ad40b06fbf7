package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// register builds one search client per backend name against registry.
func register(t *testing.T, registry *resilience.Registry, names ...string) {
	t.Helper()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		client := resilience.NewClient(cfg)
		require.Equal(t, name, client.Name())
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	registry := resilience.NewRegistry()
	register(t, registry, "oceancolor", "cmr", "cdse", "creodias")

	assert.Equal(t, 4, registry.ProviderCount())
	assert.Equal(t, []string{"cdse", "cmr", "creodias", "oceancolor"}, registry.GetProviderNames())

	all := registry.GetAllHealth()
	require.Len(t, all, 4)
	for i, h := range all {
		assert.Equal(t, registry.GetProviderNames()[i], h.Name, "sorted by name")
		assert.Equal(t, gobreaker.StateClosed, h.CircuitState)
		assert.Equal(t, resilience.StatusHealthy, h.Status())
		assert.Nil(t, h.LastSuccessAt)
		assert.Nil(t, h.LastFailureAt)
	}

	registry.Unregister("creodias")
	assert.Nil(t, registry.GetHealth("creodias"))
	assert.Equal(t, 3, registry.ProviderCount())
}

func TestRegistry_RecordsOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	register(t, registry, "cmr")

	registry.RecordSuccess("cmr")
	registry.RecordFailure("cmr", errors.New("unexpected status code 503"))
	registry.RecordFailure("cmr", nil)

	h := registry.GetHealth("cmr")
	require.NotNil(t, h)
	require.NotNil(t, h.LastSuccessAt)
	require.NotNil(t, h.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *h.LastSuccessAt, time.Second)
	assert.False(t, h.LastFailureAt.Before(*h.LastSuccessAt))
	assert.Equal(t, "unexpected status code 503", h.LastError, "a nil error keeps the last message")

	// Unknown names are ignored.
	registry.RecordSuccess("oceancolor")
	registry.RecordFailure("oceancolor", assert.AnError)
	assert.Nil(t, registry.GetHealth("oceancolor"))
}

func TestRegistry_ReplacesClient(t *testing.T) {
	registry := resilience.NewRegistry()
	register(t, registry, "cdse")
	registry.RecordFailure("cdse", assert.AnError)

	register(t, registry, "cdse")

	h := registry.GetHealth("cdse")
	require.NotNil(t, h)
	assert.Empty(t, h.LastError)
	assert.Equal(t, 1, registry.ProviderCount())
}

func TestProviderHealth_Status(t *testing.T) {
	tests := []struct {
		state     gobreaker.State
		status    string
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{gobreaker.StateClosed, resilience.StatusHealthy, true, false, false},
		{gobreaker.StateHalfOpen, resilience.StatusDegraded, false, true, false},
		{gobreaker.StateOpen, resilience.StatusUnhealthy, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.ProviderHealth{CircuitState: tt.state}
			assert.Equal(t, tt.status, h.Status())
			assert.Equal(t, tt.healthy, h.IsHealthy())
			assert.Equal(t, tt.degraded, h.IsDegraded())
			assert.Equal(t, tt.unhealthy, h.IsUnhealthy())
		})
	}
}
