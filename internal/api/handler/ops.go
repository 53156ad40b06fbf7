package handler

import (
	"net/http"
	"time"

	"github.com/OceanOptics/getOC/internal/api/models"
	"github.com/OceanOptics/getOC/internal/api/response"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// OpsHandler serves the operational endpoints.
type OpsHandler struct {
	version string
	health  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version string, health *resilience.Registry) *OpsHandler {
	if health == nil {
		health = resilience.NewRegistry()
	}
	return &OpsHandler{version: version, health: health}
}

// Health handles GET /v1/ops/health.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Time:    time.Now().UTC(),
		Details: map[string]string{"version": h.version},
	})
}

// Providers handles GET /v1/ops/providers: the circuit state of every backend client.
func (h *OpsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	list := models.ProviderList{
		Status:    models.HealthStatusOK,
		Time:      time.Now().UTC(),
		Providers: []models.ProviderStatus{},
	}

	for _, ph := range h.health.GetAllHealth() {
		status := providerStatus(ph)
		list.Providers = append(list.Providers, models.ProviderStatus{
			Provider:      ph.Name,
			Status:        status,
			Circuit:       ph.CircuitState.String(),
			Requests:      ph.Counts.Requests,
			Failures:      ph.Counts.ConsecutiveFailures,
			LastSuccessAt: ph.LastSuccessAt,
			LastFailureAt: ph.LastFailureAt,
			LastError:     ph.LastError,
		})
		if status == models.HealthStatusDown || (status == models.HealthStatusDegraded && list.Status == models.HealthStatusOK) {
			list.Status = models.HealthStatusDegraded
		}
	}

	response.JSON(w, r, http.StatusOK, list)
}

func providerStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch ph.Status() {
	case resilience.StatusUnhealthy:
		return models.HealthStatusDown
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	}
	return models.HealthStatusOK
}
