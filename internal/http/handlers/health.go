package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/aulaflow/internal/cache"
	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
)

// Health expone los endpoints de salud del servicio.
type Health struct {
	Provider controlplane.Provider
	Cache    cache.Client
	Pools    *tenantsql.Manager
	Version  string
}

// Liveness: el proceso está vivo. No toca dependencias.
func (h *Health) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.Version,
	})
}

// Readiness: el servicio puede atender tráfico. Verifica la base de
// control y el cache; los pools de tenant se crean on-demand así que
// solo se reporta su conteo.
func (h *Health) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if err := h.Provider.Ping(ctx); err != nil {
		checks["control_plane"] = err.Error()
		ready = false
	} else {
		checks["control_plane"] = "ok"
	}

	if h.Cache != nil {
		if err := h.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			ready = false
		} else {
			checks["cache"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	body := map[string]any{
		"status": state,
		"checks": checks,
	}
	if h.Pools != nil {
		body["tenant_pools"] = h.Pools.PoolCount()
	}
	WriteJSON(w, status, body)
}
