package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/directory"
	httperr "github.com/dropDatabas3/aulaflow/internal/http/errors"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
)

// AdminTenants implementa el CRUD de tenants de la Admin API.
// Toda mutación invalida el directorio y evicta el pool del tenant para
// que el data-plane vea el cambio de inmediato.
type AdminTenants struct {
	Provider  controlplane.Provider
	Directory *directory.Directory
	Pools     *tenantsql.Manager
}

// tenantView es la representación pública de un tenant (sin secretos).
type tenantView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	DatabaseName string `json:"databaseName"`
	NodeNumber   int    `json:"nodeNumber"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
	HasCustomDSN bool   `json:"hasCustomDsn"`
}

func toView(t *controlplane.Tenant) tenantView {
	return tenantView{
		ID:           t.ID,
		Name:         t.Name,
		Slug:         t.Slug,
		DatabaseName: t.DatabaseName,
		NodeNumber:   t.NodeNumber,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		HasCustomDSN: strings.TrimSpace(t.Settings.DSNEnc) != "",
	}
}

// List responde GET /v1/admin/tenants
func (h *AdminTenants) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Provider.ListTenants(r.Context())
	if err != nil {
		httperr.WriteError(w, httperr.ErrInternalServerError.WithCause(err))
		return
	}
	views := make([]tenantView, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, toView(t))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tenants": views, "count": len(views)})
}

// Get responde GET /v1/admin/tenants/{key}
func (h *AdminTenants) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	t, err := h.Provider.GetTenant(r.Context(), key)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toView(t))
}

// Create responde POST /v1/admin/tenants
func (h *AdminTenants) Create(w http.ResponseWriter, r *http.Request) {
	var req controlplane.TenantCreateRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	t, err := h.Provider.CreateTenant(r.Context(), req)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	// Borra un posible marcador negativo dejado por lookups previos.
	h.Directory.Invalidate(r.Context(), t.Slug, t.ID)

	logger.From(r.Context()).Info("tenant creado",
		logger.TenantSlug(t.Slug),
		logger.TenantID(t.ID),
	)
	WriteJSON(w, http.StatusCreated, toView(t))
}

// Suspend responde POST /v1/admin/tenants/{key}/suspend
func (h *AdminTenants) Suspend(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, controlplane.StatusSuspended)
}

// Activate responde POST /v1/admin/tenants/{key}/activate
func (h *AdminTenants) Activate(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, controlplane.StatusActive)
}

func (h *AdminTenants) updateStatus(w http.ResponseWriter, r *http.Request, status controlplane.TenantStatus) {
	key := chi.URLParam(r, "key")

	t, err := h.Provider.UpdateStatus(r.Context(), key, status)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.Directory.Invalidate(r.Context(), t.Slug, t.ID)
	if status != controlplane.StatusActive {
		// Requests in-flight terminan; los nuevos ya no consiguen pool.
		h.Pools.Evict(t.Slug)
	}

	logger.From(r.Context()).Info("estado de tenant actualizado",
		logger.TenantSlug(t.Slug),
		logger.String("status", string(status)),
	)
	WriteJSON(w, http.StatusOK, toView(t))
}

// Delete responde DELETE /v1/admin/tenants/{key}
func (h *AdminTenants) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	// Resolver antes de borrar para conocer slug e id a invalidar.
	t, err := h.Provider.GetTenant(r.Context(), key)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	if err := h.Provider.SoftDelete(r.Context(), key); err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.Directory.Invalidate(r.Context(), t.Slug, t.ID)
	h.Pools.Evict(t.Slug)

	logger.From(r.Context()).Info("tenant dado de baja", logger.TenantSlug(t.Slug))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminTenants) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controlplane.ErrTenantNotFound):
		httperr.WriteError(w, httperr.ErrTenantNotFound)
	case errors.Is(err, controlplane.ErrSlugTaken):
		httperr.WriteError(w, httperr.ErrSlugTaken)
	case errors.Is(err, controlplane.ErrInvalidInput):
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail(err.Error()))
	default:
		httperr.WriteError(w, httperr.ErrInternalServerError.WithCause(err))
	}
}
