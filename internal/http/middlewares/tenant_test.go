package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/directory"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
)

type fakeStore struct{}

func (fakeStore) Pool() *pgxpool.Pool        { return nil }
func (fakeStore) PoolStats() *pgxpool.Stat   { return nil }
func (fakeStore) Ping(context.Context) error { return nil }
func (fakeStore) Close()                     {}

// fakeDirectory implementa Directory con un mapa fijo.
type fakeDirectory struct {
	tenants map[string]*controlplane.Tenant
}

func (d *fakeDirectory) Lookup(ctx context.Context, key string) (*controlplane.Tenant, error) {
	t, ok := d.tenants[key]
	if !ok {
		return nil, directory.ErrTenantNotFound
	}
	if t.Status == controlplane.StatusSuspended {
		return t, directory.ErrTenantSuspended
	}
	return t, nil
}

func newTestManager(t *testing.T, open tenantsql.OpenFunc, mut func(*tenantsql.Config)) *tenantsql.Manager {
	t.Helper()
	cfg := tenantsql.Config{
		Open:           open,
		MaxPools:       4,
		SweepInterval:  -1,
		AcquireTimeout: 100 * time.Millisecond,
	}
	if mut != nil {
		mut(&cfg)
	}
	m, err := tenantsql.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func activeTenant(slug string) *controlplane.Tenant {
	return &controlplane.Tenant{
		ID:           "id-" + slug,
		Slug:         slug,
		DatabaseName: "aulaflow_" + slug,
		Status:       controlplane.StatusActive,
	}
}

func tenantHandler(t *testing.T, saw *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := MustGetTenant(r.Context())
		*saw = tc.Tenant.Slug
		require.NotNil(t, tc.Lease)
		w.WriteHeader(http.StatusNoContent)
	})
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestWithTenant_HappyPath(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{
		"acme": activeTenant("acme"),
	}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return fakeStore{}, nil
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/v1/cursos", nil)
	r.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acme", saw)

	// El lease se liberó al terminar el handler: un Evict cierra de inmediato.
	assert.True(t, mgr.Evict("acme"))
	assert.Equal(t, 0, mgr.PoolCount())
}

func TestWithTenant_SinClave(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return fakeStore{}, nil
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://localhost/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_TENANT", errCode(t, rec))
	assert.Empty(t, saw)
}

func TestWithTenant_ClaveInvalida(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return fakeStore{}, nil
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	r.Header.Set("X-Tenant-ID", "no válido!")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TENANT_KEY", errCode(t, rec))
}

func TestWithTenant_NoExiste(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return fakeStore{}, nil
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	r.Header.Set("X-Tenant-ID", "fantasma")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TENANT_NOT_FOUND", errCode(t, rec))
}

func TestWithTenant_Suspendido(t *testing.T) {
	sus := activeTenant("acme")
	sus.Status = controlplane.StatusSuspended
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{"acme": sus}}

	var opened bool
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		opened = true
		return fakeStore{}, nil
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	r.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "TENANT_SUSPENDED", errCode(t, rec))
	assert.False(t, opened, "tenant suspendido no debe abrir pool")
}

func TestWithTenant_PoolNoConstruible(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{
		"acme": activeTenant("acme"),
	}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return nil, errors.New("db caída")
	}, nil)

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	r.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "POOL_CONSTRUCTION_FAILED", errCode(t, rec))
}

func TestWithTenant_TechoSaturado(t *testing.T) {
	dir := &fakeDirectory{tenants: map[string]*controlplane.Tenant{
		"acme":   activeTenant("acme"),
		"globex": activeTenant("globex"),
	}}
	mgr := newTestManager(t, func(ctx context.Context, tn *controlplane.Tenant) (tenantsql.Store, error) {
		return fakeStore{}, nil
	}, func(c *tenantsql.Config) {
		c.MaxPools = 1
		c.AcquireTimeout = 50 * time.Millisecond
	})

	// Ocupar el único slot con un lease vivo.
	busy, err := mgr.Acquire(context.Background(), activeTenant("acme"))
	require.NoError(t, err)
	defer busy.Release()

	var saw string
	h := Chain(tenantHandler(t, &saw), WithTenant(tenant.NewResolver(), dir, mgr))

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	r.Header.Set("X-Tenant-ID", "globex")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "POOL_CEILING_TIMEOUT", errCode(t, rec))
}
