// Package e2e levanta el servicio completo en memoria (router real, provider
// en memoria, pools falsos) y lo ejercita por HTTP como lo haría un cliente.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aulaflow/internal/cache"
	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/controlplane/memory"
	"github.com/dropDatabas3/aulaflow/internal/directory"
	httpserver "github.com/dropDatabas3/aulaflow/internal/http"
	"github.com/dropDatabas3/aulaflow/internal/http/handlers"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/security/apikey"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
)

const (
	rootDomain = "aulaflow.io"
	jwtIssuer  = "aulaflow-e2e"
	adminKey   = "e2e-admin-key"
)

var (
	baseURL   string
	httpc     = &http.Client{Timeout: 10 * time.Second}
	provider  *memory.Provider
	mgr       *tenantsql.Manager
	jwtSecret = []byte("secreto-e2e-para-firmar-tokens")
)

// fakeStore reemplaza el pool real: ninguna base de tenant corre en e2e.
type fakeStore struct{}

func (fakeStore) Pool() *pgxpool.Pool        { return nil }
func (fakeStore) PoolStats() *pgxpool.Stat   { return nil }
func (fakeStore) Ping(context.Context) error { return nil }
func (fakeStore) Close()                     {}

func TestMain(m *testing.M) {
	if err := secretbox.UnsafeSetMasterKeyForTests([]byte("0123456789abcdef0123456789abcdef")); err != nil {
		panic(err)
	}

	provider = memory.New()
	seedTenant("acme", controlplane.StatusActive)
	seedTenant("globex", controlplane.StatusActive)

	cacheClient, err := cache.New(cache.Config{Driver: "memory", Prefix: "e2e"})
	if err != nil {
		panic(err)
	}

	dir := directory.New(provider, cacheClient, directory.Options{})

	mgr, err = tenantsql.New(tenantsql.Config{
		Open: func(ctx context.Context, t *controlplane.Tenant) (tenantsql.Store, error) {
			return fakeStore{}, nil
		},
		MaxPools:       8,
		AcquireTimeout: 300 * time.Millisecond,
		SweepInterval:  -1,
	})
	if err != nil {
		panic(err)
	}

	resolver := tenant.NewResolver(
		tenant.WithRootDomain(rootDomain),
		tenant.WithClaim(tenant.BearerClaim(jwtSecret, jwtIssuer)),
	)

	// Params chicos: el costo del Default no aporta nada en e2e.
	phc, err := apikey.Hash(apikey.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}, adminKey)
	if err != nil {
		panic(err)
	}

	metricsHandler, err := httpserver.RegisterMetrics(httpserver.MetricsConfig{TenantManager: mgr})
	if err != nil {
		panic(err)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Resolver:  resolver,
		Directory: dir,
		Pools:     mgr,
		Health: &handlers.Health{
			Provider: provider,
			Cache:    cacheClient,
			Pools:    mgr,
			Version:  "e2e",
		},
		AdminTenants: &handlers.AdminTenants{
			Provider:  provider,
			Directory: dir,
			Pools:     mgr,
		},
		AdminAPIKeyHash: phc,
		Metrics:         metricsHandler,
	})

	srv := httptest.NewServer(router)
	baseURL = srv.URL

	code := m.Run()

	srv.Close()
	_ = mgr.Close()
	_ = cacheClient.Close()
	os.Exit(code)
}

/* ============================================================================
   Helpers
============================================================================ */

func seedTenant(slug string, status controlplane.TenantStatus) *controlplane.Tenant {
	now := time.Now().UTC()
	t := &controlplane.Tenant{
		ID:           uuid.NewString(),
		Name:         slug,
		Slug:         slug,
		DatabaseName: "aulaflow_" + slug,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	provider.Seed(t)
	return t
}

// doJSON ejecuta el request y decodifica el body (si lo hay) en un mapa.
func doJSON(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := httpc.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var body map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("body no es JSON (status=%d): %s", resp.StatusCode, raw)
		}
	}
	return resp.StatusCode, body
}

// dataPlaneReq arma un GET /v1/db/ping con los vectores de resolución dados.
func dataPlaneReq(t *testing.T, header, host, token string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("GET", baseURL+"/v1/db/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	if host != "" {
		req.Host = host
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// adminReq arma un request al Admin API con la key válida (salvo que se pise).
func adminReq(t *testing.T, method, path string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, baseURL+"/v1/admin"+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Admin-API-Key", adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// signToken firma un JWT HS256 con el claim tid.
func signToken(t *testing.T, tid string, expired bool) string {
	t.Helper()
	now := time.Now()
	exp := now.Add(time.Hour)
	if expired {
		exp = now.Add(-time.Hour)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": jwtIssuer,
		"sub": "user-e2e",
		"tid": tid,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString(jwtSecret)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func errCode(body map[string]any) string {
	code, _ := body["code"].(string)
	return code
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}
