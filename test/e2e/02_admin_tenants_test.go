package e2e

import (
	"net/http"
	"testing"
)

// 02 - Admin API: auth, CRUD y su efecto inmediato sobre el data-plane.
func Test_02_AdminAuth(t *testing.T) {
	t.Run("sin api key", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/v1/admin/tenants", nil)
		status, body := doJSON(t, req)
		if status != 401 {
			t.Fatalf("status=%d body=%v", status, body)
		}
	})

	t.Run("api key incorrecta", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/v1/admin/tenants", nil)
		req.Header.Set("X-Admin-API-Key", "clave-incorrecta")
		status, body := doJSON(t, req)
		if status != 401 {
			t.Fatalf("status=%d body=%v", status, body)
		}
	})

	t.Run("api key correcta", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "GET", "/tenants", nil))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if _, ok := body["tenants"]; !ok {
			t.Fatalf("body sin lista de tenants: %v", body)
		}
	})
}

func Test_02_AdminCRUD(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants", jsonBody(map[string]any{
			"slug": "initech",
			"name": "Initech S.A.",
		})))
		if status != 201 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["slug"] != "initech" || body["databaseName"] != "aulaflow_initech" {
			t.Fatalf("tenant creado mal: %v", body)
		}
		if body["status"] != "active" {
			t.Fatalf("status inicial=%v", body["status"])
		}
	})

	t.Run("get por slug", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "GET", "/tenants/initech", nil))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["name"] != "Initech S.A." {
			t.Fatalf("body inesperado: %v", body)
		}
	})

	t.Run("slug duplicado", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants", jsonBody(map[string]any{
			"slug": "initech",
			"name": "otro",
		})))
		if status != 409 || errCode(body) != "SLUG_TAKEN" {
			t.Fatalf("status=%d code=%s", status, errCode(body))
		}
	})

	t.Run("slug inválido", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants", jsonBody(map[string]any{
			"slug": "Not A Slug",
			"name": "x",
		})))
		if status != 400 {
			t.Fatalf("status=%d body=%v", status, body)
		}
	})

	t.Run("el tenant nuevo rutea al instante", func(t *testing.T) {
		// Un lookup previo pudo dejar marcador negativo; Create lo borra.
		status, body := doJSON(t, dataPlaneReq(t, "initech", "", ""))
		if status != 200 || body["tenant"] != "initech" {
			t.Fatalf("status=%d body=%v", status, body)
		}
	})
}

func Test_02_SuspendActivate(t *testing.T) {
	seedTenant("umbrella", "active")

	t.Run("rutea antes de suspender", func(t *testing.T) {
		status, _ := doJSON(t, dataPlaneReq(t, "umbrella", "", ""))
		if status != 200 {
			t.Fatalf("status=%d", status)
		}
	})

	t.Run("suspend corta el trafico nuevo", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants/umbrella/suspend", nil))
		if status != 200 || body["status"] != "suspended" {
			t.Fatalf("status=%d body=%v", status, body)
		}

		status, body = doJSON(t, dataPlaneReq(t, "umbrella", "", ""))
		if status != 403 || errCode(body) != "TENANT_SUSPENDED" {
			t.Fatalf("status=%d code=%s", status, errCode(body))
		}
	})

	t.Run("activate lo devuelve al aire", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants/umbrella/activate", nil))
		if status != 200 || body["status"] != "active" {
			t.Fatalf("status=%d body=%v", status, body)
		}

		status, body = doJSON(t, dataPlaneReq(t, "umbrella", "", ""))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
	})
}

func Test_02_Delete(t *testing.T) {
	seedTenant("wonka", "active")

	// calienta directorio y pool
	if status, _ := doJSON(t, dataPlaneReq(t, "wonka", "", "")); status != 200 {
		t.Fatalf("warmup status=%d", status)
	}

	resp, err := httpc.Do(adminReq(t, "DELETE", "/tenants/wonka", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Fatalf("DELETE status=%d", resp.StatusCode)
	}

	t.Run("deja de rutear", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "wonka", "", ""))
		if status != 404 || errCode(body) != "TENANT_NOT_FOUND" {
			t.Fatalf("status=%d code=%s", status, errCode(body))
		}
	})

	t.Run("desaparece del admin", func(t *testing.T) {
		status, _ := doJSON(t, adminReq(t, "GET", "/tenants/wonka", nil))
		if status != 404 {
			t.Fatalf("status=%d", status)
		}
	})

	t.Run("el slug queda reservado", func(t *testing.T) {
		status, body := doJSON(t, adminReq(t, "POST", "/tenants", jsonBody(map[string]any{
			"slug": "wonka",
			"name": "Wonka bis",
		})))
		if status != 409 || errCode(body) != "SLUG_TAKEN" {
			t.Fatalf("status=%d code=%s", status, errCode(body))
		}
	})
}
