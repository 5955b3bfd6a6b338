package e2e

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

// 00 - Smoke: superficies operacionales y headers básicos.
func Test_00_Smoke(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/healthz", nil)
		status, body := doJSON(t, req)
		if status != 200 {
			t.Fatalf("GET /healthz status=%d", status)
		}
		if body["status"] != "ok" {
			t.Fatalf("healthz body inesperado: %v", body)
		}
		if body["version"] != "e2e" {
			t.Fatalf("version inesperada: %v", body["version"])
		}
	})

	t.Run("readyz", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/readyz", nil)
		status, body := doJSON(t, req)
		if status != 200 {
			t.Fatalf("GET /readyz status=%d body=%v", status, body)
		}
		if body["status"] != "ready" {
			t.Fatalf("readyz body inesperado: %v", body)
		}
		checks, _ := body["checks"].(map[string]any)
		if checks["control_plane"] != "ok" || checks["cache"] != "ok" {
			t.Fatalf("checks inesperados: %v", checks)
		}
	})

	t.Run("request id en la respuesta", func(t *testing.T) {
		resp, err := httpc.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatal("falta X-Request-ID en la respuesta")
		}
	})

	t.Run("request id del cliente se propaga", func(t *testing.T) {
		req, _ := http.NewRequest("GET", baseURL+"/healthz", nil)
		req.Header.Set("X-Request-ID", "rid-e2e-123")
		resp, err := httpc.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("X-Request-ID"); got != "rid-e2e-123" {
			t.Fatalf("X-Request-ID=%q, esperaba el del cliente", got)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := httpc.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("GET /metrics status=%d", resp.StatusCode)
		}
		raw, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(raw), "tenant_pool_count") {
			t.Fatal("falta la métrica tenant_pool_count en /metrics")
		}
	})
}
