package e2e

import (
	"testing"
)

// 01 - Resolución de tenant y ruteo al pool correcto.
func Test_01_TenantRouting(t *testing.T) {
	t.Run("por header", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "acme", "", ""))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["tenant"] != "acme" || body["database"] != "aulaflow_acme" {
			t.Fatalf("ruteo incorrecto: %v", body)
		}
		if body["source"] != "header" {
			t.Fatalf("source=%v, esperaba header", body["source"])
		}
	})

	t.Run("por subdominio", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "", "globex."+rootDomain, ""))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["tenant"] != "globex" || body["source"] != "subdomain" {
			t.Fatalf("ruteo incorrecto: %v", body)
		}
	})

	t.Run("por claim del token", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "", "", signToken(t, "acme", false)))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["tenant"] != "acme" || body["source"] != "token" {
			t.Fatalf("ruteo incorrecto: %v", body)
		}
	})

	t.Run("token vencido igual rutea", func(t *testing.T) {
		// La autenticación es problema de otro: acá sólo importa a qué
		// base va el request.
		status, body := doJSON(t, dataPlaneReq(t, "", "", signToken(t, "globex", true)))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["tenant"] != "globex" {
			t.Fatalf("ruteo incorrecto: %v", body)
		}
	})

	t.Run("header gana sobre subdominio y token", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "acme", "globex."+rootDomain, signToken(t, "globex", false)))
		if status != 200 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["tenant"] != "acme" {
			t.Fatalf("precedencia rota: %v", body)
		}
	})

	t.Run("header inválido no cae al subdominio", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "No_Valido!", "globex."+rootDomain, ""))
		if status != 400 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if errCode(body) != "INVALID_TENANT_KEY" {
			t.Fatalf("code=%s", errCode(body))
		}
	})

	t.Run("sin ninguna fuente", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "", "", ""))
		if status != 400 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if errCode(body) != "MISSING_TENANT" {
			t.Fatalf("code=%s", errCode(body))
		}
	})

	t.Run("tenant inexistente", func(t *testing.T) {
		status, body := doJSON(t, dataPlaneReq(t, "fantasma", "", ""))
		if status != 404 {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if errCode(body) != "TENANT_NOT_FOUND" {
			t.Fatalf("code=%s", errCode(body))
		}
	})
}
