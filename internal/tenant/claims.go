package tenant

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TenantClaim es el nombre del claim que transporta la clave del tenant.
const TenantClaim = "tid"

// BearerClaim construye una ClaimFunc que lee el claim "tid" de un
// bearer token HS256 firmado con secret. Un request sin header
// Authorization no es un error: simplemente no aporta clave.
//
// La expiración se ignora a propósito: un token vencido sigue diciendo a
// qué base rutear; la autenticación la valida otro middleware. Firma e
// issuer sí se exigen siempre.
func BearerClaim(secret []byte, issuer string) ClaimFunc {
	return func(r *http.Request) (string, error) {
		raw := bearerToken(r)
		if raw == "" {
			return "", nil
		}

		// Sin validación de claims acá: jwt/v5 junta los errores de exp e
		// iss en uno solo y no dejaría distinguir "solo vencido" de
		// "vencido y además de otro emisor". El issuer se chequea a mano.
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if err != nil {
			return "", fmt.Errorf("tenant: bearer token inválido: %w", err)
		}

		if issuer != "" {
			iss, err := claims.GetIssuer()
			if err != nil || iss != issuer {
				return "", fmt.Errorf("tenant: bearer token inválido: %w", jwt.ErrTokenInvalidIssuer)
			}
		}

		tid, _ := claims[TenantClaim].(string)
		return tid, nil
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
