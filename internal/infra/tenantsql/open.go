package tenantsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
	"github.com/dropDatabas3/aulaflow/internal/store/pg"
)

// dbPlaceholder es el placeholder de la plantilla de DSN.
const dbPlaceholder = "{database}"

// Opener construye la OpenFunc estándar: arma la DSN del tenant (override
// cifrado en Settings o plantilla global + database_name) y abre un pool
// pgx con el tuning del tenant o los defaults globales.
func Opener(dsnTemplate string, defaults pg.PoolConfig) OpenFunc {
	return func(ctx context.Context, t *controlplane.Tenant) (Store, error) {
		dsn, err := tenantDSN(dsnTemplate, t)
		if err != nil {
			return nil, err
		}

		cfg := defaults
		if t.Settings.MaxConns > 0 {
			cfg.MaxConns = int32(t.Settings.MaxConns)
		}
		if t.Settings.MinConns > 0 {
			cfg.MinConns = int32(t.Settings.MinConns)
		}

		return pg.New(ctx, dsn, cfg)
	}
}

// tenantDSN resuelve la DSN efectiva del tenant.
func tenantDSN(template string, t *controlplane.Tenant) (string, error) {
	if enc := strings.TrimSpace(t.Settings.DSNEnc); enc != "" {
		dsn, err := secretbox.Decrypt(enc)
		if err != nil {
			return "", fmt.Errorf("tenantsql: descifrar DSN de %q: %w", t.Slug, err)
		}
		return dsn, nil
	}
	if strings.TrimSpace(t.DatabaseName) == "" {
		return "", ErrNoDSNForTenant
	}
	if !strings.Contains(template, dbPlaceholder) {
		return "", fmt.Errorf("tenantsql: plantilla de DSN sin placeholder %s", dbPlaceholder)
	}
	return strings.ReplaceAll(template, dbPlaceholder, t.DatabaseName), nil
}
