package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cp "github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
)

func TestCreateTenant_DSNCustomSeCifra(t *testing.T) {
	require.NoError(t, secretbox.UnsafeSetMasterKeyForTests([]byte("0123456789abcdef0123456789abcdef")))
	t.Cleanup(secretbox.UnsafeResetForTests)

	p := New()
	dsn := "postgres://app:pw@nodo-7:5432/aulaflow_acme"
	created, err := p.CreateTenant(context.Background(), cp.TenantCreateRequest{
		Slug: "acme", Name: "Acme", DSN: dsn,
	})
	require.NoError(t, err)

	// El registro nunca guarda la DSN en claro; el opener la descifra.
	require.NotEmpty(t, created.Settings.DSNEnc)
	assert.NotContains(t, created.Settings.DSNEnc, "pw@nodo-7")
	plain, err := secretbox.Decrypt(created.Settings.DSNEnc)
	require.NoError(t, err)
	assert.Equal(t, dsn, plain)

	got, err := p.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, created.Settings.DSNEnc, got.Settings.DSNEnc)
}

func TestCreateTenant_DSNSinMasterKeyFalla(t *testing.T) {
	secretbox.UnsafeResetForTests()
	t.Cleanup(secretbox.UnsafeResetForTests)
	t.Setenv("AULAFLOW_MASTER_KEY", "")

	p := New()
	_, err := p.CreateTenant(context.Background(), cp.TenantCreateRequest{
		Slug: "acme", Name: "Acme", DSN: "postgres://x",
	})
	assert.Error(t, err)

	// Sin DSN custom no hace falta la clave.
	_, err = p.CreateTenant(context.Background(), cp.TenantCreateRequest{Slug: "acme", Name: "Acme"})
	assert.NoError(t, err)
}

func TestCreateTenant_DatabaseNameUnico(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, err := p.CreateTenant(ctx, cp.TenantCreateRequest{Slug: "acme", Name: "Acme"})
	require.NoError(t, err)

	// Mismo database_name derivado por otro slug explícito.
	_, err = p.CreateTenant(ctx, cp.TenantCreateRequest{
		Slug: "acme-bis", Name: "Acme bis", DatabaseName: "aulaflow_acme",
	})
	assert.ErrorIs(t, err, cp.ErrSlugTaken)

	// Con database_name propio no hay conflicto.
	_, err = p.CreateTenant(ctx, cp.TenantCreateRequest{
		Slug: "acme-bis", Name: "Acme bis", DatabaseName: "aulaflow_acme_bis",
	})
	assert.NoError(t, err)
}

func TestSoftDelete_ReservaElSlug(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, err := p.CreateTenant(ctx, cp.TenantCreateRequest{Slug: "wonka", Name: "Wonka"})
	require.NoError(t, err)
	require.NoError(t, p.SoftDelete(ctx, "wonka"))

	_, err = p.GetTenant(ctx, "wonka")
	assert.ErrorIs(t, err, cp.ErrTenantNotFound)

	_, err = p.CreateTenant(ctx, cp.TenantCreateRequest{Slug: "wonka", Name: "Wonka bis"})
	assert.ErrorIs(t, err, cp.ErrSlugTaken)
}
