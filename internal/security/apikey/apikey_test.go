package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Params chicos para que los tests no paguen los 64 MiB del Default.
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerify_RoundTrip(t *testing.T) {
	phc, err := Hash(testParams, "clave-super-secreta")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(phc, "$argon2id$v=19$"))
	assert.True(t, Verify("clave-super-secreta", phc))
	assert.False(t, Verify("clave-equivocada", phc))
	assert.False(t, Verify("", phc))
}

func TestHash_SaltAleatoria(t *testing.T) {
	a, err := Hash(testParams, "misma-clave")
	require.NoError(t, err)
	b, err := Hash(testParams, "misma-clave")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, Verify("misma-clave", a))
	assert.True(t, Verify("misma-clave", b))
}

func TestHash_KeyVacia(t *testing.T) {
	_, err := Hash(testParams, "")
	assert.Error(t, err)
}

func TestVerify_PHCInvalido(t *testing.T) {
	for _, bad := range []string{
		"",
		"no-es-phc",
		"$argon2i$v=19$m=8192,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=18$m=8192,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$AAAA",
		"$argon2id$v=19$rotos$AAAA$AAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!salt!!$AAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$AAAA$!!dk!!",
	} {
		assert.False(t, Verify("cualquiera", bad), "phc %q", bad)
	}
}

func TestVerify_RespetaParamsDelPHC(t *testing.T) {
	// Los params viajan en el PHC: verificar con otros Params del lado
	// del caller no debe hacer falta.
	other := Params{Memory: 16 * 1024, Time: 2, Parallelism: 2, KeyLen: 16}
	phc, err := Hash(other, "clave")
	require.NoError(t, err)
	assert.True(t, Verify("clave", phc))
}
