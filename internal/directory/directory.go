// Package directory expone el registro de tenants con una capa de cache
// (cache-aside) encima del Provider de control-plane. Es la única vía por
// la que el resto del servicio consulta tenants en el hot path.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/aulaflow/internal/cache"
	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
	"go.uber.org/zap"
)

var (
	// ErrTenantNotFound re-exporta el sentinel de control-plane para que
	// los callers no dependan de ese paquete.
	ErrTenantNotFound = controlplane.ErrTenantNotFound
	// ErrTenantSuspended: el tenant existe pero está suspendido. El
	// registro se devuelve junto con el error para poder loguear quién era.
	ErrTenantSuspended = errors.New("directory: tenant suspendido")
)

// marcador para cache negativo (clave consultada que no existe)
const negMarker = "\x00ausente"

// Options configura los TTLs del cache.
type Options struct {
	// TTL de registros existentes. Default 2m.
	TTL time.Duration
	// NegativeTTL de claves inexistentes. Corto a propósito: un tenant
	// recién creado no debe tardar en ser visible. Default 15s.
	NegativeTTL time.Duration
}

// Directory resuelve claves de tenant (slug o UUID) a registros completos.
type Directory struct {
	provider controlplane.Provider
	cache    cache.Client
	ttl      time.Duration
	negTTL   time.Duration
	log      *zap.Logger
}

// New crea un Directory sobre el provider y el cache dados.
func New(p controlplane.Provider, c cache.Client, opts Options) *Directory {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 15 * time.Second
	}
	return &Directory{
		provider: p,
		cache:    c,
		ttl:      opts.TTL,
		negTTL:   opts.NegativeTTL,
		log:      logger.Named("directory"),
	}
}

func cacheKey(key string) string { return "tenant:" + key }

// Lookup resuelve la clave al registro del tenant.
//
// Retorna:
//   - (tenant, nil) si existe y está activo
//   - (tenant, ErrTenantSuspended) si existe pero está suspendido
//   - (nil, ErrTenantNotFound) si no existe o fue dado de baja
//   - (nil, err) ante errores de infraestructura (no se cachean)
func (d *Directory) Lookup(ctx context.Context, key string) (*controlplane.Tenant, error) {
	ck := cacheKey(key)

	if raw, err := d.cache.Get(ctx, ck); err == nil {
		if raw == negMarker {
			return nil, ErrTenantNotFound
		}
		var t controlplane.Tenant
		if uerr := json.Unmarshal([]byte(raw), &t); uerr == nil {
			return d.withStatus(&t)
		}
		// Entrada corrupta: se descarta y se va al provider.
		_ = d.cache.Delete(ctx, ck)
	} else if !cache.IsNotFound(err) {
		// Cache caído no tumba el lookup, solo lo encarece.
		d.log.Warn("cache get falló", logger.Key(key), logger.Err(err))
	}

	t, err := d.provider.GetTenant(ctx, key)
	if err != nil {
		if errors.Is(err, controlplane.ErrTenantNotFound) {
			if serr := d.cache.Set(ctx, ck, negMarker, d.negTTL); serr != nil {
				d.log.Warn("cache set negativo falló", logger.Key(key), logger.Err(serr))
			}
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	if b, merr := json.Marshal(t); merr == nil {
		if serr := d.cache.Set(ctx, ck, string(b), d.ttl); serr != nil {
			d.log.Warn("cache set falló", logger.Key(key), logger.Err(serr))
		}
	}

	return d.withStatus(t)
}

// withStatus aplica la política de estados sobre un registro ya resuelto.
// Se aplica también a hits de cache: un registro cacheado como suspendido
// sigue siendo suspendido hasta que se invalide.
func (d *Directory) withStatus(t *controlplane.Tenant) (*controlplane.Tenant, error) {
	switch t.Status {
	case controlplane.StatusActive:
		return t, nil
	case controlplane.StatusSuspended:
		return t, ErrTenantSuspended
	default:
		// inactive (baja lógica) se comporta como inexistente
		return nil, ErrTenantNotFound
	}
}

// Invalidate borra del cache todas las claves dadas (slug y/o UUID del
// mismo tenant). Se llama tras cualquier mutación administrativa.
func (d *Directory) Invalidate(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := d.cache.Delete(ctx, cacheKey(k)); err != nil {
			d.log.Warn("cache delete falló", logger.Key(k), logger.Err(err))
		}
	}
}
