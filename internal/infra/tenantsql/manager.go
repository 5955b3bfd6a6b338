// Package tenantsql administra los pools de conexión por tenant.
//
// Cada tenant vive en su propia base física, así que cada tenant activo
// necesita su propio pool. El Manager mantiene un mapa slug → pool con
// un techo global de pools vivos, construcción deduplicada vía
// singleflight, refcounts que protegen pools en uso, evicción LRU
// cuando se alcanza el techo y un barrido periódico de pools ociosos.
package tenantsql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrClosed: el Manager ya fue cerrado.
	ErrClosed = errors.New("tenantsql: manager cerrado")
	// ErrCeilingTimeout: se alcanzó el techo de pools y ningún slot se
	// liberó dentro del tiempo de espera.
	ErrCeilingTimeout = errors.New("tenantsql: timeout esperando un slot de pool")
	// ErrNoDSNForTenant: el tenant no tiene forma de derivar una DSN.
	ErrNoDSNForTenant = errors.New("tenantsql: tenant sin DSN configurada")
)

// Store es la superficie mínima que el Manager necesita de un pool.
// pg.Store la implementa; los tests usan fakes.
type Store interface {
	Pool() *pgxpool.Pool
	PoolStats() *pgxpool.Stat
	Ping(ctx context.Context) error
	Close()
}

// OpenFunc abre un pool contra la base del tenant dado.
// Debe bloquear hasta que el pool esté usable (ping incluido).
type OpenFunc func(ctx context.Context, t *controlplane.Tenant) (Store, error)

// EvictFunc notifica que un pool fue cerrado. reason: lru | idle | admin | drain | shutdown.
type EvictFunc func(slug, reason string)

// Config parametriza el Manager.
type Config struct {
	Open OpenFunc
	// MaxPools techo de pools vivos simultáneos. Default 50.
	MaxPools int
	// IdleTTL inactividad tras la cual el barrido cierra un pool. Default 10m.
	IdleTTL time.Duration
	// SweepInterval frecuencia del barrido. Default 1m. Negativo lo deshabilita.
	SweepInterval time.Duration
	// AcquireTimeout espera máxima por un slot con el techo alcanzado. Default 5s.
	AcquireTimeout time.Duration
	// ConnectTimeout presupuesto de construcción de un pool nuevo. Default 10s.
	ConnectTimeout time.Duration
	// OnEvict callback opcional para métricas.
	OnEvict EvictFunc
}

// PoolStat snapshot del estado de un pool.
type PoolStat struct {
	Tenant   string
	Acquired int32
	Idle     int32
	Total    int32
	RefCount int
	LastUsed time.Time
}

// entry es un pool registrado. El refcount cuenta requests in-flight:
// un pool con refcount > 0 nunca se cierra por debajo de un caller.
type entry struct {
	slug  string
	store Store

	mu       sync.Mutex
	refCount int
	lastUsed time.Time
	// drain: cerrar cuando refCount llegue a 0. Una vez seteado no se revierte.
	drain bool
}

// Manager mantiene el mapa de pools vivos y el techo global.
type Manager struct {
	open           OpenFunc
	maxPools       int
	idleTTL        time.Duration
	sweepInterval  time.Duration
	acquireTimeout time.Duration
	connectTimeout time.Duration
	onEvict        EvictFunc
	log            *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	// slots ocupados (entries vivos, incluidos los que drenan fuera del mapa)
	slotsUsed int
	// notify se cierra-y-reemplaza cada vez que un slot puede haberse liberado
	notify chan struct{}
	closed bool

	sf        singleflight.Group
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New crea el Manager y arranca el barrido de pools ociosos.
func New(cfg Config) (*Manager, error) {
	if cfg.Open == nil {
		return nil, errors.New("tenantsql: Config.Open es requerido")
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = 50
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	m := &Manager{
		open:           cfg.Open,
		maxPools:       cfg.MaxPools,
		idleTTL:        cfg.IdleTTL,
		sweepInterval:  cfg.SweepInterval,
		acquireTimeout: cfg.AcquireTimeout,
		connectTimeout: cfg.ConnectTimeout,
		onEvict:        cfg.OnEvict,
		log:            logger.Named("tenantsql"),
		entries:        make(map[string]*entry),
		notify:         make(chan struct{}),
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}

	if m.sweepInterval > 0 {
		go m.sweepLoop()
	} else {
		close(m.sweepDone)
	}
	return m, nil
}

// Acquire devuelve un Lease sobre el pool del tenant, creándolo si hace
// falta. El caller DEBE llamar Release() al terminar el request.
//
// La construcción de un pool frío se deduplica por slug: N requests
// concurrentes producen una sola construcción y todos esperan el mismo
// resultado. Si el contexto del caller se cancela mientras espera, el
// caller recibe ctx.Err() pero la construcción sigue para el resto.
func (m *Manager) Acquire(ctx context.Context, t *controlplane.Tenant) (*Lease, error) {
	if t == nil || t.Slug == "" {
		return nil, ErrNoDSNForTenant
	}
	slug := t.Slug

	// Un entry puede pasar a drain entre el lookup y el refCount++;
	// en ese caso se reintenta contra un pool fresco.
	for attempt := 0; attempt < 3; attempt++ {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			return nil, ErrClosed
		}
		e, ok := m.entries[slug]
		m.mu.RUnlock()

		if ok {
			if l := m.tryLease(e); l != nil {
				return l, nil
			}
			// entry drenando: dejar que el cold path cree uno nuevo
		}

		// Cold path. La creación corre desacoplada del contexto del
		// caller: la cancelación de quien llegó primero no aborta la
		// construcción para los demás en vuelo.
		ch := m.sf.DoChan(slug, func() (any, error) {
			return m.createEntry(context.WithoutCancel(ctx), t)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			e := res.Val.(*entry)
			if l := m.tryLease(e); l != nil {
				return l, nil
			}
			// recién creado y ya drenando (Evict concurrente): reintentar
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("tenantsql: no se pudo adquirir pool para %q", slug)
}

// tryLease toma una referencia sobre el entry si sigue usable.
func (m *Manager) tryLease(e *entry) *Lease {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drain {
		return nil
	}
	e.refCount++
	e.lastUsed = time.Now()
	return &Lease{m: m, e: e}
}

// createEntry construye el pool bajo singleflight. Reserva un slot del
// techo antes de abrir la conexión; si no hay slot, evicta el pool LRU
// sin referencias o espera a que alguno se libere.
func (m *Manager) createEntry(ctx context.Context, t *controlplane.Tenant) (*entry, error) {
	if err := m.reserveSlot(ctx); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	start := time.Now()
	store, err := m.open(cctx, t)
	if err != nil {
		m.releaseSlot()
		return nil, fmt.Errorf("tenantsql: abrir pool de %q: %w", t.Slug, err)
	}

	e := &entry{slug: t.Slug, store: store, lastUsed: time.Now()}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		store.Close()
		m.releaseSlot()
		return nil, ErrClosed
	}
	m.entries[t.Slug] = e
	total := len(m.entries)
	m.mu.Unlock()

	m.log.Info("pool de tenant listo",
		logger.TenantSlug(t.Slug),
		logger.DurationMs(time.Since(start).Milliseconds()),
		logger.Int("pools_vivos", total),
	)
	return e, nil
}

// reserveSlot toma un slot del techo global. Con el techo lleno intenta
// evictar el pool menos usado recientemente sin referencias; si todos
// están en uso, espera con timeout a que algún Release libere uno.
func (m *Manager) reserveSlot(ctx context.Context) error {
	deadline := time.NewTimer(m.acquireTimeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.slotsUsed < m.maxPools {
			m.slotsUsed++
			m.mu.Unlock()
			return nil
		}

		if victim := m.lruIdleLocked(); victim != nil {
			// El slot del victim pasa directo al pool nuevo.
			delete(m.entries, victim.slug)
			m.mu.Unlock()
			victim.store.Close()
			m.evicted(victim.slug, "lru")
			return nil
		}

		ch := m.notify
		m.mu.Unlock()

		select {
		case <-ch:
			// algún refcount llegó a 0 o se liberó un slot; reintentar
		case <-deadline.C:
			return ErrCeilingTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// lruIdleLocked elige el entry con lastUsed más viejo entre los que no
// tienen referencias. Lo marca drain y lo saca de juego; el caller
// cierra el store fuera del lock global. Requiere m.mu tomado.
func (m *Manager) lruIdleLocked() *entry {
	var victim *entry
	var oldest time.Time
	for _, e := range m.entries {
		e.mu.Lock()
		idle := e.refCount == 0 && !e.drain
		last := e.lastUsed
		e.mu.Unlock()
		if !idle {
			continue
		}
		if victim == nil || last.Before(oldest) {
			victim = e
			oldest = last
		}
	}
	if victim != nil {
		victim.mu.Lock()
		// re-check: pudo ganar una referencia entre los dos locks
		if victim.refCount != 0 || victim.drain {
			victim.mu.Unlock()
			return nil
		}
		victim.drain = true
		victim.mu.Unlock()
	}
	return victim
}

// releaseSlot devuelve un slot y despierta a los que esperan por uno.
func (m *Manager) releaseSlot() {
	m.mu.Lock()
	if m.slotsUsed > 0 {
		m.slotsUsed--
	}
	m.notifyLocked()
	m.mu.Unlock()
}

// notifyLocked broadcast barato: cerrar el canal despierta a todos los
// select bloqueados; se reemplaza por uno nuevo para la próxima ronda.
func (m *Manager) notifyLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// release es el camino de Lease.Release.
func (m *Manager) release(e *entry) {
	e.mu.Lock()
	if e.refCount > 0 {
		e.refCount--
	}
	e.lastUsed = time.Now()
	destroy := e.drain && e.refCount == 0
	idleNow := e.refCount == 0
	e.mu.Unlock()

	if destroy {
		m.removeEntry(e)
		e.store.Close()
		m.releaseSlot()
		m.evicted(e.slug, "drain")
		return
	}
	if idleNow {
		// un pool sin referencias habilita la evicción LRU
		m.mu.Lock()
		m.notifyLocked()
		m.mu.Unlock()
	}
}

// removeEntry saca el entry del mapa solo si sigue siendo el registrado
// (puede haber sido reemplazado por un pool nuevo del mismo slug).
func (m *Manager) removeEntry(e *entry) {
	m.mu.Lock()
	if cur, ok := m.entries[e.slug]; ok && cur == e {
		delete(m.entries, e.slug)
	}
	m.mu.Unlock()
}

// Evict cierra el pool del tenant si existe. Con requests in-flight el
// cierre se difiere al último Release; los requests nuevos ya no lo ven.
// Se llama tras mutaciones administrativas (suspend, delete, cambio de DSN).
func (m *Manager) Evict(slug string) bool {
	m.mu.Lock()
	e, ok := m.entries[slug]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, slug)
	m.mu.Unlock()

	e.mu.Lock()
	e.drain = true
	busy := e.refCount > 0
	e.mu.Unlock()

	if busy {
		m.log.Info("pool en drain, cierre diferido", logger.TenantSlug(slug))
		return true
	}
	e.store.Close()
	m.releaseSlot()
	m.evicted(slug, "admin")
	return true
}

// sweepLoop cierra periódicamente pools sin uso por más de idleTTL.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.sweepIdle(time.Now()); n > 0 {
				m.log.Info("pools ociosos cerrados", logger.Count(n))
			}
		case <-m.stopSweep:
			return
		}
	}
}

// sweepIdle cierra los pools cuya inactividad supera idleTTL.
func (m *Manager) sweepIdle(now time.Time) int {
	m.mu.RLock()
	candidates := make([]*entry, 0)
	for _, e := range m.entries {
		e.mu.Lock()
		if e.refCount == 0 && !e.drain && now.Sub(e.lastUsed) > m.idleTTL {
			candidates = append(candidates, e)
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	closed := 0
	for _, e := range candidates {
		e.mu.Lock()
		// re-check: pudo ganar tráfico desde el escaneo
		if e.refCount != 0 || e.drain || now.Sub(e.lastUsed) <= m.idleTTL {
			e.mu.Unlock()
			continue
		}
		e.drain = true
		e.mu.Unlock()

		m.removeEntry(e)
		e.store.Close()
		m.releaseSlot()
		m.evicted(e.slug, "idle")
		closed++
	}
	return closed
}

func (m *Manager) evicted(slug, reason string) {
	m.log.Info("pool evictado", logger.TenantSlug(slug), logger.String("reason", reason))
	if m.onEvict != nil {
		m.onEvict(slug, reason)
	}
}

// PoolCount retorna el número de pools registrados.
func (m *Manager) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats devuelve un snapshot por tenant para el collector de métricas.
func (m *Manager) Stats() map[string]PoolStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PoolStat, len(m.entries))
	for slug, e := range m.entries {
		e.mu.Lock()
		ps := PoolStat{Tenant: slug, RefCount: e.refCount, LastUsed: e.lastUsed}
		e.mu.Unlock()
		if stat := e.store.PoolStats(); stat != nil {
			ps.Acquired = stat.AcquiredConns()
			ps.Idle = stat.IdleConns()
			ps.Total = stat.TotalConns()
		}
		out[slug] = ps
	}
	return out
}

// Close apaga el Manager: detiene el barrido y cierra todos los pools.
// Pools con requests in-flight quedan en drain y cierran al liberarse.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*entry)
	m.notifyLocked()
	m.mu.Unlock()

	if m.sweepInterval > 0 {
		close(m.stopSweep)
		<-m.sweepDone
	}

	for _, e := range entries {
		e.mu.Lock()
		e.drain = true
		busy := e.refCount > 0
		e.mu.Unlock()
		if !busy {
			e.store.Close()
			m.evicted(e.slug, "shutdown")
		}
	}
	return nil
}
