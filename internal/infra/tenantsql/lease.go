package tenantsql

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Lease es una referencia viva sobre el pool de un tenant. Mientras el
// Lease no se libere, el Manager no cierra el pool por evicción ni por
// barrido de ociosos.
type Lease struct {
	m    *Manager
	e    *entry
	once sync.Once
}

// Pool expone el pgxpool del tenant para ejecutar queries.
func (l *Lease) Pool() *pgxpool.Pool {
	return l.e.store.Pool()
}

// Store expone el store subyacente (ping, stats).
func (l *Lease) Store() Store {
	return l.e.store
}

// Tenant retorna el slug del tenant dueño del pool.
func (l *Lease) Tenant() string {
	return l.e.slug
}

// Release devuelve la referencia. Idempotente: llamadas repetidas no
// corrompen el refcount. Si el pool estaba en drain y esta era la última
// referencia, acá se cierra.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.release(l.e)
	})
}
