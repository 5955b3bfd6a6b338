package pg

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// controlLockID genera un ID estable para pg_advisory_lock de migraciones.
func controlLockID() int64 {
	h := sha256.Sum256([]byte("control_migration:tenants"))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// RunMigrations aplica los *_up.sql embebidos (orden lexicográfico) sobre la
// base de control, serializando con advisory lock para que varios nodos
// puedan arrancar en paralelo sin pisarse. Devuelve cuántos scripts ejecutó.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string) (int, error) {
	lockID := controlLockID()

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := pool.Exec(lockCtx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return 0, fmt.Errorf("controlplane/pg: acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = pool.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var applied int
	for _, f := range files {
		sql, err := fs.ReadFile(fsys, f)
		if err != nil {
			return applied, err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return applied, fmt.Errorf("controlplane/pg: apply %s: %w", f, err)
		}
		applied++
	}
	return applied, nil
}
