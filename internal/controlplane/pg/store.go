// Package pg implementa el Provider del control-plane sobre PostgreSQL.
package pg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	cp "github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
)

var slugRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

const tenantColumns = `id, name, slug, database_name, node_number, status, dsn_enc, max_conns, min_conns, created_at, updated_at`

// Store accede a la tabla tenants de la base de control.
type Store struct {
	pool *pgxpool.Pool
}

// New abre el pool de la base de control y verifica conectividad.
func New(ctx context.Context, dsn string) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("controlplane/pg: parse dsn: %w", err)
	}
	// La base de control recibe poco tráfico: pool chico alcanza.
	if pcfg.MaxConns == 0 || pcfg.MaxConns > 8 {
		pcfg.MaxConns = 8
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("controlplane/pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore envuelve un pool ya abierto. El caller sigue siendo dueño
// del pool y de su cierre.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool expone el pool interno (métricas/migraciones).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// GetTenant busca por slug o id; los soft-deleted no se devuelven nunca.
func (s *Store) GetTenant(ctx context.Context, key string) (*cp.Tenant, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, cp.ErrTenantNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE (slug = $1 OR id::text = $1) AND deleted_at IS NULL`, key)
	return scanTenant(row)
}

func (s *Store) ListTenants(ctx context.Context) ([]*cp.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cp.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTenant(ctx context.Context, req cp.TenantCreateRequest) (*cp.Tenant, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	name := strings.TrimSpace(req.Name)
	if name == "" || !slugRE.MatchString(slug) {
		return nil, cp.ErrInvalidInput
	}

	dbName := strings.TrimSpace(req.DatabaseName)
	if dbName == "" {
		dbName = DeriveDatabaseName(slug)
	}

	var dsnEnc string
	if strings.TrimSpace(req.DSN) != "" {
		enc, err := secretbox.Encrypt(req.DSN)
		if err != nil {
			return nil, fmt.Errorf("controlplane/pg: encrypt dsn: %w", err)
		}
		dsnEnc = enc
	}

	now := time.Now().UTC()
	t := &cp.Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		Slug:         slug,
		DatabaseName: dbName,
		NodeNumber:   req.NodeNumber,
		Status:       cp.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Settings:     cp.Settings{DSNEnc: dsnEnc},
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, database_name, node_number, status, dsn_enc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)`,
		t.ID, t.Name, t.Slug, t.DatabaseName, t.NodeNumber, string(t.Status), dsnEnc, now)
	if err != nil {
		// 23505 = unique_violation: slug o database_name ya reservados
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, cp.ErrSlugTaken
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) UpdateStatus(ctx context.Context, key string, status cp.TenantStatus) (*cp.Tenant, error) {
	if !status.Valid() {
		return nil, cp.ErrInvalidInput
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE tenants
		SET status = $2, updated_at = now()
		WHERE (slug = $1 OR id::text = $1) AND deleted_at IS NULL
		RETURNING `+tenantColumns, strings.TrimSpace(key), string(status))
	return scanTenant(row)
}

func (s *Store) SoftDelete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants
		SET status = $2, deleted_at = now(), updated_at = now()
		WHERE (slug = $1 OR id::text = $1) AND deleted_at IS NULL`,
		strings.TrimSpace(key), string(cp.StatusInactive))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cp.ErrTenantNotFound
	}
	return nil
}

// DeriveDatabaseName construye el nombre de base default para un slug.
// Ej: "acme-corp" -> "aulaflow_acme_corp"
func DeriveDatabaseName(slug string) string {
	return "aulaflow_" + strings.ReplaceAll(slug, "-", "_")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*cp.Tenant, error) {
	var (
		t        cp.Tenant
		status   string
		dsnEnc   *string
		maxConns *int
		minConns *int
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.DatabaseName, &t.NodeNumber,
		&status, &dsnEnc, &maxConns, &minConns, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cp.ErrTenantNotFound
		}
		return nil, err
	}
	t.Status = cp.TenantStatus(status)
	if dsnEnc != nil {
		t.Settings.DSNEnc = *dsnEnc
	}
	if maxConns != nil {
		t.Settings.MaxConns = *maxConns
	}
	if minConns != nil {
		t.Settings.MinConns = *minConns
	}
	return &t, nil
}
