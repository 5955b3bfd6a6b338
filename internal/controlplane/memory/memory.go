// Package memory implementa un Provider en memoria.
// Pensado para desarrollo local y tests; no persiste nada.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cp "github.com/dropDatabas3/aulaflow/internal/controlplane"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
)

var slugRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

type Provider struct {
	mu      sync.RWMutex
	bySlug  map[string]*cp.Tenant
	deleted map[string]struct{} // slugs reservados por soft-delete
}

func New() *Provider {
	return &Provider{
		bySlug:  make(map[string]*cp.Tenant),
		deleted: make(map[string]struct{}),
	}
}

// Seed inserta un tenant ya armado (solo tests/bootstrap).
func (p *Provider) Seed(t *cp.Tenant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := *t
	p.bySlug[t.Slug] = &clone
}

func (p *Provider) GetTenant(ctx context.Context, key string) (*cp.Tenant, error) {
	key = strings.TrimSpace(key)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.bySlug[key]; ok {
		clone := *t
		return &clone, nil
	}
	for _, t := range p.bySlug {
		if t.ID == key {
			clone := *t
			return &clone, nil
		}
	}
	return nil, cp.ErrTenantNotFound
}

func (p *Provider) ListTenants(ctx context.Context) ([]*cp.Tenant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*cp.Tenant, 0, len(p.bySlug))
	for _, t := range p.bySlug {
		clone := *t
		out = append(out, &clone)
	}
	return out, nil
}

func (p *Provider) CreateTenant(ctx context.Context, req cp.TenantCreateRequest) (*cp.Tenant, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	name := strings.TrimSpace(req.Name)
	if name == "" || !slugRE.MatchString(slug) {
		return nil, cp.ErrInvalidInput
	}

	// Misma semántica que el provider pg: la DSN custom se guarda cifrada.
	var dsnEnc string
	if strings.TrimSpace(req.DSN) != "" {
		enc, err := secretbox.Encrypt(req.DSN)
		if err != nil {
			return nil, fmt.Errorf("controlplane/memory: encrypt dsn: %w", err)
		}
		dsnEnc = enc
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bySlug[slug]; ok {
		return nil, cp.ErrSlugTaken
	}
	if _, ok := p.deleted[slug]; ok {
		return nil, cp.ErrSlugTaken
	}

	dbName := strings.TrimSpace(req.DatabaseName)
	if dbName == "" {
		dbName = "aulaflow_" + strings.ReplaceAll(slug, "-", "_")
	}
	// database_name es UNIQUE en el esquema pg; acá hay que chequearlo a mano.
	for _, other := range p.bySlug {
		if other.DatabaseName == dbName {
			return nil, cp.ErrSlugTaken
		}
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
	p.bySlug[slug] = t
	clone := *t
	return &clone, nil
}

func (p *Provider) UpdateStatus(ctx context.Context, key string, status cp.TenantStatus) (*cp.Tenant, error) {
	if !status.Valid() {
		return nil, cp.ErrInvalidInput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.lookupLocked(key)
	if t == nil {
		return nil, cp.ErrTenantNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	clone := *t
	return &clone, nil
}

func (p *Provider) SoftDelete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.lookupLocked(key)
	if t == nil {
		return cp.ErrTenantNotFound
	}
	delete(p.bySlug, t.Slug)
	p.deleted[t.Slug] = struct{}{}
	return nil
}

func (p *Provider) Ping(ctx context.Context) error { return nil }

func (p *Provider) lookupLocked(key string) *cp.Tenant {
	key = strings.TrimSpace(key)
	if t, ok := p.bySlug[key]; ok {
		return t
	}
	for _, t := range p.bySlug {
		if t.ID == key {
			return t
		}
	}
	return nil
}
