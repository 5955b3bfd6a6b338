package controlplane

import (
	"context"
	"errors"
)

var (
	// ErrTenantNotFound: el tenant no existe (o fue soft-deleted).
	ErrTenantNotFound = errors.New("controlplane: tenant not found")
	// ErrSlugTaken: el slug o database_name ya están en uso (únicos, no se reusan).
	ErrSlugTaken = errors.New("controlplane: slug or database name already in use")
	// ErrInvalidInput: payload de creación/mutación inválido.
	ErrInvalidInput = errors.New("controlplane: invalid input")
)

// Provider es la fuente autoritativa de metadata de tenants (control database).
// Las implementaciones deben resolver tanto slug como id en GetTenant.
type Provider interface {
	// GetTenant busca por slug o por id. Los tenants soft-deleted son un miss.
	GetTenant(ctx context.Context, key string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	CreateTenant(ctx context.Context, req TenantCreateRequest) (*Tenant, error)
	// UpdateStatus cambia el estado (active|suspended|inactive).
	UpdateStatus(ctx context.Context, key string, status TenantStatus) (*Tenant, error)
	// SoftDelete marca el tenant como borrado. El slug y database_name no se
	// liberan: quedan reservados para siempre.
	SoftDelete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
