// internal/controlplane/types.go
package controlplane

import "time"

// TenantStatus define el estado operativo de un tenant.
type TenantStatus string

const (
	StatusActive    TenantStatus = "active"
	StatusSuspended TenantStatus = "suspended"
	StatusInactive  TenantStatus = "inactive"
)

// Valid indica si el string corresponde a un estado conocido.
func (s TenantStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// Tenant representa un arrendatario (aislamiento físico: una base por tenant).
type Tenant struct {
	// UUID en string (evita acoplar el tipo al driver). Validar formato al cargar.
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Slug         string       `json:"slug" yaml:"slug"` // único e inmutable; usado en subdominios/headers
	DatabaseName string       `json:"databaseName" yaml:"databaseName"`
	NodeNumber   int          `json:"nodeNumber" yaml:"nodeNumber"` // shard/host donde vive la base
	Status       TenantStatus `json:"status" yaml:"status"`
	CreatedAt    time.Time    `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt" yaml:"updatedAt"`
	Settings     Settings     `json:"settings" yaml:"settings"`
}

// Settings: overrides opcionales de conexión por tenant.
type Settings struct {
	// DSNEnc: DSN completa cifrada con secretbox. Si está presente, tiene
	// prioridad sobre la plantilla global de DSN.
	DSNEnc string `json:"dsnEnc,omitempty" yaml:"dsnEnc,omitempty"`

	// Tuning del pool por tenant (0 => usar defaults globales).
	MaxConns int `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
	MinConns int `json:"minConns,omitempty" yaml:"minConns,omitempty"`
}

// IsActive indica si el tenant puede recibir tráfico.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == StatusActive
}

// ---- DTOs Admin API (payloads crudos) ----

type TenantCreateRequest struct {
	Name string `json:"name" yaml:"name"`
	Slug string `json:"slug" yaml:"slug"`
	// DatabaseName opcional; si falta se deriva de slug.
	DatabaseName string `json:"databaseName,omitempty" yaml:"databaseName,omitempty"`
	NodeNumber   int    `json:"nodeNumber,omitempty" yaml:"nodeNumber,omitempty"`
	// DSN opcional; se cifra al persistir.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}
