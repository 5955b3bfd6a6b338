package tenant

import (
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Source indica de dónde salió la clave del tenant.
type Source string

const (
	SourceHeader    Source = "header"
	SourceSubdomain Source = "subdomain"
	SourceToken     Source = "token"
)

// Resolution es el resultado de resolver la clave del tenant de un request.
type Resolution struct {
	// Key es el slug o UUID del tenant, normalizado a minúsculas.
	Key    string
	Source Source
}

var (
	// ErrNoTenantKey: ninguna fuente aportó una clave.
	ErrNoTenantKey = errors.New("tenant: request sin clave de tenant")
	// ErrInvalidTenantKey: una fuente aportó una clave con formato inválido.
	ErrInvalidTenantKey = errors.New("tenant: clave de tenant inválida")
)

// keyRE acepta slugs (acme-corp) y UUIDs en minúscula.
// Máximo 63 caracteres, como un label DNS.
var keyRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidKey reporta si key tiene formato de clave de tenant.
func ValidKey(key string) bool {
	return keyRE.MatchString(key)
}

// ClaimFunc extrae la clave de tenant de las credenciales del request
// (típicamente un claim del bearer token). Retorna "" si el request no
// trae credenciales utilizables. Un error indica credenciales presentes
// pero malformadas.
type ClaimFunc func(r *http.Request) (string, error)

// Resolver resuelve la clave del tenant de un request HTTP.
// El orden de precedencia es fijo: header, subdominio, token.
// La primera fuente PRESENTE gana; si su valor es inválido el request
// se rechaza, no se cae a la siguiente fuente.
type Resolver struct {
	headerName string
	rootDomain string
	claim      ClaimFunc
}

// Option configura un Resolver.
type Option func(*Resolver)

// WithHeader define el header del que se lee la clave (default X-Tenant-ID).
func WithHeader(name string) Option {
	return func(rv *Resolver) { rv.headerName = name }
}

// WithRootDomain habilita la resolución por subdominio contra el dominio
// raíz dado. Vacío deshabilita la fuente.
func WithRootDomain(domain string) Option {
	return func(rv *Resolver) { rv.rootDomain = strings.ToLower(strings.TrimSpace(domain)) }
}

// WithClaim habilita la resolución por claim de token.
func WithClaim(fn ClaimFunc) Option {
	return func(rv *Resolver) { rv.claim = fn }
}

// NewResolver crea un Resolver con las opciones dadas.
func NewResolver(opts ...Option) *Resolver {
	rv := &Resolver{headerName: "X-Tenant-ID"}
	for _, opt := range opts {
		opt(rv)
	}
	return rv
}

// Resolve extrae la clave del tenant del request.
func (rv *Resolver) Resolve(r *http.Request) (Resolution, error) {
	// 1. Header explícito
	if raw := strings.TrimSpace(r.Header.Get(rv.headerName)); raw != "" {
		key := strings.ToLower(raw)
		if !ValidKey(key) {
			return Resolution{}, ErrInvalidTenantKey
		}
		return Resolution{Key: key, Source: SourceHeader}, nil
	}

	// 2. Subdominio del Host
	if rv.rootDomain != "" {
		if sub, ok := rv.subdomain(r.Host); ok {
			if !ValidKey(sub) {
				return Resolution{}, ErrInvalidTenantKey
			}
			return Resolution{Key: sub, Source: SourceSubdomain}, nil
		}
	}

	// 3. Claim del token
	if rv.claim != nil {
		key, err := rv.claim(r)
		if err != nil {
			return Resolution{}, ErrInvalidTenantKey
		}
		if key != "" {
			key = strings.ToLower(strings.TrimSpace(key))
			if !ValidKey(key) {
				return Resolution{}, ErrInvalidTenantKey
			}
			return Resolution{Key: key, Source: SourceToken}, nil
		}
	}

	return Resolution{}, ErrNoTenantKey
}

// subdomain extrae el label de tenant de un host "acme.aulaflow.io".
// Hosts que no cuelgan del dominio raíz, el dominio raíz pelado y
// subdominios anidados ("a.b.aulaflow.io") no aportan clave.
func (rv *Resolver) subdomain(host string) (string, bool) {
	if host == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	if host == rv.rootDomain {
		return "", false
	}
	suffix := "." + rv.rootDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	// "www" es tráfico del sitio público, no de un tenant
	if sub == "www" {
		return "", false
	}
	return sub, true
}
