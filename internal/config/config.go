package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
		// debug | info | warn | error
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	// ControlPlane: base de datos del registro de tenants.
	ControlPlane struct {
		DSN      string `yaml:"dsn"`
		Migrate  bool   `yaml:"migrate"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"control_plane"`

	// Tenancy: resolución de tenant y ruteo de conexiones.
	Tenancy struct {
		// Header del que se lee la clave del tenant (prioridad 1).
		HeaderName string `yaml:"header_name"`
		// Dominio raíz para extraer el subdominio (prioridad 2).
		// Ej: "aulaflow.io" => "acme.aulaflow.io" resuelve "acme".
		RootDomain string `yaml:"root_domain"`
		// Template de DSN para las bases de tenant. El placeholder
		// {database} se reemplaza por el database_name del tenant.
		DSNTemplate string `yaml:"dsn_template"`

		Pools struct {
			// Máximo de pools vivos simultáneos.
			MaxPools int `yaml:"max_pools"`
			// TTL de inactividad antes de cerrar un pool sin uso.
			IdleTTL string `yaml:"idle_ttl"`
			// Intervalo del barrido de pools ociosos.
			SweepInterval string `yaml:"sweep_interval"`
			// Tiempo máximo de espera por un slot cuando se alcanza MaxPools.
			AcquireTimeout string `yaml:"acquire_timeout"`
			// Timeout de construcción de un pool nuevo (conexión + ping).
			ConnectTimeout string `yaml:"connect_timeout"`
			// Conexiones por pool de tenant (si el tenant no define las suyas).
			MaxConnsPerPool int32 `yaml:"max_conns_per_pool"`
			MinConnsPerPool int32 `yaml:"min_conns_per_pool"`
		} `yaml:"pools"`

		Directory struct {
			// TTL de registros de tenant cacheados.
			TTL string `yaml:"ttl"`
			// TTL corto para claves que no existen (cache negativo).
			NegativeTTL string `yaml:"negative_ttl"`
		} `yaml:"directory"`
	} `yaml:"tenancy"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	JWT struct {
		// Secreto HMAC para validar tokens cuyo claim "tid" resuelve tenant.
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`

	Admin struct {
		// Hash argon2id (formato PHC) de la API key de administración.
		APIKeyHash string `yaml:"api_key_hash"`
	} `yaml:"admin"`

	Security struct {
		// base64(32 bytes) para cifrar DSNs por-tenant en el registro.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromEnv construye la configuración solo desde variables de entorno,
// sin archivo YAML. Útil en contenedores.
func LoadFromEnv() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "20s"
	}
	if c.ControlPlane.MaxConns == 0 {
		c.ControlPlane.MaxConns = 8
	}
	if c.Tenancy.HeaderName == "" {
		c.Tenancy.HeaderName = "X-Tenant-ID"
	}
	if c.Tenancy.Pools.MaxPools == 0 {
		c.Tenancy.Pools.MaxPools = 50
	}
	if c.Tenancy.Pools.IdleTTL == "" {
		c.Tenancy.Pools.IdleTTL = "10m"
	}
	if c.Tenancy.Pools.SweepInterval == "" {
		c.Tenancy.Pools.SweepInterval = "1m"
	}
	if c.Tenancy.Pools.AcquireTimeout == "" {
		c.Tenancy.Pools.AcquireTimeout = "5s"
	}
	if c.Tenancy.Pools.ConnectTimeout == "" {
		c.Tenancy.Pools.ConnectTimeout = "10s"
	}
	if c.Tenancy.Pools.MaxConnsPerPool == 0 {
		c.Tenancy.Pools.MaxConnsPerPool = 10
	}
	if c.Tenancy.Pools.MinConnsPerPool == 0 {
		c.Tenancy.Pools.MinConnsPerPool = 1
	}
	if c.Tenancy.Directory.TTL == "" {
		c.Tenancy.Directory.TTL = "2m"
	}
	if c.Tenancy.Directory.NegativeTTL == "" {
		c.Tenancy.Directory.NegativeTTL = "15s"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "aulaflow"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// CONTROL_PLANE
	if v, ok := getEnvStr("CONTROL_PLANE_DSN"); ok {
		c.ControlPlane.DSN = v
	}
	if v, ok := getEnvBool("CONTROL_PLANE_MIGRATE"); ok {
		c.ControlPlane.Migrate = v
	}
	if v, ok := getEnvInt("CONTROL_PLANE_MAX_CONNS"); ok {
		c.ControlPlane.MaxConns = int32(v)
	}

	// TENANCY
	if v, ok := getEnvStr("TENANT_HEADER_NAME"); ok {
		c.Tenancy.HeaderName = v
	}
	if v, ok := getEnvStr("TENANT_ROOT_DOMAIN"); ok {
		c.Tenancy.RootDomain = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("TENANT_DSN_TEMPLATE"); ok {
		c.Tenancy.DSNTemplate = v
	}
	if v, ok := getEnvInt("TENANT_MAX_POOLS"); ok {
		c.Tenancy.Pools.MaxPools = v
	}
	if v, ok := getEnvStr("TENANT_POOL_IDLE_TTL"); ok {
		c.Tenancy.Pools.IdleTTL = v
	}
	if v, ok := getEnvStr("TENANT_POOL_SWEEP_INTERVAL"); ok {
		c.Tenancy.Pools.SweepInterval = v
	}
	if v, ok := getEnvStr("TENANT_POOL_ACQUIRE_TIMEOUT"); ok {
		c.Tenancy.Pools.AcquireTimeout = v
	}
	if v, ok := getEnvStr("TENANT_POOL_CONNECT_TIMEOUT"); ok {
		c.Tenancy.Pools.ConnectTimeout = v
	}
	if v, ok := getEnvInt("TENANT_POOL_MAX_CONNS"); ok {
		c.Tenancy.Pools.MaxConnsPerPool = int32(v)
	}
	if v, ok := getEnvInt("TENANT_POOL_MIN_CONNS"); ok {
		c.Tenancy.Pools.MinConnsPerPool = int32(v)
	}
	if v, ok := getEnvStr("TENANT_DIRECTORY_TTL"); ok {
		c.Tenancy.Directory.TTL = v
	}
	if v, ok := getEnvStr("TENANT_DIRECTORY_NEGATIVE_TTL"); ok {
		c.Tenancy.Directory.NegativeTTL = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.JWT.Secret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}

	// ADMIN
	if v, ok := getEnvStr("ADMIN_API_KEY_HASH"); ok {
		c.Admin.APIKeyHash = v
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
}

// Validate valida los valores críticos de la configuración.
func (c *Config) Validate() error {
	if c.ControlPlane.DSN == "" {
		return fmt.Errorf("config: control_plane.dsn es requerido")
	}
	if c.Tenancy.DSNTemplate == "" {
		return fmt.Errorf("config: tenancy.dsn_template es requerido")
	}
	if !strings.Contains(c.Tenancy.DSNTemplate, "{database}") {
		return fmt.Errorf("config: tenancy.dsn_template debe contener el placeholder {database}")
	}
	if c.Tenancy.Pools.MaxPools < 1 {
		return fmt.Errorf("config: tenancy.pools.max_pools debe ser >= 1")
	}

	// validate string durations
	for name, s := range map[string]string{
		"server.read_timeout":            c.Server.ReadTimeout,
		"server.write_timeout":           c.Server.WriteTimeout,
		"server.shutdown_timeout":        c.Server.ShutdownTimeout,
		"tenancy.pools.idle_ttl":         c.Tenancy.Pools.IdleTTL,
		"tenancy.pools.sweep_interval":   c.Tenancy.Pools.SweepInterval,
		"tenancy.pools.acquire_timeout":  c.Tenancy.Pools.AcquireTimeout,
		"tenancy.pools.connect_timeout":  c.Tenancy.Pools.ConnectTimeout,
		"tenancy.directory.ttl":          c.Tenancy.Directory.TTL,
		"tenancy.directory.negative_ttl": c.Tenancy.Directory.NegativeTTL,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s inválido: %w", name, err)
		}
	}
	return nil
}

// ---- Accessors de duración (ya validadas en Load) ----

func mustDur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) PoolIdleTTL() time.Duration      { return mustDur(c.Tenancy.Pools.IdleTTL, 10*time.Minute) }
func (c *Config) PoolSweepInterval() time.Duration {
	return mustDur(c.Tenancy.Pools.SweepInterval, time.Minute)
}
func (c *Config) PoolAcquireTimeout() time.Duration {
	return mustDur(c.Tenancy.Pools.AcquireTimeout, 5*time.Second)
}
func (c *Config) PoolConnectTimeout() time.Duration {
	return mustDur(c.Tenancy.Pools.ConnectTimeout, 10*time.Second)
}
func (c *Config) DirectoryTTL() time.Duration { return mustDur(c.Tenancy.Directory.TTL, 2*time.Minute) }
func (c *Config) DirectoryNegativeTTL() time.Duration {
	return mustDur(c.Tenancy.Directory.NegativeTTL, 15*time.Second)
}
func (c *Config) ReadTimeout() time.Duration  { return mustDur(c.Server.ReadTimeout, 15*time.Second) }
func (c *Config) WriteTimeout() time.Duration { return mustDur(c.Server.WriteTimeout, 30*time.Second) }
func (c *Config) ShutdownTimeout() time.Duration {
	return mustDur(c.Server.ShutdownTimeout, 20*time.Second)
}
