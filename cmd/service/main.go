package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/aulaflow/internal/cache"
	"github.com/dropDatabas3/aulaflow/internal/config"
	"github.com/dropDatabas3/aulaflow/internal/controlplane"
	cppg "github.com/dropDatabas3/aulaflow/internal/controlplane/pg"
	"github.com/dropDatabas3/aulaflow/internal/directory"
	httpserver "github.com/dropDatabas3/aulaflow/internal/http"
	"github.com/dropDatabas3/aulaflow/internal/http/handlers"
	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/dropDatabas3/aulaflow/internal/observability/logger"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
	"github.com/dropDatabas3/aulaflow/internal/store/pg"
	"github.com/dropDatabas3/aulaflow/internal/tenant"
	controlmigrations "github.com/dropDatabas3/aulaflow/migrations/control"
)

var version = "dev"

func main() {
	// .env local (silencioso si no existe)
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "ruta al config.yaml (vacío: solo ENV)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if strings.TrimSpace(*cfgPath) != "" {
		cfg, err = config.Load(*cfgPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		// logger todavía no inicializado
		panic("config: " + err.Error())
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "aulaflow",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	// La master key es obligatoria en prod: sin ella no se pueden leer
	// las DSN cifradas por tenant. La config tiene prioridad; si falta,
	// Init cae al env AULAFLOW_MASTER_KEY.
	if err := secretbox.Init(cfg.Security.SecretBoxMasterKey); err != nil {
		if strings.EqualFold(cfg.App.Env, "prod") {
			log.Fatal("master key de secretbox ausente o inválida en prod", logger.Err(err))
		}
		log.Warn("secretbox sin master key; DSNs cifradas no disponibles", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Control plane ----
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	controlStore, err := pg.New(bootCtx, cfg.ControlPlane.DSN, pg.PoolConfig{
		MaxConns: cfg.ControlPlane.MaxConns,
	})
	if err != nil {
		log.Fatal("conexión a base de control falló", logger.Err(err))
	}
	defer controlStore.Close()

	if cfg.ControlPlane.Migrate {
		n, err := cppg.RunMigrations(bootCtx, controlStore.Pool(), controlmigrations.FS, controlmigrations.Dir)
		if err != nil {
			log.Fatal("migraciones de control fallaron", logger.Err(err))
		}
		log.Info("migraciones de control aplicadas", logger.Count(n))
	}

	var provider controlplane.Provider = cppg.NewStore(controlStore.Pool())

	// ---- Cache + directorio ----
	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Host:     redisHost(cfg.Cache.Redis.Addr),
		Port:     redisPort(cfg.Cache.Redis.Addr),
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		log.Fatal("cache no disponible", logger.Err(err))
	}
	defer func() { _ = cacheClient.Close() }()

	dir := directory.New(provider, cacheClient, directory.Options{
		TTL:         cfg.DirectoryTTL(),
		NegativeTTL: cfg.DirectoryNegativeTTL(),
	})

	// ---- Pools por tenant ----
	pools, err := tenantsql.New(tenantsql.Config{
		Open: tenantsql.Opener(cfg.Tenancy.DSNTemplate, pg.PoolConfig{
			MaxConns:       cfg.Tenancy.Pools.MaxConnsPerPool,
			MinConns:       cfg.Tenancy.Pools.MinConnsPerPool,
			ConnectTimeout: cfg.PoolConnectTimeout(),
		}),
		MaxPools:       cfg.Tenancy.Pools.MaxPools,
		IdleTTL:        cfg.PoolIdleTTL(),
		SweepInterval:  cfg.PoolSweepInterval(),
		AcquireTimeout: cfg.PoolAcquireTimeout(),
		ConnectTimeout: cfg.PoolConnectTimeout(),
		OnEvict:        httpserver.RecordEviction,
	})
	if err != nil {
		log.Fatal("manager de pools no inicializó", logger.Err(err))
	}
	defer func() { _ = pools.Close() }()

	// ---- Resolución de tenant ----
	resolverOpts := []tenant.Option{
		tenant.WithHeader(cfg.Tenancy.HeaderName),
		tenant.WithRootDomain(cfg.Tenancy.RootDomain),
	}
	if s := strings.TrimSpace(cfg.JWT.Secret); s != "" {
		resolverOpts = append(resolverOpts, tenant.WithClaim(tenant.BearerClaim([]byte(s), cfg.JWT.Issuer)))
	}
	resolver := tenant.NewResolver(resolverOpts...)

	// ---- HTTP ----
	metricsHandler, err := httpserver.RegisterMetrics(httpserver.MetricsConfig{
		TenantManager: pools,
		ControlPool:   controlStore.Pool,
	})
	if err != nil {
		log.Fatal("registro de métricas falló", logger.Err(err))
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Resolver:  resolver,
		Directory: dir,
		Pools:     pools,
		Health: &handlers.Health{
			Provider: provider,
			Cache:    cacheClient,
			Pools:    pools,
			Version:  version,
		},
		AdminTenants: &handlers.AdminTenants{
			Provider:  provider,
			Directory: dir,
			Pools:     pools,
		},
		AdminAPIKeyHash: cfg.Admin.APIKeyHash,
		Metrics:         metricsHandler,
	})

	srv := httpserver.NewServer(cfg.Server.Addr, router,
		cfg.ReadTimeout(), cfg.WriteTimeout(), cfg.ShutdownTimeout())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("señal de apagado recibida")
	case err := <-errCh:
		if err != nil {
			log.Error("servidor terminó con error", logger.Err(err))
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Warn("apagado con requests colgados", logger.Err(err))
	}
	log.Info("servicio detenido")
}

// redisHost extrae el host de "host:puerto".
func redisHost(addr string) string {
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// redisPort extrae el puerto de "host:puerto" (0 si no hay).
func redisPort(addr string) int {
	if i := strings.LastIndex(addr, ":"); i > 0 {
		p := 0
		for _, c := range addr[i+1:] {
			if c < '0' || c > '9' {
				return 0
			}
			p = p*10 + int(c-'0')
		}
		return p
	}
	return 0
}
