package http

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/aulaflow/internal/infra/tenantsql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	// Tenant pool metrics
	tenantPoolEvictions *prometheus.CounterVec
)

// MetricsConfig agrupa dependencias necesarias para exponer /metrics.
type MetricsConfig struct {
	Registry      prometheus.Registerer
	TenantManager *tenantsql.Manager
	ControlPool   func() *pgxpool.Pool
}

// RegisterMetrics inicializa las métricas HTTP y registra un collector para
// los pools de base (control + tenants). Devuelve el handler para /metrics.
func RegisterMetrics(cfg MetricsConfig) (http.Handler, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo por método y ruta",
		}, []string{"method", "path"})

		tenantPoolEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_pool_evictions_total",
			Help: "Pools de tenant cerrados por motivo",
		}, []string{"reason"}) // reason: lru|idle|admin|drain|shutdown

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight, tenantPoolEvictions,
		} {
			if err := registerCollector(registry, c); err != nil {
				metricsErr = err
				return
			}
		}
	})
	if metricsErr != nil {
		return nil, metricsErr
	}

	if cfg.TenantManager != nil || cfg.ControlPool != nil {
		collector := newDBPoolCollector(cfg.ControlPool, cfg.TenantManager)
		if err := registerCollector(registry, collector); err != nil {
			return nil, err
		}
	}

	// Usamos el gatherer global por compatibilidad, ya que las métricas se registran allí.
	return promhttp.Handler(), nil
}

// RecordEviction es el callback para tenantsql.Config.OnEvict.
func RecordEviction(slug, reason string) {
	if tenantPoolEvictions != nil {
		tenantPoolEvictions.WithLabelValues(reason).Inc()
	}
}

// WithMetrics instrumenta requests HTTP con métricas Prometheus.
func WithMetrics(next http.Handler) http.Handler {
	if next == nil {
		return nil
	}
	if httpRequestsTotal == nil || httpRequestDuration == nil || httpInflight == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)

		httpInflight.WithLabelValues(method, pathLabel).Inc()
		start := time.Now()

		rec := &metricsRecorder{ResponseWriter: w}
		defer func() {
			httpInflight.WithLabelValues(method, pathLabel).Dec()
			duration := time.Since(start).Seconds()
			httpRequestDuration.WithLabelValues(method, pathLabel).Observe(duration)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (m *metricsRecorder) WriteHeader(code int) {
	if m.status == 0 {
		m.status = code
	}
	m.ResponseWriter.WriteHeader(code)
}

// registerCollector registra el collector en el registry indicado, ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// dbPoolCollector expone gauges para el pool de control y los pools por tenant.
type dbPoolCollector struct {
	tenantMgr   *tenantsql.Manager
	controlPool func() *pgxpool.Pool

	tenantCountDesc    *prometheus.Desc
	tenantAcquiredDesc *prometheus.Desc
	tenantIdleDesc     *prometheus.Desc
	tenantTotalDesc    *prometheus.Desc
	tenantRefsDesc     *prometheus.Desc

	controlAcquiredDesc *prometheus.Desc
	controlIdleDesc     *prometheus.Desc
	controlTotalDesc    *prometheus.Desc
}

func newDBPoolCollector(control func() *pgxpool.Pool, mgr *tenantsql.Manager) *dbPoolCollector {
	return &dbPoolCollector{
		tenantMgr:           mgr,
		controlPool:         control,
		tenantCountDesc:     prometheus.NewDesc("tenant_pool_count", "Cantidad de pools de tenants activos", nil, nil),
		tenantAcquiredDesc:  prometheus.NewDesc("tenant_pgxpool_acquired", "Conexiones adquiridas por tenant", []string{"tenant"}, nil),
		tenantIdleDesc:      prometheus.NewDesc("tenant_pgxpool_idle", "Conexiones inactivas por tenant", []string{"tenant"}, nil),
		tenantTotalDesc:     prometheus.NewDesc("tenant_pgxpool_total", "Conexiones totales por tenant", []string{"tenant"}, nil),
		tenantRefsDesc:      prometheus.NewDesc("tenant_pool_refcount", "Requests in-flight sosteniendo el pool", []string{"tenant"}, nil),
		controlAcquiredDesc: prometheus.NewDesc("pg_control_acquired", "Conexiones adquiridas del pool de control", nil, nil),
		controlIdleDesc:     prometheus.NewDesc("pg_control_idle", "Conexiones inactivas del pool de control", nil, nil),
		controlTotalDesc:    prometheus.NewDesc("pg_control_total", "Conexiones totales del pool de control", nil, nil),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tenantCountDesc
	ch <- c.tenantAcquiredDesc
	ch <- c.tenantIdleDesc
	ch <- c.tenantTotalDesc
	ch <- c.tenantRefsDesc
	ch <- c.controlAcquiredDesc
	ch <- c.controlIdleDesc
	ch <- c.controlTotalDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	var tenantStats map[string]tenantsql.PoolStat
	if c.tenantMgr != nil {
		tenantStats = c.tenantMgr.Stats()
	}
	ch <- prometheus.MustNewConstMetric(c.tenantCountDesc, prometheus.GaugeValue, float64(len(tenantStats)))
	for slug, snapshot := range tenantStats {
		ch <- prometheus.MustNewConstMetric(c.tenantAcquiredDesc, prometheus.GaugeValue, float64(snapshot.Acquired), slug)
		ch <- prometheus.MustNewConstMetric(c.tenantIdleDesc, prometheus.GaugeValue, float64(snapshot.Idle), slug)
		ch <- prometheus.MustNewConstMetric(c.tenantTotalDesc, prometheus.GaugeValue, float64(snapshot.Total), slug)
		ch <- prometheus.MustNewConstMetric(c.tenantRefsDesc, prometheus.GaugeValue, float64(snapshot.RefCount), slug)
	}

	if c.controlPool != nil {
		if pool := c.controlPool(); pool != nil {
			if stat := pool.Stat(); stat != nil {
				ch <- prometheus.MustNewConstMetric(c.controlAcquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
				ch <- prometheus.MustNewConstMetric(c.controlIdleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
				ch <- prometheus.MustNewConstMetric(c.controlTotalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
			}
		}
	}
}

var (
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	hexSegmentRE   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)
)

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	clean := strings.SplitN(p, "?", 2)[0]
	if clean == "" {
		return "/"
	}
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}

	segments := strings.Split(clean, "/")
	var out []string
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isDynamicSegment(seg) {
			out = append(out, ":param")
		} else {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func isDynamicSegment(seg string) bool {
	if len(seg) > 48 {
		return true
	}
	if uuidSegmentRE.MatchString(seg) {
		return true
	}
	if hexSegmentRE.MatchString(seg) {
		return true
	}
	if tokenSegmentRE.MatchString(seg) {
		return true
	}
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	return false
}
