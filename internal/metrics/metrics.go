// Package metrics registra y expone las métricas Prometheus del servicio.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	gateDecisionsTotal *prometheus.CounterVec
	authzDenialsTotal  *prometheus.CounterVec
)

// Register inicializa las métricas en el registry indicado (o el global)
// y devuelve el handler para /metrics. Safe de llamar más de una vez.
func Register(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	registerOnce.Do(func() {
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

		gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Decisiones del gate de admin por resultado",
		}, []string{"outcome"}) // outcome: allowed|missing_cookie|invalid_token

		authzDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Denegaciones del authorizer server-side",
		}, []string{"kind"}) // kind: csrf|session|not_admin|role

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
			gateDecisionsTotal, authzDenialsTotal,
		} {
			if err := register(registry, c); err != nil {
				registerErr = err
				return
			}
		}
	})
	if registerErr != nil {
		return nil, registerErr
	}
	return promhttp.Handler(), nil
}

// RegisterPool agrega un collector de conexiones para el pool global.
func RegisterPool(registry prometheus.Registerer, pool func() *pgxpool.Pool) error {
	if pool == nil {
		return nil
	}
	return register(registry, newPoolCollector(pool))
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// GateCounter implementa el sink de decisiones del gate.
type GateCounter struct{}

func (GateCounter) GateDecision(outcome string) {
	if gateDecisionsTotal != nil {
		gateDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordAuthzDenial cuenta una denegación del authorizer.
func RecordAuthzDenial(kind string) {
	if authzDenialsTotal != nil {
		authzDenialsTotal.WithLabelValues(kind).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// WithHTTP instrumenta requests con contadores, latencia e inflight.
func WithHTTP(next http.Handler) http.Handler {
	if next == nil {
		return nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		method := strings.ToUpper(r.Method)
		path := normalizePath(r.URL.Path)

		httpInflight.WithLabelValues(method, path).Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			httpInflight.WithLabelValues(method, path).Dec()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}

// normalizePath colapsa segmentos dinámicos (ids, uuids) para no explotar
// la cardinalidad de labels.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	segments := strings.Split(strings.SplitN(p, "?", 2)[0], "/")
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
	if len(seg) >= 32 {
		return true
	}
	// uuid con guiones
	if len(seg) == 36 && strings.Count(seg, "-") == 4 {
		return true
	}
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	return false
}

type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}
