package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	BarsTotal        prometheus.Counter
	FormingBarsTotal prometheus.Counter
	ResultsTotal     *prometheus.CounterVec // labels: kind
	ComputeDur       prometheus.Histogram
	RedisWriteDur    prometheus.Histogram
	SQLiteCommitDur  prometheus.Histogram
	ResultLag        prometheus.Gauge

	// Active series tracking
	SeriesActive prometheus.Gauge

	// Ring buffer overflow (forming-bar ingress)
	RingBufOverflow prometheus.Counter

	// PEL reclaim
	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Snapshot / reload lifecycle
	SnapshotsTotal prometheus.Counter
	ReloadsTotal   prometheus.Counter

	// WebSocket fanout
	WSClients prometheus.Gauge
	WSDropped prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_bars_total",
			Help: "Total closed bars consumed from Redis Streams",
		}),
		FormingBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_forming_bars_total",
			Help: "Total forming-bar repaint ticks processed",
		}),
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_results_total",
			Help: "Total indicator values computed (by kind)",
		}, []string{"kind"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_compute_duration_seconds",
			Help:    "Indicator compute latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_redis_write_duration_seconds",
			Help:    "Redis result batch write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		ResultLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_result_lag_seconds",
			Help: "EWMA lag between bar close and result emission",
		}),

		SeriesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_series_active",
			Help: "Number of symbol:interval series with live indicator state",
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ringbuf_overflow_total",
			Help: "Forming-bar ring buffer push overflows (dropped ticks)",
		}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_buffered_writes_total",
			Help: "Results buffered locally during Redis circuit breaker open state",
		}),

		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_snapshots_total",
			Help: "Engine snapshots persisted",
		}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_reloads_total",
			Help: "Indicator spec reloads applied",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_ws_clients",
			Help: "Currently connected WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ws_dropped_total",
			Help: "Messages dropped due to slow WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.BarsTotal,
		m.FormingBarsTotal,
		m.ResultsTotal,
		m.ComputeDur,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.ResultLag,
		m.SeriesActive,
		m.RingBufOverflow,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.SnapshotsTotal,
		m.ReloadsTotal,
		m.WSClients,
		m.WSDropped,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	SQLiteOK       bool
	ConsumerOK     bool
	LastBarTime    time.Time
	Specs          []string

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetConsumerOK(v bool) {
	h.mu.Lock()
	h.ConsumerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSpecs(specs []string) {
	h.mu.Lock()
	h.Specs = specs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK || !h.ConsumerOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Bar age
	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		ConsumerOK      bool     `json:"consumer_ok"`
		LastBarTime     string   `json:"last_bar_time"`
		BarAge          string   `json:"bar_age"`
		Specs           []string `json:"specs"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		ConsumerOK:      h.ConsumerOK,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		Specs:           h.Specs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle registers an additional route. Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleFunc registers an additional route. Must be called before Start.
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
