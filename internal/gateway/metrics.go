// ABOUTME: Prometheus metrics for the gateway HTTP surface and change feed
// ABOUTME: Registered on a per-gateway registry so several gateways can coexist in one process

package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inserts          *prometheus.CounterVec
	duplicateInserts prometheus.Counter
	rateLimited      prometheus.Counter
	uploads          *prometheus.CounterVec
	connections      prometheus.Gauge
	subscriptions    prometheus.Gauge
	presenceMembers  prometheus.Gauge
	slowConsumers    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatroom_http_request_duration_seconds",
			Help:    "HTTP request duration seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		inserts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_inserts_total",
			Help: "Rows inserted by table",
		}, []string{"table"}),
		duplicateInserts: f.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_duplicate_inserts_total",
			Help: "Inserts answered with an existing row because the client_id was already used",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_rate_limited_total",
			Help: "Inserts rejected by the per-client rate limit",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_uploads_total",
			Help: "Blob uploads by result",
		}, []string{"result"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatroom_realtime_connections",
			Help: "Open websocket connections",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatroom_realtime_subscriptions",
			Help: "Joined topics across all websocket connections",
		}),
		presenceMembers: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatroom_presence_members",
			Help: "Distinct users present across all rooms",
		}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_realtime_slow_consumers_total",
			Help: "Websocket connections closed because they fell behind",
		}),
	}
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// middleware records request counts and durations labelled by route template.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		// websocket upgrades need the raw writer for hijacking
		if route == "/realtime/v1/websocket" {
			m.requests.WithLabelValues(route, r.Method, "101").Inc()
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
