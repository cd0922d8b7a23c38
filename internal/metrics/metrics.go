package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"classquest-battle/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements app.Recorder with Prometheus collectors.
type Recorder struct {
	registry        *prometheus.Registry
	joins           *prometheus.CounterVec
	answers         *prometheus.CounterVec
	bossDamage      prometheus.Counter
	guildDamage     prometheus.Counter
	transitions     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the battle collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		joins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_joins_total",
				Help: "Join attempts by outcome",
			},
			[]string{"outcome"},
		),
		answers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_answers_total",
				Help: "Graded answers by outcome",
			},
			[]string{"outcome"},
		),
		bossDamage: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_boss_damage_total",
			Help: "Boss HP removed by correct answers",
		}),
		guildDamage: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_guild_damage_total",
			Help: "Guild HP removed by incorrect answers",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_transitions_total",
				Help: "Committed status transitions",
			},
			[]string{"from", "to"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_version_conflicts_total",
				Help: "Optimistic concurrency retries",
			},
			[]string{"op"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
	}
	r.registry.MustRegister(
		r.joins, r.answers, r.bossDamage, r.guildDamage,
		r.transitions, r.conflicts, r.requests, r.requestDuration,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) JoinHandled(outcome string) {
	r.joins.WithLabelValues(outcome).Inc()
}

func (r *Recorder) AnswerGraded(outcome string, bossDamage, guildDamage int) {
	r.answers.WithLabelValues(outcome).Inc()
	if bossDamage > 0 {
		r.bossDamage.Add(float64(bossDamage))
	}
	if guildDamage > 0 {
		r.guildDamage.Add(float64(guildDamage))
	}
}

func (r *Recorder) Transition(from, to domain.BattleStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) Conflict(op string) {
	r.conflicts.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests per route label.
func (r *Recorder) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		r.requests.WithLabelValues(req.Method, endpoint, strconv.Itoa(sw.status)).Inc()
		r.requestDuration.WithLabelValues(req.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
