package game

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session counters exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessionsCreated   prometheus.Counter
	gamesStarted      prometheus.Counter
	gamesCompleted    prometheus.Counter
	captures          *prometheus.CounterVec
	generations       *prometheus.CounterVec
	rejectedActions   *prometheus.CounterVec
	generationSeconds prometheus.Histogram
	waitingSeconds    prometheus.Histogram
	activeSessions    prometheus.Gauge
}

// NewMetrics registers the session metrics with reg. A nil reg uses a
// private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "games_started_total",
			Help:      "Games moved from LANDING to PLAYING.",
		}),
		gamesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "games_completed_total",
			Help:      "Games that reached COMPLETE.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "selfie_captures_total",
			Help:      "Selfie capture attempts by result.",
		}, []string{"result"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "generations_total",
			Help:      "Image generation outcomes by result.",
		}, []string{"result"}),
		rejectedActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "selfie_quiz",
			Name:      "rejected_actions_total",
			Help:      "Player actions rejected as invalid transitions.",
		}, []string{"action"}),
		generationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "selfie_quiz",
			Name:      "generation_duration_seconds",
			Help:      "Latency of remote image generation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}),
		waitingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "selfie_quiz",
			Name:      "waiting_duration_seconds",
			Help:      "Time spent in WAITING before the final question.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "selfie_quiz",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.sessionsCreated,
		m.gamesStarted,
		m.gamesCompleted,
		m.captures,
		m.generations,
		m.rejectedActions,
		m.generationSeconds,
		m.waitingSeconds,
		m.activeSessions,
	)
	return m
}

func (m *Metrics) created() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) removed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) started() {
	if m != nil {
		m.gamesStarted.Inc()
	}
}

func (m *Metrics) completed() {
	if m != nil {
		m.gamesCompleted.Inc()
	}
}

func (m *Metrics) capture(result string) {
	if m != nil {
		m.captures.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) generation(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.generationSeconds.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) rejected(action string) {
	if m != nil {
		m.rejectedActions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) waited(d time.Duration) {
	if m != nil {
		m.waitingSeconds.Observe(d.Seconds())
	}
}
