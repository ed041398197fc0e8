package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundtable_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GenerationInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roundtable_generation_in_flight",
			Help: "Generation calls currently executing at the backend.",
		},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_generations_total",
			Help: "Total generation calls by outcome.",
		},
		[]string{"status"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roundtable_generation_duration_seconds",
			Help:    "Generation call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	GenerationTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roundtable_generation_tokens_total",
			Help: "Total tokens reported by the generation backend.",
		},
	)

	TurnsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_turns_processed_total",
			Help: "Conversation turns processed by priority.",
		},
		[]string{"priority"},
	)

	TurnQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roundtable_turn_queue_depth",
			Help: "Turns currently waiting in the scheduler queue.",
		},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundtable_compactions_total",
			Help: "Contextual-history compactions by outcome.",
		},
		[]string{"outcome"},
	)

	DirectivesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roundtable_directives_total",
			Help: "Moderator directives extracted and installed.",
		},
	)

	ParticipantsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roundtable_participants_connected",
			Help: "Connected participants by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GenerationInFlight,
		GenerationsTotal,
		GenerationDuration,
		GenerationTokensTotal,
		TurnsProcessedTotal,
		TurnQueueDepth,
		CompactionsTotal,
		DirectivesTotal,
		ParticipantsConnected,
	)
}
