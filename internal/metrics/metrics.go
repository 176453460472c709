package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Keeper pipeline counters and gauges. Target-scoped series carry the target chain id.

var (
	// Ingestion
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "feed",
		Name:      "events_received_total",
		Help:      "PoolObserved logs received, by source (catchup, live)",
	}, []string{"source"})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "feed",
		Name:      "decode_errors_total",
		Help:      "Logs dropped because they could not be decoded",
	})

	BacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "keeper",
		Subsystem: "pipeline",
		Name:      "backlog_observations",
		Help:      "Observations waiting for a later cycle",
	})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "keeper",
		Subsystem: "pipeline",
		Name:      "block_height",
		Help:      "Last block that started a dispatch cycle",
	})

	// Gate
	GateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "gate",
		Name:      "verdicts_total",
		Help:      "Gate verdicts by target and outcome",
	}, []string{"target", "verdict"})

	OracleReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "gate",
		Name:      "oracle_read_errors_total",
		Help:      "Failed reads of the last confirmed sequence",
	}, []string{"target"})

	// Broadcast
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "broadcast",
		Name:      "submissions_total",
		Help:      "Work submissions by target and result (confirmed, failed)",
	}, []string{"target", "result"})

	SubmitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keeper",
		Subsystem: "broadcast",
		Name:      "submit_duration_seconds",
		Help:      "Time from submit to confirmation or failure",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
	}, []string{"target"})

	// Retry
	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "keeper",
		Subsystem: "retry",
		Name:      "entries",
		Help:      "Requests tracked by the retry queue",
	})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retry attempts by target",
	}, []string{"target"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "retry",
		Name:      "dead_letters_total",
		Help:      "Requests that exhausted their retries",
	}, []string{"target"})

	// Fetch job
	FetchJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper",
		Subsystem: "fetch",
		Name:      "work_total",
		Help:      "Strategy job work submissions by result",
	}, []string{"result"})
)
