package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macbridge_send_attempts_total",
			Help: "Total number of outbound send attempts by outcome.",
		},
		[]string{"outcome"}, // sent, failed
	)

	RetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "macbridge_retries_scheduled_total",
			Help: "Total number of retries scheduled after a failed send.",
		},
	)

	TerminalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "macbridge_terminal_failures_total",
			Help: "Total number of tasks that exhausted their retries.",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "macbridge_queue_depth",
			Help: "Number of tasks currently resident in the delivery queue.",
		},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "macbridge_send_duration_seconds",
			Help:    "Wall-clock duration of transport send attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	InboundRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macbridge_inbound_rows_total",
			Help: "Total number of local rows handled by the ingest poller by result.",
		},
		[]string{"result"}, // persisted, unmapped, failed
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "macbridge_poll_duration_seconds",
			Help:    "Duration of a full ingest poll tick.",
			Buckets: prometheus.DefBuckets,
		},
	)

	AttachmentRelaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macbridge_attachment_relays_total",
			Help: "Total number of attachment relay operations by outcome.",
		},
		[]string{"outcome"}, // uploaded, missing, failed
	)

	MappingRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macbridge_mapping_refreshes_total",
			Help: "Total number of tenant mapping refresh cycles by outcome.",
		},
		[]string{"outcome"}, // ok, failed
	)

	MappingsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "macbridge_mappings_loaded",
			Help: "Number of sender to tenant mappings in the current cache snapshot.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		SendAttemptsTotal,
		RetriesScheduledTotal,
		TerminalFailuresTotal,
		QueueDepth,
		SendDuration,
		InboundRowsTotal,
		PollDuration,
		AttachmentRelaysTotal,
		MappingRefreshesTotal,
		MappingsLoaded,
	)
}
