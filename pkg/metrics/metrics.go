// Package metrics provides Prometheus metrics for the oracle node.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfd_oracle"

var (
	// QuotesIngestedTotal counts quotes accepted into the ingress buffer.
	QuotesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_ingested_total",
			Help:      "Total number of quotes accepted into the ingress buffer",
		},
		[]string{"instrument", "source"},
	)

	// IngestErrorsTotal counts quotes refused at ingress.
	IngestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Total number of quotes refused at ingress",
		},
		[]string{"instrument", "reason"},
	)

	// QuoteRejectionsTotal counts quotes excluded by the round filter.
	QuoteRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_rejections_total",
			Help:      "Total number of collected quotes excluded by the freshness and outlier filter",
		},
		[]string{"instrument", "reason"},
	)

	// ClockSkewTotal counts quotes whose observation time ran too far ahead of receipt.
	ClockSkewTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_skew_clamped_total",
			Help:      "Total number of quotes whose future observation time was clamped to receive time",
		},
		[]string{"instrument"},
	)

	// RoundsTotal counts rounds by terminal state.
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of rounds reaching a terminal state",
		},
		[]string{"instrument", "state", "reason"},
	)

	// RoundDuration observes open-to-terminal round latency.
	RoundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time from round open to terminal state",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"instrument"},
	)

	// LastRoundID tracks the most recent terminal round id per instrument.
	LastRoundID = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_round_id",
			Help:      "Id of the most recent round to reach a terminal state",
		},
		[]string{"instrument"},
	)

	// AggregationDuration is a histogram of aggregation durations by method.
	AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of price aggregation operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// SignerLatency observes signing capability latency.
	SignerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signer_latency_seconds",
			Help:      "Latency of signing requests",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
		},
		[]string{"status"},
	)

	// DispersionWarningsTotal counts rounds whose spread exceeded the configured threshold.
	DispersionWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispersion_warnings_total",
			Help:      "Total number of published rounds with source spread above the warning threshold",
		},
		[]string{"instrument"},
	)

	// ConsensusSpreadBps is the spread of the last published round in basis points.
	ConsensusSpreadBps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consensus_spread_bps",
			Help:      "Spread of contributing quotes in the last published round",
		},
		[]string{"instrument"},
	)

	// PublishErrorsTotal counts failed publications per publisher.
	PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of failed consensus price publications",
		},
		[]string{"publisher"},
	)

	// SourceHealth is a gauge of the health status of feed adapters.
	SourceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_health",
			Help:      "Health status of feed adapters (1=healthy, 0=unhealthy)",
		},
		[]string{"source", "type"},
	)

	// SourceLastUpdate is a gauge of the last update timestamp from sources.
	SourceLastUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_last_update_timestamp",
			Help:      "Unix timestamp of last quote accepted from source",
		},
		[]string{"source"},
	)

	// SourceSetVersion is the version of the active expected-source snapshot.
	SourceSetVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_set_version",
			Help:      "Version of the expected source snapshot per instrument",
		},
		[]string{"instrument"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default Prometheus registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QuotesIngestedTotal,
			IngestErrorsTotal,
			QuoteRejectionsTotal,
			ClockSkewTotal,
			RoundsTotal,
			RoundDuration,
			LastRoundID,
			AggregationDuration,
			SignerLatency,
			DispersionWarningsTotal,
			ConsensusSpreadBps,
			PublishErrorsTotal,
			SourceHealth,
			SourceLastUpdate,
			SourceSetVersion,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// NewServer returns an HTTP server exposing the default registry on path.
func NewServer(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// RecordIngest records a quote accepted into the buffer.
func RecordIngest(instrument, source string) {
	QuotesIngestedTotal.WithLabelValues(instrument, source).Inc()
	SourceLastUpdate.WithLabelValues(source).SetToCurrentTime()
}

// RecordIngestError records a refused quote.
func RecordIngestError(instrument, reason string) {
	IngestErrorsTotal.WithLabelValues(instrument, reason).Inc()
}

// RecordRejection records a quote excluded by the filter.
func RecordRejection(instrument, reason string) {
	QuoteRejectionsTotal.WithLabelValues(instrument, reason).Inc()
}

// RecordClockSkew records quotes clamped for clock skew.
func RecordClockSkew(instrument string, n int) {
	ClockSkewTotal.WithLabelValues(instrument).Add(float64(n))
}

// RecordRound records a round reaching a terminal state.
func RecordRound(instrument, state, reason string, roundID uint64, duration time.Duration) {
	RoundsTotal.WithLabelValues(instrument, state, reason).Inc()
	RoundDuration.WithLabelValues(instrument).Observe(duration.Seconds())
	LastRoundID.WithLabelValues(instrument).Set(float64(roundID))
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	AggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSign records a signing request outcome.
func RecordSign(status string, duration time.Duration) {
	SignerLatency.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSpread records the spread of a published round and whether it tripped the warning.
func RecordSpread(instrument string, spreadBps float64, warn bool) {
	ConsensusSpreadBps.WithLabelValues(instrument).Set(spreadBps)
	if warn {
		DispersionWarningsTotal.WithLabelValues(instrument).Inc()
	}
}

// RecordPublishError records a failed publication.
func RecordPublishError(publisher string) {
	PublishErrorsTotal.WithLabelValues(publisher).Inc()
}

// RecordSourceHealth records the health status of a source.
func RecordSourceHealth(source, sourceType string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	SourceHealth.WithLabelValues(source, sourceType).Set(val)
}

// RecordSourceSetVersion records the active source snapshot version.
func RecordSourceSetVersion(instrument string, version uint64) {
	SourceSetVersion.WithLabelValues(instrument).Set(float64(version))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
