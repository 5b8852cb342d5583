package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	papersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "papers_processed_total",
			Help:      "Pipeline steps completed, by result (success, corrupt, oracle_invalid, storage_error, duplicate, empty)",
		},
		[]string{"result"},
	)

	speciesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "species_records_appended_total",
			Help:      "Species rows appended to the tracker",
		},
	)

	candidatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "species_candidates_dropped_total",
			Help:      "Oracle candidates rejected for missing species_name",
		},
	)

	oracleReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "oracle_requests_total",
			Help:      "Oracle requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	oracleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diatomatlas",
			Name:      "oracle_request_duration_seconds",
			Help:      "Duration of oracle requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	imagesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "plate_images_uploaded_total",
			Help:      "Extracted plate images uploaded to the blob store",
		},
	)

	snapshotSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "snapshot_saves_total",
			Help:      "Tracker snapshot saves by result",
		},
		[]string{"result"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diatomatlas",
			Name:      "oracle_breaker_events_total",
			Help:      "Oracle circuit breaker transitions by provider, model and event",
		},
		[]string{"provider", "model", "event"},
	)
)

func init() {
	prometheus.MustRegister(
		papersProcessed,
		speciesAppended,
		candidatesDropped,
		oracleReqs,
		oracleLatency,
		imagesUploaded,
		snapshotSaves,
		breakerEvents,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// PaperProcessed records the outcome of one pipeline step.
func PaperProcessed(result string) { papersProcessed.WithLabelValues(result).Inc() }

// SpeciesAppended records n tracker rows appended for one paper.
func SpeciesAppended(n int) { speciesAppended.Add(float64(n)) }

// CandidateDropped records a rejected oracle candidate.
func CandidateDropped() { candidatesDropped.Inc() }

// ObserveOracle records one oracle call with its result and latency.
func ObserveOracle(provider, model, result string, d time.Duration) {
	oracleReqs.WithLabelValues(provider, model, result).Inc()
	oracleLatency.WithLabelValues(provider, model).Observe(d.Seconds())
}

// ImageUploaded records one plate image upload.
func ImageUploaded() { imagesUploaded.Inc() }

// SnapshotSaved records a snapshot save attempt.
func SnapshotSaved(result string) { snapshotSaves.WithLabelValues(result).Inc() }

// BreakerOpened records an opened circuit for provider/model.
func BreakerOpened(provider, model string) { breakerEvents.WithLabelValues(provider, model, "opened").Inc() }
