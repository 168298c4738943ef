package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    providerReqs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bedrockbatch",
            Name:      "provider_requests_total",
            Help:      "Total provider calls by operation and result",
        },
        []string{"operation", "result"},
    )

    providerLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "bedrockbatch",
            Name:      "provider_request_duration_seconds",
            Help:      "Duration of provider calls by operation",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"operation"},
    )

    manifestRecords = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bedrockbatch",
            Name:      "manifest_records_total",
            Help:      "Manifest records by modality and result (written, skipped)",
        },
        []string{"modality", "result"},
    )

    builds = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bedrockbatch",
            Name:      "manifest_builds_total",
            Help:      "Manifest builds by modality and result",
        },
        []string{"modality", "result"},
    )

    jobStatus = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bedrockbatch",
            Name:      "job_status_observations_total",
            Help:      "Job status snapshots observed, by status",
        },
        []string{"status"},
    )

    resultLines = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "bedrockbatch",
            Name:      "result_lines_total",
            Help:      "Result lines parsed by kind (success, error, malformed)",
        },
        []string{"kind"},
    )
)

var once sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
    once.Do(func() {
        prometheus.MustRegister(providerReqs, providerLatency, manifestRecords, builds, jobStatus, resultLines)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(operation, result string, dur time.Duration) {
    providerReqs.WithLabelValues(operation, result).Inc()
    providerLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func IncRecord(modality, result string) { manifestRecords.WithLabelValues(modality, result).Inc() }
func IncBuild(modality, result string)  { builds.WithLabelValues(modality, result).Inc() }
func IncJobStatus(status string)        { jobStatus.WithLabelValues(status).Inc() }
func IncResultLine(kind string)         { resultLines.WithLabelValues(kind).Inc() }

// Result maps an error to the result label used across counters.
func Result(err error) string {
    if err != nil { return "error" }
    return "ok"
}
