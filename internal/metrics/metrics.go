// Package metrics exposes Prometheus counters for the gateway, grounded on
// the teacher's internal/runner/objectstore.go cache-hit/miss counters:
// package-level CounterVec values, registered once at process start, with
// best-effort registration-error reporting rather than a fatal exit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execgw_runs_started_total",
			Help: "Number of runs admitted to the orchestrator.",
		},
	)
	runsByStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execgw_runs_total",
			Help: "Number of completed runs by final status.",
		},
		[]string{"status", "language"},
	)
	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execgw_rate_limit_rejections_total",
			Help: "Number of requests rejected by the per-tenant rate limiter.",
		},
		[]string{"tenant"},
	)
	artifactBytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execgw_artifact_bytes_stored_total",
			Help: "Cumulative bytes written into the artifact store.",
		},
	)
)

// Register adds every counter to reg, reporting (not panicking on) a
// duplicate-registration error, matching the teacher's best-effort
// registration pattern.
func Register(reg prometheus.Registerer, errorC chan<- error) {
	for _, c := range []prometheus.Collector{runsStarted, runsByStatus, rateLimitRejections, artifactBytesStored} {
		if errGo := reg.Register(c); errGo != nil {
			if errorC != nil {
				select {
				case errorC <- errGo:
				default:
				}
			}
		}
	}
}

func RunStarted() {
	runsStarted.Inc()
}

func RunCompleted(status, language string) {
	runsByStatus.With(prometheus.Labels{"status": status, "language": language}).Inc()
}

func RateLimitRejected(tenant string) {
	rateLimitRejections.With(prometheus.Labels{"tenant": tenant}).Inc()
}

func ArtifactBytesStored(n int64) {
	artifactBytesStored.Add(float64(n))
}
