package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReportsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_created_total", Help: "Report definitions created"})
	ReportRuns       = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_runs_total", Help: "Report runs triggered"})
	StatusChanges    = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_status_changes_total", Help: "Report status transitions applied"})
	DegradedReads    = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_degraded_reads_total", Help: "Stored mappings that failed to parse on read"})
	TokensIssued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_tokens_issued_total", Help: "Capability tokens issued"})
	TokenRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_token_rejects_total", Help: "Token validations rejected"})
	ExportsRendered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_exports_total", Help: "Report exports rendered"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsCreated,
			ReportRuns,
			StatusChanges,
			DegradedReads,
			TokensIssued,
			TokenRejects,
			ExportsRendered,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
