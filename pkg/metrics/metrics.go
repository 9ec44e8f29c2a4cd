// Package metrics exposes Prometheus collectors for scrape runs.
//
// Collectors are package level and must be registered with Register before
// the recording helpers have any effect; until then every helper is a no-op,
// so library code can record unconditionally.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedharvest"

var (
	regOK atomic.Bool

	scrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "runs_total",
			Help:      "Finished scrape runs by type and final status.",
		}, []string{"type", "status"},
	)
	scrapeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "duration_seconds",
			Help:      "Wall time from start to the terminal state.",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
		}, []string{"type"},
	)
	scrapeRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scrape",
			Name:      "running",
			Help:      "1 while a scrape session is active.",
		},
	)
	postsHarvested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "posts",
			Name:      "harvested_total",
			Help:      "Deduplicated posts returned by the extraction loop.",
		},
	)
	postsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "posts",
			Name:      "written_total",
			Help:      "Posts written to the store.",
		},
	)
	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "passes_total",
			Help:      "Scroll passes by outcome.",
		}, []string{"outcome"},
	)
	rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "rate_limit_hits_total",
			Help:      "Pages that showed rate limit text.",
		},
	)
)

// Register registers all collectors with r. Calling it again after a
// successful registration is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{scrapesTotal, scrapeDuration, scrapeRunning, postsHarvested, postsWritten, passes, rateLimitHits}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer
func Handler() http.Handler { return promhttp.Handler() }

func IncScrape(scrapeType, status string) {
	if regOK.Load() {
		scrapesTotal.WithLabelValues(scrapeType, status).Inc()
	}
}

func ObserveDuration(scrapeType string, d time.Duration) {
	if regOK.Load() {
		scrapeDuration.WithLabelValues(scrapeType).Observe(d.Seconds())
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		scrapeRunning.Set(v)
	}
}

func AddHarvested(n int) {
	if regOK.Load() && n > 0 {
		postsHarvested.Add(float64(n))
	}
}

func AddWritten(n int) {
	if regOK.Load() && n > 0 {
		postsWritten.Add(float64(n))
	}
}

func IncPass(outcome string) {
	if regOK.Load() {
		passes.WithLabelValues(outcome).Inc()
	}
}

func IncRateLimit() {
	if regOK.Load() {
		rateLimitHits.Inc()
	}
}
