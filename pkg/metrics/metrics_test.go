package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	before := testutil.ToFloat64(postsWritten)

	AddWritten(5)
	IncScrape("full", "completed")

	assert.Equal(t, before, testutil.ToFloat64(postsWritten))
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncScrape("partial", "completed")
	ObserveDuration("partial", 42*time.Second)
	SetRunning(true)
	AddHarvested(9)
	AddWritten(9)
	IncPass("ok")
	IncPass("failed")
	IncRateLimit()

	assert.Equal(t, 1.0, testutil.ToFloat64(scrapesTotal.WithLabelValues("partial", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(scrapeRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(passes.WithLabelValues("failed")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"feedharvest_scrape_runs_total",
		"feedharvest_scrape_duration_seconds",
		"feedharvest_scrape_running",
		"feedharvest_posts_harvested_total",
		"feedharvest_posts_written_total",
		"feedharvest_extractor_passes_total",
		"feedharvest_extractor_rate_limit_hits_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(scrapeRunning))
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncScrape("full", "failed")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "feedharvest_scrape_runs_total")
}
