package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	set := NewSet()
	set.SnapshotsTotal.Add(3)
	set.APIRequests.WithLabelValues("pairs").Inc()
	set.DecisionsTotal.WithLabelValues("SIGNAL").Add(2)
	set.DumpWatchlistSize.Set(7)

	srv := httptest.NewServer(set.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "solscreen_snapshots_total 3")
	assert.Contains(t, text, `solscreen_api_requests_total{endpoint="pairs"} 1`)
	assert.Contains(t, text, `solscreen_decisions_total{decision="SIGNAL"} 2`)
	assert.Contains(t, text, "solscreen_dump_watchlist_size 7")
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(":0", NewSet(), zerolog.Nop())

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"status":"ok"`))
}
