// Package metrics exposes collector and screener counters over Prometheus,
// with a small HTTP server for /metrics and /health.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Set holds every metric the process registers. Only one Set should
// exist per process.
type Set struct {
	registry *prometheus.Registry

	CyclesTotal       prometheus.Counter
	CycleErrors       prometheus.Counter
	SnapshotsTotal    prometheus.Counter
	SnapshotErrors    prometheus.Counter
	APIRequests       *prometheus.CounterVec
	APIErrors         *prometheus.CounterVec
	SignalsTotal      prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	DumpWatchlistSize prometheus.Gauge
}

// NewSet builds and registers the full metric set on a fresh registry.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solscreen", Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}

	s := &Set{
		registry:       reg,
		CyclesTotal:    factory("cycles_total", "Completed collection cycles."),
		CycleErrors:    factory("cycle_errors_total", "Collection cycles that ended with an error."),
		SnapshotsTotal: factory("snapshots_total", "Snapshots persisted."),
		SnapshotErrors: factory("snapshot_errors_total", "Snapshots that failed to persist."),
		SignalsTotal:   factory("signals_total", "SIGNAL decisions emitted by the screener."),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solscreen", Name: "api_requests_total",
			Help: "Upstream API calls by endpoint.",
		}, []string{"endpoint"}),
		APIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solscreen", Name: "api_errors_total",
			Help: "Failed upstream API calls by endpoint.",
		}, []string{"endpoint"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solscreen", Name: "decisions_total",
			Help: "Screener decisions by kind.",
		}, []string{"decision"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "solscreen", Name: "cycle_duration_seconds",
			Help:    "Wall time of a collection cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		DumpWatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solscreen", Name: "dump_watchlist_size",
			Help: "Pairs currently tracked on the dump watchlist.",
		}),
	}
	reg.MustRegister(s.APIRequests, s.APIErrors, s.DecisionsTotal, s.CycleDuration, s.DumpWatchlistSize)
	return s
}

// Handler returns the /metrics handler for this set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health until its context is canceled.
type Server struct {
	addr string
	set  *Set
	log  zerolog.Logger
}

// NewServer wires the metric set to an address such as ":9184".
func NewServer(addr string, set *Set, log zerolog.Logger) *Server {
	return &Server{addr: addr, set: set, log: log}
}

// Run blocks serving HTTP until ctx is canceled, then shuts down
// gracefully. A nil error is returned on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", s.set.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"ts":     time.Now().UnixMilli(),
	})
}
