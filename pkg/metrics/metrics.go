package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_probes_total",
			Help: "Total number of health probes by service and result",
		},
		[]string{"service", "result"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stevedore_probe_duration_seconds",
			Help:    "Duration of individual health probes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Pipeline metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stevedore_stage_duration_seconds",
			Help:    "Duration of deployment pipeline stages",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_deploys_total",
			Help: "Total number of deployment runs by verdict",
		},
		[]string{"verdict"},
	)

	ContainersStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_containers_started_total",
			Help: "Total number of containers started by the reconciler",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProbesTotal,
		ProbeDuration,
		StageDuration,
		DeploysTotal,
		ContainersStarted,
	)
}

// Timer measures a duration for a histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveStage records the elapsed time against the stage histogram.
func (t *Timer) ObserveStage(stage string) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(t.start).Seconds())
}

// Serve exposes /metrics on addr for the lifetime of the run. CI systems
// scrape it while the deployment is in flight. The returned function shuts
// the server down.
func Serve(addr string) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv.Shutdown
}
