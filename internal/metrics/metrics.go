package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saworbit/hangfuzz/pkg/driver"
)

const namespace = "hangfuzz"

var (
	// Registry is a dedicated Prometheus registry for all hangfuzz metrics.
	Registry = prometheus.NewRegistry()

	// RunsTotal counts invocations by outcome.
	RunsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of target invocations",
		},
		[]string{"outcome"}, // completed | timeout | spawn_error | nonzero_exit
	)

	// RunDuration measures how long each invocation took.
	RunDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_ms",
			Help:      "Wall-clock duration of a single target invocation in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"outcome"},
	)

	// IterationsPlanned is the configured iteration count of the campaign.
	IterationsPlanned = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iterations_planned",
			Help:      "Number of iterations the current campaign will run",
		},
	)

	// IterationsDone reports progress through the campaign.
	IterationsDone = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iterations_done",
			Help:      "Number of iterations classified so far",
		},
	)

	// HangRatio tracks timed-out / classified iterations.
	HangRatio = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hang_ratio",
			Help:      "Fraction of iterations that exceeded the timeout",
		},
	)

	// CampaignElapsed is the final wall-clock time of the campaign.
	CampaignElapsed = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "campaign_elapsed_seconds",
			Help:      "Elapsed wall-clock time of the last finished campaign",
		},
	)

	// DriverInfo exposes static information about the running driver.
	DriverInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "driver_info",
			Help:      "Static information about the driver",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is 1 while a campaign is running.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 while a campaign is running",
		},
	)
)

var (
	classified atomic.Int64
	hung       atomic.Int64
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
}

// SetDriverInfo publishes a single info metric for the running driver.
func SetDriverInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	DriverInfo.WithLabelValues(osName, arch, version).Set(1)
}

// StartCampaign resets progress gauges for a new campaign.
func StartCampaign(planned int) {
	classified.Store(0)
	hung.Store(0)
	IterationsPlanned.Set(float64(planned))
	IterationsDone.Set(0)
	HangRatio.Set(0)
	SetUp(true)
}

// ObserveRun records one classified invocation.
func ObserveRun(outcome string, duration time.Duration) {
	elapsed := float64(duration) / float64(time.Millisecond)
	RunDuration.WithLabelValues(outcome).Observe(elapsed)
	RunsTotal.WithLabelValues(outcome).Inc()

	done := classified.Add(1)
	h := hung.Load()
	if outcome == driver.TimedOut.String() {
		h = hung.Add(1)
	}
	IterationsDone.Set(float64(done))
	HangRatio.Set(float64(h) / float64(done))
}

// FinishCampaign records the final elapsed time and marks the driver idle.
func FinishCampaign(elapsed time.Duration) {
	CampaignElapsed.Set(elapsed.Seconds())
	SetUp(false)
}

// Observer feeds driver results into the registry.
type Observer struct{}

// ObserveRun implements driver.Observer.
func (Observer) ObserveRun(res driver.Result) error {
	ObserveRun(res.Outcome.String(), res.Duration)
	return nil
}

// SetUp toggles the campaign gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
