package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "score_monitor"

// Exporter publishes the monitor counters to Prometheus.
type Exporter struct {
	messages      *prometheus.CounterVec
	frames        prometheus.Counter
	rejected      prometheus.Counter
	renderSeconds prometheus.Histogram
	slot          prometheus.Gauge
}

func NewExporter(reg prometheus.Registerer) *Exporter {
	f := promauto.With(reg)
	return &Exporter{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Control messages received from the producer, by kind.",
		}, []string{"kind"}),
		frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames redrawn.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_peers_total",
			Help:      "Channel candidates that failed the handshake.",
		}),
		renderSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_seconds",
			Help:      "Time spent redrawing one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		slot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_slot",
			Help:      "Slot drawn by the most recent frame.",
		}),
	}
}

// Serve exposes g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "metrics server on %s", addr)
	}
	return nil
}
