package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Connections *prometheus.GaugeVec   // role label
	Events      *prometheus.CounterVec // event label
	Errors      *prometheus.CounterVec // kind label

	FixesIngested  prometheus.Counter
	FixesRelayed   prometheus.Counter
	ETABatches     prometheus.Counter
	FanoutMessages *prometheus.CounterVec // group kind label: vehicle|route|observers|admin
	DroppedFrames  prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	HandlerDuration *prometheus.HistogramVec
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Open real-time connections by role.",
		}, []string{"role"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_events_total",
			Help: "Inbound events handled, by event name.",
		}, []string{"event"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_errors_total",
			Help: "Errors surfaced to connections, by kind.",
		}, []string{"kind"}),
		FixesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_location_fixes_total",
			Help: "Location fixes durably recorded by this instance.",
		}),
		FixesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_location_fixes_relayed_total",
			Help: "Location fixes received from other instances and fanned out locally.",
		}),
		ETABatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_eta_batches_total",
			Help: "ETA batches broadcast to observers.",
		}),
		FanoutMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_fanout_messages_total",
			Help: "Messages delivered to group members, by group kind.",
		}, []string{"group"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_dropped_frames_total",
			Help: "Outbound frames dropped because a connection's queue was full.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hub_handler_duration_seconds",
			Help:    "Duration of inbound event handlers.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"event"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hub_publish_duration_seconds",
			Help:    "Duration to publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Connections, c.Events, c.Errors,
		c.FixesIngested, c.FixesRelayed, c.ETABatches, c.FanoutMessages, c.DroppedFrames,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.HandlerDuration, c.PublishDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
