package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sourceKey is the gin context key naming where a response came from.
const sourceKey = "immutable.source"

// Response sources.
const (
	SourceStatic   = "static"
	SourceCache    = "cache"
	SourceUpstream = "upstream"
	SourceRPC      = "rpc"
	SourceAPI      = "api"
)

// Metrics are the server's prometheus collectors.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Frames      prometheus.Gauge
	Activations *prometheus.CounterVec
	Generation  *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "immutable_http_requests_total",
				Help: "Requests served, by response source and status",
			},
			[]string{"source", "status"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "immutable_http_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"source"},
		),
		Frames: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "immutable_parent_frames",
				Help: "Frames connected to the reference parent",
			},
		),
		Activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "immutable_mirror_activations_total",
				Help: "Mirror generation activations, by result",
			},
			[]string{"result"},
		),
		Generation: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "immutable_mirror_generation",
				Help: "Set to 1 for the Content Version the mirror serves",
			},
			[]string{"version"},
		),
	}
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		source := c.GetString(sourceKey)
		if source == "" {
			source = SourceAPI
		}
		m.Requests.WithLabelValues(source, strconv.Itoa(c.Writer.Status())).Inc()
		m.Duration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}
