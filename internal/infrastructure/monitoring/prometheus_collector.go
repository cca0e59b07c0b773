package monitoring

import (
	"strconv"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes control-plane activity as Prometheus metrics.
type PrometheusCollector struct {
	roomsActive     prometheus.Gauge
	peersJoined     *prometheus.CounterVec
	peersLeft       *prometheus.CounterVec
	tracksPublished *prometheus.CounterVec
	pipeFailures    *prometheus.CounterVec
	hostReassigns   *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "warpy_media_rooms_active",
			Help: "Number of media rooms currently open on this node",
		}),

		peersJoined: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warpy_media_peers_joined_total",
			Help: "Total peers that joined a room",
		}, []string{"stream"}),

		peersLeft: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warpy_media_peers_left_total",
			Help: "Total peers that left a room",
		}, []string{"stream"}),

		tracksPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warpy_media_tracks_published_total",
			Help: "Total tracks published, by media kind",
		}, []string{"kind"}),

		pipeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warpy_media_pipe_forward_failures_total",
			Help: "Producer forwarding failures, by destination node",
		}, []string{"node"}),

		hostReassigns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warpy_host_reassignments_total",
			Help: "Host failover outcomes after the grace period",
		}, []string{"success"}),
	}
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

func (c *PrometheusCollector) RecordRoomOpened() { c.roomsActive.Inc() }
func (c *PrometheusCollector) RecordRoomClosed() { c.roomsActive.Dec() }

func (c *PrometheusCollector) RecordPeerJoined(stream domain.StreamID) {
	c.peersJoined.WithLabelValues(string(stream)).Inc()
}

func (c *PrometheusCollector) RecordPeerLeft(stream domain.StreamID) {
	c.peersLeft.WithLabelValues(string(stream)).Inc()
}

func (c *PrometheusCollector) RecordTrackPublished(kind domain.MediaKind) {
	c.tracksPublished.WithLabelValues(string(kind)).Inc()
}

func (c *PrometheusCollector) RecordPipeForwardFailure(node domain.NodeID) {
	c.pipeFailures.WithLabelValues(string(node)).Inc()
}

func (c *PrometheusCollector) RecordHostReassignment(success bool) {
	c.hostReassigns.WithLabelValues(strconv.FormatBool(success)).Inc()
}
