package media

import "github.com/prometheus/client_golang/prometheus"

// prometheusMetrics exposes per-leg quality stats as Prometheus gauges,
// named in the rtp_session_* style the example pack uses for per-stream
// RTP metrics. Each Controller owns its own Registry rather than the
// global default, so a process can run more than one Controller (e.g. in
// tests) without a duplicate-registration panic; Registry() can be
// mounted behind promhttp.HandlerFor.
type prometheusMetrics struct {
	registry *prometheus.Registry

	packetsSent     *prometheus.GaugeVec
	packetsReceived *prometheus.GaugeVec
	packetsLost     *prometheus.GaugeVec
	jitterMillis        *prometheus.GaugeVec
	rttMillis           *prometheus.GaugeVec
	mos                 *prometheus.GaugeVec
	framesDroppedNoDest *prometheus.GaugeVec
}

func newPrometheusMetrics() *prometheusMetrics {
	labels := []string{"leg"}
	m := &prometheusMetrics{
		registry: prometheus.NewRegistry(),

		packetsSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_packets_sent_total",
			Help: "Packets sent per media leg",
		}, labels),
		packetsReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_packets_received_total",
			Help: "Packets received per media leg",
		}, labels),
		packetsLost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_packets_lost_total",
			Help: "Packets detected lost per media leg",
		}, labels),
		jitterMillis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_jitter_ms",
			Help: "Current interarrival jitter per media leg, in milliseconds",
		}, labels),
		rttMillis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_rtt_ms",
			Help: "Last RTCP-derived round trip time per media leg, in milliseconds",
		}, labels),
		mos: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_mos_estimate",
			Help: "Estimated MOS-LQE per media leg",
		}, labels),
		framesDroppedNoDest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtp_session_frames_dropped_no_destination_total",
			Help: "Transmit ticks dropped per media leg for lacking a usable destination (pre-Active or direction-gated)",
		}, labels),
	}
	m.registry.MustRegister(
		m.packetsSent, m.packetsReceived, m.packetsLost,
		m.jitterMillis, m.rttMillis, m.mos, m.framesDroppedNoDest,
	)
	return m
}

func (m *prometheusMetrics) observe(legID string, s Stats) {
	m.packetsSent.WithLabelValues(legID).Set(float64(s.PacketsSent))
	m.packetsReceived.WithLabelValues(legID).Set(float64(s.PacketsReceived))
	m.packetsLost.WithLabelValues(legID).Set(float64(s.PacketsLost))
	m.jitterMillis.WithLabelValues(legID).Set(s.JitterMillis)
	m.rttMillis.WithLabelValues(legID).Set(s.RTTMillis)
	m.mos.WithLabelValues(legID).Set(s.MOSEstimate)
	m.framesDroppedNoDest.WithLabelValues(legID).Set(float64(s.FramesDroppedNoDest))
}
