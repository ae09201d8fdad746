package castcore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors Sender and Receiver report
// through, grounded on the counter/gauge-per-label pattern the
// example pack's socket-stats exporters use for per-session metrics.
// A nil *Metrics is valid everywhere it's used: every method is a
// no-op on a nil receiver, so the library stays usable without a
// registry.
type Metrics struct {
	framesReleased     *prometheus.CounterVec
	framesSkipped      *prometheus.CounterVec
	nacksSent          *prometheus.CounterVec
	retransmitsSent    *prometheus.CounterVec
	rtt                *prometheus.GaugeVec
	decoderOutstanding *prometheus.GaugeVec
}

// NewMetrics registers the Cast transport's collectors on reg and
// returns a Metrics using them. Pass nil to disable metrics entirely.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cast_frames_released_total",
			Help: "Frames released to the application for decode.",
		}, []string{"stream"}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cast_frames_skipped_total",
			Help: "Frames the decode-order policy skipped over.",
		}, []string{"stream"}),
		nacksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cast_nacks_sent_total",
			Help: "Loss-field entries sent in Cast NACK messages.",
		}, []string{"stream"}),
		retransmitsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cast_retransmits_sent_total",
			Help: "Packets re-sent in response to a NACK.",
		}, []string{"stream"}),
		rtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cast_rtt_seconds",
			Help: "Most recent round-trip time sample.",
		}, []string{"stream"}),
		decoderOutstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cast_decoder_outstanding_frames",
			Help: "Complete frames not yet released to the decoder.",
		}, []string{"stream"}),
	}
	if reg != nil {
		reg.MustRegister(m.framesReleased, m.framesSkipped, m.nacksSent, m.retransmitsSent, m.rtt, m.decoderOutstanding)
	}
	return m
}

func (m *Metrics) frameReleased(stream string) {
	if m == nil {
		return
	}
	m.framesReleased.WithLabelValues(stream).Inc()
}

func (m *Metrics) frameSkipped(stream string) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(stream).Inc()
}

func (m *Metrics) nackSent(stream string, count int) {
	if m == nil {
		return
	}
	m.nacksSent.WithLabelValues(stream).Add(float64(count))
}

func (m *Metrics) retransmitSent(stream string) {
	if m == nil {
		return
	}
	m.retransmitsSent.WithLabelValues(stream).Inc()
}

func (m *Metrics) rttSample(stream string, seconds float64) {
	if m == nil {
		return
	}
	m.rtt.WithLabelValues(stream).Set(seconds)
}

func (m *Metrics) decoderOutstandingSet(stream string, n int) {
	if m == nil {
		return
	}
	m.decoderOutstanding.WithLabelValues(stream).Set(float64(n))
}
