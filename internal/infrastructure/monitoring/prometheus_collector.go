package monitoring

import (
	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge

	// Counters
	roomsCreatedTotal prometheus.Counter
	roomsClosedTotal  *prometheus.CounterVec
	signalsRelayed    *prometheus.CounterVec
	signalingErrors   *prometheus.CounterVec
	pollRequests      *prometheus.CounterVec
}

// NewPrometheusCollector registers the signaling collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_rooms_active",
			Help: "Number of rooms currently open",
		}),

		participantsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_participants_connected",
			Help: "Number of participants holding a relay connection",
		}),

		roomsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_rooms_created_total",
			Help: "Total number of rooms created",
		}),

		roomsClosedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_rooms_closed_total",
			Help: "Total number of rooms removed, by reason",
		}, []string{"reason"}),

		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signals_relayed_total",
			Help: "Total number of signaling messages relayed, by type",
		}, []string{"type"}),

		signalingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signaling_errors_total",
			Help: "Total number of signaling errors returned to clients, by code",
		}, []string{"code"}),

		pollRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_poll_requests_total",
			Help: "Total number of store-and-poll requests, by action",
		}, []string{"action"}),
	}
}

func (p *PrometheusCollector) RoomCreated() {
	p.roomsCreatedTotal.Inc()
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RoomsClosed(n int) {
	p.roomsClosedTotal.WithLabelValues("empty").Add(float64(n))
	p.roomsActive.Sub(float64(n))
}

func (p *PrometheusCollector) RoomsExpired(n int) {
	p.roomsClosedTotal.WithLabelValues("expired").Add(float64(n))
	p.roomsActive.Sub(float64(n))
}

func (p *PrometheusCollector) ParticipantConnected()    { p.participantsActive.Inc() }
func (p *PrometheusCollector) ParticipantDisconnected() { p.participantsActive.Dec() }

func (p *PrometheusCollector) SignalRelayed(t domain.SignalType) {
	p.signalsRelayed.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) SignalingError(code string) {
	p.signalingErrors.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) PollRequest(action string) {
	p.pollRequests.WithLabelValues(action).Inc()
}

type nopCollector struct{}

// Nop returns metrics that discard everything.
func Nop() ports.SignalingMetrics { return nopCollector{} }

func (nopCollector) RoomCreated()                    {}
func (nopCollector) RoomsClosed(int)                 {}
func (nopCollector) RoomsExpired(int)                {}
func (nopCollector) ParticipantConnected()           {}
func (nopCollector) ParticipantDisconnected()        {}
func (nopCollector) SignalRelayed(domain.SignalType) {}
func (nopCollector) SignalingError(string)           {}
func (nopCollector) PollRequest(string)              {}
