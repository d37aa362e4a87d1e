package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/pkg/mbreader"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "wbec"

const (
	RESULT_OK       = "ok"
	RESULT_REJECTED = "rejected"
	RESULT_INVALID  = "invalid"
	RESULT_ERROR    = "error"
)

// Metrics holds every collector of the process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	gridPower      prometheus.Gauge
	availablePower prometheus.Gauge
	pvMode         prometheus.Gauge
	pvTargetBox    prometheus.Gauge
	boxStatus      *prometheus.GaugeVec
	boxPower       *prometheus.GaugeVec
	boxLimit       *prometheus.GaugeVec
	bridgeCommands *prometheus.CounterVec
	boxWrites      *prometheus.CounterVec
	modbusCalls    *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		gridPower: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "pv_grid_power_watt",
			Help:      "Last accepted grid power reading. Negative values mean export.",
		}),
		availablePower: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "pv_available_power_watt",
			Help:      "Filtered power available for charging.",
		}),
		pvMode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "pv_mode",
			Help:      "Surplus controller mode ordinal (0 disabled, 1 off, 2 minpv, 3 pv).",
		}),
		pvTargetBox: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "pv_target_box",
			Help:      "Box controlled by the surplus controller.",
		}),
		boxStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "box_status",
			Help:      "Charging state register of the box.",
		}, []string{"box"}),
		boxPower: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "box_power_watt",
			Help:      "Charging power of the box.",
		}, []string{"box"}),
		boxLimit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "box_current_limit_deciamps",
			Help:      "Current limit register of the box.",
		}, []string{"box"}),
		bridgeCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "bridge_commands_total",
			Help:      "Inbound loadpoint commands by outcome.",
		}, []string{"result"}),
		boxWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "box_writes_total",
			Help:      "Current limit register writes by source and outcome.",
		}, []string{"box", "source", "result"}),
		modbusCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "modbus_call_seconds",
			Help:      "Duration of modbus register calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"fn"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePvState(resp domain.GetPvStateResponse) {
	if m == nil {
		return
	}
	m.gridPower.Set(float64(resp.GridPower))
	m.availablePower.Set(float64(resp.State.FilteredAvailablePower))
	m.pvMode.Set(float64(resp.State.Mode))
	m.pvTargetBox.Set(float64(resp.State.TargetBoxId))
}

func (m *Metrics) ObserveSnapshot(s domain.ChargePointSnapshot) {
	if m == nil || !s.Valid {
		return
	}
	box := strconv.Itoa(int(s.BoxId))
	m.boxStatus.WithLabelValues(box).Set(float64(s.Status))
	m.boxPower.WithLabelValues(box).Set(float64(s.PowerWatt))
	m.boxLimit.WithLabelValues(box).Set(float64(s.CurrentLimit))
}

func (m *Metrics) CountBridgeCommand(result string) {
	if m == nil {
		return
	}
	m.bridgeCommands.WithLabelValues(result).Inc()
}

func (m *Metrics) CountBoxWrite(boxId uint8, source domain.WriteSource, err error) {
	if m == nil {
		return
	}
	result := RESULT_OK
	if err != nil {
		result = RESULT_ERROR
	}
	m.boxWrites.WithLabelValues(strconv.Itoa(int(boxId)), string(source), result).Inc()
}

// ModbusInstrument records register call durations of a reader.
func (m *Metrics) ModbusInstrument() *mbreader.ModbusInstrument {
	if m == nil {
		return nil
	}
	return &mbreader.ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.modbusCalls.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}
