// Package metrics exposes Prometheus collectors for polling and readings.
package metrics

import (
	"time"

	"solax-monitor/internal/manager"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solax"

type Metrics struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	alertsTotal   *prometheus.CounterVec
	online        *prometheus.GaugeVec
	acPower       *prometheus.GaugeVec
	pvPower       *prometheus.GaugeVec
	load          *prometheus.GaugeVec
	gridPower     *prometheus.GaugeVec
	batteryPower  *prometheus.GaugeVec
	soc           *prometheus.GaugeVec
	yieldToday    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"inverter", "name"})
	}

	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Realtime fetches by inverter and result.",
		}, []string{"inverter", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of realtime fetches.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"inverter"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by inverter and type.",
		}, []string{"inverter", "type"}),
		online:       gauge("inverter_online", "1 when the last fetch succeeded."),
		acPower:      gauge("ac_power_watts", "Inverter AC output."),
		pvPower:      gauge("pv_power_watts", "Sum of DC string power."),
		load:         gauge("estimated_load_watts", "Estimated household load."),
		gridPower:    gauge("grid_power_watts", "Grid power, positive when importing."),
		batteryPower: gauge("battery_power_watts", "Battery power, positive when charging."),
		soc:          gauge("battery_soc_percent", "Battery state of charge."),
		yieldToday:   gauge("yield_today_kwh", "Energy produced today."),
	}

	reg.MustRegister(
		m.fetchTotal,
		m.fetchDuration,
		m.alertsTotal,
		m.online,
		m.acPower,
		m.pvPower,
		m.load,
		m.gridPower,
		m.batteryPower,
		m.soc,
		m.yieldToday,
	)
	return m
}

func (m *Metrics) ObserveFetch(inverterID string, took time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.fetchTotal.WithLabelValues(inverterID, result).Inc()
	m.fetchDuration.WithLabelValues(inverterID).Observe(took.Seconds())
}

// HandleEvent updates gauges from manager events; subscribe it with
// Manager.Subscribe.
func (m *Metrics) HandleEvent(ev manager.Event) {
	switch ev.Kind {
	case manager.EventUpdate:
		if ev.Reading == nil {
			return
		}
		r := ev.Reading
		labels := []string{ev.InverterID, ev.DisplayName}
		m.online.WithLabelValues(labels...).Set(1)
		m.acPower.WithLabelValues(labels...).Set(r.ACPower)
		m.pvPower.WithLabelValues(labels...).Set(r.TotalPVPower())
		m.load.WithLabelValues(labels...).Set(r.EstimatedLoad())
		m.gridPower.WithLabelValues(labels...).Set(r.ExternalGridPower())
		m.batteryPower.WithLabelValues(labels...).Set(r.BatteryPower)
		m.soc.WithLabelValues(labels...).Set(r.StateOfCharge)
		m.yieldToday.WithLabelValues(labels...).Set(r.YieldToday)
	case manager.EventAlert:
		m.online.WithLabelValues(ev.InverterID, ev.DisplayName).Set(0)
		m.alertsTotal.WithLabelValues(ev.InverterID, ev.AlertType).Inc()
	}
}
