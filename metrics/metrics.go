// Package metrics exposes dmm.ConnectionMetrics to Prometheus.
//
// Every session is registered with a constant "port" label; the values are
// read from the connection's atomics at scrape time.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/arloliu/go-dmm/dmm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "dmm"

// ErrAlreadyRegistered is returned when a port is registered twice.
var ErrAlreadyRegistered = errors.New("metrics: port already registered")

type counterDef struct {
	name string
	help string
	get  func(m *dmm.ConnectionMetrics) uint64
}

var counterDefs = []counterDef{
	{"commands_sent_total", "Commands fully written to the meter.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.CommandSendCount.Load() }},
	{"command_errors_total", "Commands discarded after a write error.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.CommandErrCount.Load() }},
	{"write_would_block_total", "Writes that made no progress.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.WriteWouldBlockCount.Load() }},
	{"read_errors_total", "Read bursts ended by an I/O error.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.ReadErrCount.Load() }},
	{"lines_received_total", "Reply lines received.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.LineRecvCount.Load() }},
	{"malformed_lines_total", "Reply lines dropped as unusable.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.MalformedLineCount.Load() }},
	{"measurements_total", "Measurements parsed.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.MeasurementCount.Load() }},
	{"overloads_total", "Overload readings.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.OverloadCount.Load() }},
	{"measurements_dropped_total", "Measurements dropped because the consumer fell behind.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.MeasurementDropCount.Load() }},
	{"function_checks_total", "FUNC? queries written.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.FunctionCheckCount.Load() }},
	{"mode_changes_total", "Mode changes detected.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.ModeChangeCount.Load() }},
	{"mode_changes_dropped_total", "Mode changes dropped because the consumer fell behind.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.ModeDropCount.Load() }},
	{"reply_timeouts_total", "Queries abandoned without a reply.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.ReplyTimeoutCount.Load() }},
	{"forced_releases_total", "Sessions released before the disconnect handshake completed.",
		func(m *dmm.ConnectionMetrics) uint64 { return m.ForcedReleaseCount.Load() }},
}

// Registry tracks the collectors registered per port so they can be removed
// when a session goes away.
type Registry struct {
	reg prometheus.Registerer

	mu     sync.Mutex
	byPort map[string][]prometheus.Collector
}

// NewRegistry creates a Registry registering into reg. A nil reg uses the
// default Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Registry{reg: reg, byPort: make(map[string][]prometheus.Collector)}
}

// Register exposes the metrics of conn.
func (r *Registry) Register(conn *dmm.Connection) error {
	port := conn.Port()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPort[port]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, port)
	}

	labels := prometheus.Labels{"port": port}
	m := conn.GetMetrics()

	collectors := make([]prometheus.Collector, 0, len(counterDefs)+2)
	for _, def := range counterDefs {
		get := def.get
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        def.name,
			Help:        def.help,
			ConstLabels: labels,
		}, func() float64 { return float64(get(m)) }))
	}

	collectors = append(collectors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "query_in_flight",
			Help:        "1 while a query waits for its reply.",
			ConstLabels: labels,
		}, func() float64 { return float64(m.InflightGauge.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "session_state",
			Help:        "Session state: 0 disconnected, 1 connecting, 2 connected, 3 disconnecting.",
			ConstLabels: labels,
		}, func() float64 { return float64(conn.State()) }),
	)

	for i, c := range collectors {
		if err := r.reg.Register(c); err != nil {
			for _, done := range collectors[:i] {
				r.reg.Unregister(done)
			}

			return fmt.Errorf("metrics: register %s: %w", port, err)
		}
	}

	r.byPort[port] = collectors

	return nil
}

// Unregister removes the metrics of port. It reports whether the port was
// registered.
func (r *Registry) Unregister(port string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	collectors, ok := r.byPort[port]
	if !ok {
		return false
	}

	for _, c := range collectors {
		r.reg.Unregister(c)
	}
	delete(r.byPort, port)

	return true
}

// Handler serves the metrics gathered by g in the Prometheus exposition
// format. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
