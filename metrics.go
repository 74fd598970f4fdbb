package rs485

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rs485"

type gaugeKey struct {
	reg     prometheus.Registerer
	address byte
}

// gaugeOwners records which connector's gauges are registered per registry
// and address.
var (
	gaugeOwnersMu sync.Mutex
	gaugeOwners   = make(map[gaugeKey]*Metrics)
)

// Metrics holds the connector counters. They are updated by the event loop
// and may be read from any goroutine.
type Metrics struct {
	FramesSent       prometheus.Counter
	ChunksReceived   prometheus.Counter
	BytesReceived    prometheus.Counter
	NoiseBytes       prometheus.Counter
	ChecksumErrors   prometheus.Counter
	ResponsesMatched prometheus.Counter
	Unmatched        prometheus.Counter
	SendsDropped     prometheus.Counter
	SendsDeferred    prometheus.Counter
	StaleEvictions   prometheus.Counter
	Reconnects       prometheus.Counter
	Heartbeats       prometheus.Counter

	reg     prometheus.Registerer
	address byte
	gauges  []prometheus.Collector
}

func newMetrics(address byte) *Metrics {
	labels := prometheus.Labels{"address": strconv.Itoa(int(address))}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Metrics{
		FramesSent:       counter("frames_sent_total", "Request frames written to the link."),
		ChunksReceived:   counter("chunks_received_total", "Inbound data chunks read from the link."),
		BytesReceived:    counter("bytes_received_total", "Inbound bytes read from the link."),
		NoiseBytes:       counter("noise_bytes_total", "Leading noise bytes stripped from inbound chunks."),
		ChecksumErrors:   counter("checksum_errors_total", "Inbound chunks dropped for a bad CRC trailer."),
		ResponsesMatched: counter("responses_matched_total", "Inbound chunks matched to a pending request."),
		Unmatched:        counter("responses_unmatched_total", "Inbound chunks without a matching pending request."),
		SendsDropped:     counter("sends_dropped_total", "Requests dropped because the link was not ready."),
		SendsDeferred:    counter("sends_deferred_total", "Requests deferred because the address was busy."),
		StaleEvictions:   counter("stale_evictions_total", "Pending requests evicted after the staleness window."),
		Reconnects:       counter("reconnects_total", "Reconnects scheduled after a link failure."),
		Heartbeats:       counter("heartbeats_total", "Heartbeat reads issued."),
	}
}

func (m *Metrics) counters() []*prometheus.Counter {
	return []*prometheus.Counter{
		&m.FramesSent, &m.ChunksReceived, &m.BytesReceived, &m.NoiseBytes,
		&m.ChecksumErrors, &m.ResponsesMatched, &m.Unmatched, &m.SendsDropped,
		&m.SendsDeferred, &m.StaleEvictions, &m.Reconnects, &m.Heartbeats,
	}
}

// register adds the counters and the pending and state gauges to reg.
//
// Counters already registered by an earlier connector for the same address
// are adopted, so totals continue across connectors. Gauges of an earlier
// connector are replaced, since they report that connector's state.
func (m *Metrics) register(reg prometheus.Registerer, address byte, pending, connected func() float64) error {
	for _, c := range m.counters() {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
			existing, ok := are.ExistingCollector.(prometheus.Counter)
			if !ok {
				return err
			}
			*c = existing
		}
	}

	labels := prometheus.Labels{"address": strconv.Itoa(int(address))}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "pending_requests",
			Help:        "Requests waiting for a response.",
			ConstLabels: labels,
		}, pending),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "connected",
			Help:        "1 while the link is connected.",
			ConstLabels: labels,
		}, connected),
	}
	gaugeOwnersMu.Lock()
	defer gaugeOwnersMu.Unlock()

	for _, g := range gauges {
		err := reg.Register(g)
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			reg.Unregister(are.ExistingCollector)
			err = reg.Register(g)
		}
		if err != nil {
			return err
		}
	}

	m.reg = reg
	m.address = address
	m.gauges = gauges
	gaugeOwners[gaugeKey{reg, address}] = m
	return nil
}

// unregister removes the gauges added by register unless a later connector
// has replaced them. Counters stay registered.
func (m *Metrics) unregister() {
	if m.reg == nil {
		return
	}
	gaugeOwnersMu.Lock()
	defer gaugeOwnersMu.Unlock()

	key := gaugeKey{m.reg, m.address}
	if gaugeOwners[key] != m {
		return
	}
	delete(gaugeOwners, key)
	for _, g := range m.gauges {
		m.reg.Unregister(g)
	}
	m.gauges = nil
}
