package tcpip

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesSentDesc = prometheus.NewDesc(
		"visa_tcpip_bytes_sent_total", "Bytes written to the instrument socket.", []string{"address"}, nil)
	bytesReceivedDesc = prometheus.NewDesc(
		"visa_tcpip_bytes_received_total", "Bytes read from the instrument socket.", []string{"address"}, nil)
	chunksSentDesc = prometheus.NewDesc(
		"visa_tcpip_chunks_sent_total", "Completed socket writes.", []string{"address"}, nil)
	chunksReceivedDesc = prometheus.NewDesc(
		"visa_tcpip_chunks_received_total", "Successful socket chunk reads.", []string{"address"}, nil)
	timeoutsDesc = prometheus.NewDesc(
		"visa_tcpip_timeouts_total", "Socket reads and writes that hit the deadline.", []string{"address"}, nil)
	reconnectsDesc = prometheus.NewDesc(
		"visa_tcpip_reconnects_total", "Successful reconnects.", []string{"address"}, nil)
	stateDesc = prometheus.NewDesc(
		"visa_tcpip_connection_state", "Connection state: 0 opened, 1 suspect, 2 reconnecting, 3 closed.", []string{"address"}, nil)
)

// Collector exports the connection metrics of every instrument open in a Manager.
type Collector struct {
	m *Manager
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a prometheus collector for m.
func NewCollector(m *Manager) *Collector {
	return &Collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bytesSentDesc
	ch <- bytesReceivedDesc
	ch <- chunksSentDesc
	ch <- chunksReceivedDesc
	ch <- timeoutsDesc
	ch <- reconnectsDesc
	ch <- stateDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.m.prune()
	c.m.instruments.Range(func(addr string, mi managedInstrument) bool {
		if mi.comm.State() == ClosedState {
			return true
		}

		m := mi.comm.Metrics()

		counter := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, addr)
		}
		counter(bytesSentDesc, float64(m.BytesSent.Load()))
		counter(bytesReceivedDesc, float64(m.BytesReceived.Load()))
		counter(chunksSentDesc, float64(m.ChunksSent.Load()))
		counter(chunksReceivedDesc, float64(m.ChunksReceived.Load()))
		counter(timeoutsDesc, float64(m.TimeoutCount.Load()))
		counter(reconnectsDesc, float64(m.ReconnectCount.Load()))

		ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, float64(mi.comm.State()), addr)

		return true
	})
}
