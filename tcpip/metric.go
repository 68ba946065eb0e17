package tcpip

import "sync/atomic"

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// BytesSent indicates the number of bytes written to the socket.
	BytesSent atomic.Uint64
	// BytesReceived indicates the number of bytes read from the socket.
	BytesReceived atomic.Uint64
	// ChunksSent indicates the number of completed writes.
	ChunksSent atomic.Uint64
	// ChunksReceived indicates the number of successful chunk reads.
	ChunksReceived atomic.Uint64
	// TimeoutCount indicates the number of reads and writes that hit the socket deadline.
	TimeoutCount atomic.Uint64
	// ReconnectCount indicates the number of successful reconnects.
	ReconnectCount atomic.Uint32
}

func (m *ConnectionMetrics) addSent(n int) {
	m.BytesSent.Add(uint64(n))
	m.ChunksSent.Add(1)
}

func (m *ConnectionMetrics) addReceived(n int) {
	m.BytesReceived.Add(uint64(n))
	m.ChunksReceived.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}
