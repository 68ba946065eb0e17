package tcpip

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-visa/logger"
)

// testServer is a loopback TCP listener running handler for every accepted connection.
type testServer struct {
	ln       net.Listener
	mu       sync.Mutex
	conns    []net.Conn
	accepted chan struct{}
}

func newTestServer(t *testing.T, handler func(conn net.Conn)) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{ln: ln, accepted: make(chan struct{}, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			s.accepted <- struct{}{}

			go handler(conn)
		}
	}()

	t.Cleanup(s.close)

	return s
}

func (s *testServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) close() {
	_ = s.ln.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// closeConns drops every accepted connection while keeping the listener open.
func (s *testServer) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func echoHandler(conn net.Conn) {
	_, _ = io.Copy(conn, conn)
}

func silentHandler(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

func sendHandler(data string) func(net.Conn) {
	return func(conn net.Conn) {
		_, _ = conn.Write([]byte(data))
		_, _ = io.Copy(io.Discard, conn)
	}
}

func newTestConfig(t *testing.T, port int, opts ...ConnOption) *ConnectionConfig {
	t.Helper()

	opts = append([]ConnOption{
		WithTimeout(time.Second),
		WithLogger(logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)),
	}, opts...)

	cfg, err := NewConnectionConfig("127.0.0.1", port, opts...)
	require.NoError(t, err)

	return cfg
}

// unusedPort returns a loopback port with no listener.
func unusedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}
