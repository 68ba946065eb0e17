package tcpip

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-visa/logger"
	"github.com/arloliu/go-visa/visa"
)

var (
	// ErrConnConfigNil indicates that a connection option was applied to a nil config.
	ErrConnConfigNil = errors.New("tcpip: connection config is nil")
	// ErrInvalidHost indicates an empty or malformed host.
	ErrInvalidHost = errors.New("tcpip: invalid host")
	// ErrInvalidPort indicates a port outside 1-65535.
	ErrInvalidPort = errors.New("tcpip: invalid port")
)

// ConnectionConfig represents the configuration parameters of a TCP/IP instrument connection.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host specifies the host of the instrument.
	host string

	// port specifies the TCP port of the instrument, typically 5025 for SCPI raw sockets.
	port int

	// timeout bounds dialing and every single read or write on the socket.
	// Defaults to 5 seconds.
	timeout time.Duration

	// readBufferSize is the maximum number of bytes requested from the socket per read.
	// Defaults to 1024.
	readBufferSize int

	// lineTerminator ends the lines read with Communicator.Read and becomes the
	// read and write terminator of instruments created with Open.
	// Defaults to "\n".
	lineTerminator string

	// keepAlive is the TCP keep-alive period. Zero uses the system default,
	// a negative value disables keep-alive.
	keepAlive time.Duration

	logger logger.Logger
}

// NewConnectionConfig creates a TCP/IP connection configuration for host and port,
// applying opts over the defaults.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		timeout:        5 * time.Second,
		readBufferSize: visa.DefaultChunkSize,
		lineTerminator: visa.DefaultReadTerminator,
		logger:         logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the instrument host.
func (cfg *ConnectionConfig) Host() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.host
}

// Port returns the instrument port.
func (cfg *ConnectionConfig) Port() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.port
}

// Address returns the dial address in host:port form.
func (cfg *ConnectionConfig) Address() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func (cfg *ConnectionConfig) Timeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.timeout
}

func (cfg *ConnectionConfig) ReadBufferSize() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readBufferSize
}

func (cfg *ConnectionConfig) LineTerminator() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.lineTerminator
}

func (cfg *ConnectionConfig) KeepAlive() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.keepAlive
}

func (cfg *ConnectionConfig) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return ErrConnConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{name: name, applyFunc: f}
}

// withHost validates the host syntax. Names are resolved when dialing, not here.
func withHost(host string) ConnOption {
	return newConnOptFunc("withHost", func(cfg *ConnectionConfig) error {
		host = strings.TrimSpace(host)
		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		host = strings.TrimSuffix(strings.TrimPrefix(host, "."), ".")
		if host == "" || strings.ContainsAny(host, " :/\\") {
			return ErrInvalidHost
		}

		cfg.host = host

		return nil
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *ConnectionConfig) error {
		if port < 1 || port > 65535 {
			return ErrInvalidPort
		}

		cfg.port = port

		return nil
	})
}

// WithTimeout sets the dial timeout, also used as the deadline of each socket read and write.
// It should be between 1 millisecond and 10 minutes.
//
// Defaults to 5 seconds.
func WithTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithTimeout", func(cfg *ConnectionConfig) error {
		if val < time.Millisecond || val > 10*time.Minute {
			return errors.New("tcpip: timeout out of range [1ms, 10m]")
		}

		cfg.timeout = val

		return nil
	})
}

// WithReadBufferSize sets the maximum bytes requested per socket read.
//
// Defaults to 1024.
func WithReadBufferSize(size int) ConnOption {
	return newConnOptFunc("WithReadBufferSize", func(cfg *ConnectionConfig) error {
		if size <= 0 {
			return visa.ErrInvalidChunkSize
		}

		cfg.readBufferSize = size

		return nil
	})
}

// WithLineTerminator sets the line terminator.
//
// Defaults to "\n".
func WithLineTerminator(term string) ConnOption {
	return newConnOptFunc("WithLineTerminator", func(cfg *ConnectionConfig) error {
		if term == "" {
			return visa.ErrInvalidTerminator
		}

		cfg.lineTerminator = term

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. A negative value disables keep-alive.
func WithKeepAlive(period time.Duration) ConnOption {
	return newConnOptFunc("WithKeepAlive", func(cfg *ConnectionConfig) error {
		cfg.keepAlive = period
		return nil
	})
}

// WithLogger sets the logger of the connection.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("tcpip: logger is nil")
		}

		cfg.logger = l

		return nil
	})
}
