package tcpip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-visa/config"
	"github.com/arloliu/go-visa/logger"
	"github.com/arloliu/go-visa/visa"
)

var (
	// ErrAlreadyOpen indicates that the manager already holds an instrument at the address.
	ErrAlreadyOpen = errors.New("tcpip: instrument already open")
	// ErrNotOpen indicates that the manager holds no instrument at the address.
	ErrNotOpen = errors.New("tcpip: instrument not open")
)

// DefaultConnectionTimeout is the connection timeout of a Manager.
const DefaultConnectionTimeout = 2 * time.Second

// Manager opens TCP/IP instruments by address and keeps track of them so they can be
// closed together. It holds at most one instrument per address.
//
// A Manager is safe for concurrent use. The instruments it returns are not; see visa.Instrument.
type Manager struct {
	timeout     time.Duration
	attrs       visa.Attributes
	logger      logger.Logger
	instruments *xsync.MapOf[string, managedInstrument]
}

type managedInstrument struct {
	inst *visa.Instrument
	comm *Communicator
}

// ManagerOption configures a Manager.
type ManagerOption func(m *Manager)

// WithConnectionTimeout sets the timeout used for dialing and socket I/O.
func WithConnectionTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithDefaultAttributes sets the attributes given to every instrument opened with Open.
func WithDefaultAttributes(attrs visa.Attributes) ManagerOption {
	return func(m *Manager) { m.attrs = attrs }
}

// WithManagerLogger sets the logger of the manager and its connections.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		timeout:     DefaultConnectionTimeout,
		attrs:       visa.DefaultAttributes(),
		logger:      logger.GetLogger(),
		instruments: xsync.NewMapOf[string, managedInstrument](),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Open connects to the instrument at host:port with the manager's default attributes.
func (m *Manager) Open(ctx context.Context, host string, port int) (*visa.Instrument, error) {
	return m.open(ctx, host, port, m.timeout, m.attrs)
}

// OpenProfile connects to the instrument described by p, using its timeout and attributes.
func (m *Manager) OpenProfile(ctx context.Context, p config.Profile) (*visa.Instrument, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}

	return m.open(ctx, p.Host, p.Port, timeout, p.Attributes)
}

func (m *Manager) open(ctx context.Context, host string, port int, timeout time.Duration, attrs visa.Attributes) (*visa.Instrument, error) {
	cfg, err := NewConnectionConfig(host, port,
		WithTimeout(timeout),
		WithReadBufferSize(attrs.ChunkSize),
		WithLineTerminator(attrs.ReadTerminator),
		WithLogger(m.logger),
	)
	if err != nil {
		return nil, err
	}

	addr := cfg.Address()
	if _, ok := m.load(addr); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, addr)
	}

	inst, comm, err := open(ctx, cfg, visa.WithAttributes(attrs))
	if err != nil {
		return nil, err
	}

	if _, loaded := m.instruments.LoadOrStore(addr, managedInstrument{inst: inst, comm: comm}); loaded {
		_ = inst.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, addr)
	}

	m.logger.Debug("tcpip: instrument opened", "address", addr, "count", m.instruments.Size())

	return inst, nil
}

// Get returns the open instrument at addr, given in host:port form.
func (m *Manager) Get(addr string) (*visa.Instrument, bool) {
	mi, ok := m.load(addr)

	return mi.inst, ok
}

// Communicator returns the connection of the open instrument at addr.
func (m *Manager) Communicator(addr string) (*Communicator, bool) {
	mi, ok := m.load(addr)

	return mi.comm, ok
}

// Len returns the number of open instruments.
func (m *Manager) Len() int {
	m.prune()

	return m.instruments.Size()
}

// load returns the instrument at addr, forgetting it first if it was closed directly.
func (m *Manager) load(addr string) (managedInstrument, bool) {
	return m.instruments.Compute(addr, func(old managedInstrument, loaded bool) (managedInstrument, bool) {
		if loaded && old.comm.State() == ClosedState {
			m.logger.Debug("tcpip: forgetting closed instrument", "address", addr)
			return old, true
		}

		return old, !loaded
	})
}

// prune forgets every instrument closed outside the manager.
func (m *Manager) prune() {
	m.instruments.Range(func(addr string, mi managedInstrument) bool {
		if mi.comm.State() == ClosedState {
			m.load(addr)
		}

		return true
	})
}

// Close closes the instrument at addr and forgets it.
func (m *Manager) Close(addr string) error {
	mi, ok := m.instruments.LoadAndDelete(addr)
	if !ok || mi.comm.State() == ClosedState {
		return fmt.Errorf("%w: %s", ErrNotOpen, addr)
	}

	return mi.inst.Close()
}

// CloseAll closes every open instrument and returns the joined close errors.
func (m *Manager) CloseAll() error {
	var errs []error

	m.instruments.Range(func(addr string, _ managedInstrument) bool {
		if mi, ok := m.instruments.LoadAndDelete(addr); ok {
			if err := mi.inst.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
			}
		}

		return true
	})

	return errors.Join(errs...)
}
