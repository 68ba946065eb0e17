package tcpip

import (
	"context"

	"github.com/arloliu/go-visa/visa"
)

// Open dials the instrument described by cfg and returns it as a visa.Instrument.
//
// The instrument starts with visa.DefaultAttributes, its chunk size set to
// cfg.ReadBufferSize() and both terminators set to cfg.LineTerminator().
// opts are applied afterwards and may replace the attributes entirely.
func Open(ctx context.Context, cfg *ConnectionConfig, opts ...visa.InstrumentOption) (*visa.Instrument, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	attrs := visa.DefaultAttributes()
	attrs.ChunkSize = cfg.ReadBufferSize()
	attrs.ReadTerminator = cfg.LineTerminator()
	attrs.WriteTerminator = cfg.LineTerminator()

	inst, _, err := open(ctx, cfg, append([]visa.InstrumentOption{visa.WithAttributes(attrs)}, opts...)...)

	return inst, err
}

func open(ctx context.Context, cfg *ConnectionConfig, opts ...visa.InstrumentOption) (*visa.Instrument, *Communicator, error) {
	comm, err := Dial(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	opts = append([]visa.InstrumentOption{visa.WithLogger(cfg.Logger())}, opts...)

	inst, err := visa.NewInstrument(comm, comm, opts...)
	if err != nil {
		_ = comm.Close()
		return nil, nil, err
	}

	return inst, comm, nil
}
