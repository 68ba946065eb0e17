package visa

import (
	"context"

	"github.com/arloliu/go-visa/decoder"
)

// Read reads a string message from inst until the read terminator.
//
// Omitted parameters are taken from inst.Attributes() at call time. The terminator is
// stripped unless KeepTerminator is given.
func Read(ctx context.Context, inst MessageBased, opts ...ReadOption) (string, error) {
	p := inst.Attributes().ResolveRead(opts...)

	return inst.ReadString(ctx, p.Terminator, p.Strip, p.Encoding, p.ChunkSize)
}

// ReadBytes reads exactly length bytes from inst.
func ReadBytes(ctx context.Context, inst MessageBased, length int, opts ...ReadOption) ([]byte, error) {
	p := inst.Attributes().ResolveRead(opts...)

	return inst.ReadBytes(ctx, length, p.ChunkSize)
}

// ReadBytesUntil reads bytes from inst until a terminator.
//
// The terminator is the one given with WithByteTerminator or, by default, the
// ReadTerminator attribute encoded under the resolved encoding. WithMaxLength bounds
// the read.
func ReadBytesUntil(ctx context.Context, inst MessageBased, opts ...ReadOption) ([]byte, error) {
	p := inst.Attributes().ResolveRead(opts...)

	term := p.ByteTerminator
	if term == nil {
		var err error
		if term, err = p.Encoding.Encode(p.Terminator); err != nil {
			return nil, err
		}
	}

	return inst.ReadBytesUntil(ctx, p.MaxLength, term, p.Strip, p.ChunkSize)
}

// Write writes s to inst followed by the write terminator.
//
// By default the WriteTerminator attribute is appended. AppendTerminator(NoTerminator())
// sends s unterminated and AppendTerminator(TerminatorOf(t)) appends t instead.
func Write(ctx context.Context, inst MessageBased, s string, opts ...WriteOption) (int, error) {
	p := inst.Attributes().ResolveWrite(opts...)

	var term *string
	if v, ok := p.Terminator.Value(); ok {
		term = &v
	}

	return inst.WriteString(ctx, s, term, p.Encoding)
}

// WriteBytes writes data to inst followed by the write terminator.
//
// The default terminator is the WriteTerminator attribute encoded under the Encoding
// attribute; an explicit TerminatorOf or TerminatorBytes value is sent as raw bytes.
func WriteBytes(ctx context.Context, inst MessageBased, data []byte, opts ...WriteOption) (int, error) {
	o := writeOptions{}
	for _, opt := range opts {
		opt.applyWrite(&o)
	}

	var term []byte
	switch o.terminator.Mode() {
	case TerminatorUseDefault:
		// The attribute terminator is text; encode it as the payload's encoding would be.
		p := inst.Attributes().ResolveWrite(opts...)
		v, _ := p.Terminator.Value()

		var err error
		if term, err = p.Encoding.Encode(v); err != nil {
			return 0, err
		}
	case TerminatorValue:
		v, _ := o.terminator.Value()
		term = []byte(v)
	case TerminatorNone:
	}

	return inst.WriteBytes(ctx, data, term)
}

// ReadWith reads a string message and decodes it with dec.
func ReadWith[T any](ctx context.Context, inst MessageBased, dec decoder.MessageDecoder[T], opts ...ReadOption) (T, error) {
	var zero T

	msg, err := Read(ctx, inst, opts...)
	if err != nil {
		return zero, err
	}

	return dec.Decode(msg)
}

// ReadAs reads a string message and decodes it with the default decoder of T.
func ReadAs[T any](ctx context.Context, inst MessageBased, opts ...ReadOption) (T, error) {
	dec, err := decoder.DefaultMessageDecoder[T]()
	if err != nil {
		var zero T
		return zero, err
	}

	return ReadWith(ctx, inst, dec, opts...)
}
