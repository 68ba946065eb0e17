package visa

import (
	"fmt"
	"time"
)

// Default attribute values.
const (
	DefaultReadTerminator  = "\n"
	DefaultWriteTerminator = "\n"
	DefaultOperationDelay  = time.Millisecond
	DefaultChunkSize       = 1024
)

// Attributes holds the communication defaults of an instrument. Every read and write
// that omits an explicit terminator, encoding or chunk size uses the value stored here
// at call time, so a mutation affects every operation issued after it.
//
// Attributes are read without synchronization. Mutating them while an operation is in
// flight on another goroutine is a data race; the operation may observe either value.
type Attributes struct {
	// ReadTerminator ends every message read from the instrument.
	ReadTerminator string
	// WriteTerminator is appended to every message written to the instrument.
	WriteTerminator string
	// OperationDelay is the minimum pause between two consecutive operations.
	// Some instruments fail when addressed in too short succession.
	OperationDelay time.Duration
	// ChunkSize is the maximum number of bytes requested from the transport per read.
	ChunkSize int
	// Encoding renders commands to bytes and interprets responses.
	Encoding Encoding
}

// DefaultAttributes returns the default attribute set:
// "\n" read and write terminators, a 1ms operation delay, 1024 byte chunks and UTF-8.
func DefaultAttributes() Attributes {
	return Attributes{
		ReadTerminator:  DefaultReadTerminator,
		WriteTerminator: DefaultWriteTerminator,
		OperationDelay:  DefaultOperationDelay,
		ChunkSize:       DefaultChunkSize,
		Encoding:        UTF8,
	}
}

// Validate checks the attribute invariants: a positive chunk size, a non-negative delay,
// and terminators that are representable in the encoding.
func (a *Attributes) Validate() error {
	if a.ChunkSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, a.ChunkSize)
	}
	if a.OperationDelay < 0 {
		return fmt.Errorf("visa: operation delay %v must not be negative", a.OperationDelay)
	}
	if a.ReadTerminator == "" {
		return ErrInvalidTerminator
	}
	if _, err := a.Encoding.Encode(a.ReadTerminator); err != nil {
		return err
	}
	if _, err := a.Encoding.Encode(a.WriteTerminator); err != nil {
		return err
	}

	return nil
}

// ReadParams are the effective parameters of one read after resolution.
type ReadParams struct {
	Terminator string
	// ByteTerminator is set only when the caller supplied a raw byte terminator.
	ByteTerminator []byte
	Strip          bool
	Encoding       Encoding
	ChunkSize      int
	MaxLength      int
}

// WriteParams are the effective parameters of one write after resolution.
type WriteParams struct {
	Terminator Terminator
	Encoding   Encoding
}

// ResolveRead merges opts over the attributes. It does not modify a, and resolving
// twice without an intervening mutation yields identical parameters.
func (a *Attributes) ResolveRead(opts ...ReadOption) ReadParams {
	o := readOptions{}
	for _, opt := range opts {
		opt.applyRead(&o)
	}

	p := ReadParams{
		Terminator: a.ReadTerminator,
		Strip:      !o.keepTerminator,
		Encoding:   a.Encoding,
		ChunkSize:  a.ChunkSize,
		MaxLength:  o.maxLength,
	}
	if o.terminator != nil {
		p.Terminator = *o.terminator
	}
	if o.byteTerminator != nil {
		p.ByteTerminator = o.byteTerminator
	}
	if o.encoding != nil {
		p.Encoding = *o.encoding
	}
	if o.chunkSize != nil {
		p.ChunkSize = *o.chunkSize
	}

	return p
}

// ResolveWrite merges opts over the attributes. A Terminator left at UseDefault is
// replaced by the WriteTerminator attribute; an explicit "no terminator" survives.
func (a *Attributes) ResolveWrite(opts ...WriteOption) WriteParams {
	o := writeOptions{}
	for _, opt := range opts {
		opt.applyWrite(&o)
	}

	p := WriteParams{
		Terminator: o.terminator,
		Encoding:   a.Encoding,
	}
	if p.Terminator.Mode() == TerminatorUseDefault {
		p.Terminator = TerminatorOf(a.WriteTerminator)
	}
	if o.encoding != nil {
		p.Encoding = *o.encoding
	}

	return p
}

// TerminatorMode tells how a write terminator override is to be interpreted.
type TerminatorMode uint8

const (
	// TerminatorUseDefault uses the instrument's WriteTerminator attribute.
	TerminatorUseDefault TerminatorMode = iota
	// TerminatorNone sends the message without any terminator.
	TerminatorNone
	// TerminatorValue appends an explicit terminator.
	TerminatorValue
)

func (m TerminatorMode) String() string {
	switch m {
	case TerminatorUseDefault:
		return "UseDefault"
	case TerminatorNone:
		return "None"
	case TerminatorValue:
		return "Value"
	default:
		return "Unknown"
	}
}

// Terminator is a three-state write terminator override. The zero value is UseDefault.
type Terminator struct {
	mode  TerminatorMode
	value string
}

// DefaultTerminator selects the instrument's configured write terminator.
func DefaultTerminator() Terminator { return Terminator{} }

// NoTerminator sends a message unterminated.
func NoTerminator() Terminator { return Terminator{mode: TerminatorNone} }

// TerminatorOf appends s. An empty s is equivalent to NoTerminator for the bytes sent,
// but keeps the TerminatorValue mode.
func TerminatorOf(s string) Terminator { return Terminator{mode: TerminatorValue, value: s} }

// TerminatorBytes appends the raw bytes b. For string writes the bytes are appended before
// encoding; for byte writes they are sent as is.
func TerminatorBytes(b []byte) Terminator { return TerminatorOf(string(b)) }

// Mode returns the override state.
func (t Terminator) Mode() TerminatorMode { return t.mode }

// Value returns the explicit terminator and whether one is set.
func (t Terminator) Value() (string, bool) {
	return t.value, t.mode == TerminatorValue
}

func (t Terminator) String() string {
	if t.mode == TerminatorValue {
		return fmt.Sprintf("%s(%q)", t.mode, t.value)
	}

	return t.mode.String()
}

// ReadOption overrides one read parameter for a single call.
type ReadOption interface {
	applyRead(o *readOptions)
}

// WriteOption overrides one write parameter for a single call.
type WriteOption interface {
	applyWrite(o *writeOptions)
}

type readOptions struct {
	terminator     *string
	byteTerminator []byte
	keepTerminator bool
	encoding       *Encoding
	chunkSize      *int
	maxLength      int
}

type writeOptions struct {
	terminator Terminator
	encoding   *Encoding
}

type readOptFunc func(o *readOptions)

func (f readOptFunc) applyRead(o *readOptions) { f(o) }

type writeOptFunc func(o *writeOptions)

func (f writeOptFunc) applyWrite(o *writeOptions) { f(o) }

// WithReadTerminator reads until s instead of the ReadTerminator attribute.
func WithReadTerminator(s string) ReadOption {
	return readOptFunc(func(o *readOptions) { o.terminator = &s })
}

// WithByteTerminator reads until the raw byte sequence b. It applies to byte reads only.
func WithByteTerminator(b []byte) ReadOption {
	return readOptFunc(func(o *readOptions) { o.byteTerminator = b })
}

// KeepTerminator returns the message with its terminator. By default it is stripped.
func KeepTerminator() ReadOption {
	return readOptFunc(func(o *readOptions) { o.keepTerminator = true })
}

// WithChunkSize requests at most n bytes from the transport per read call.
func WithChunkSize(n int) ReadOption {
	return readOptFunc(func(o *readOptions) { o.chunkSize = &n })
}

// WithMaxLength bounds a terminator-delimited byte read to n bytes, terminator included.
// Zero or a negative n means unbounded.
func WithMaxLength(n int) ReadOption {
	return readOptFunc(func(o *readOptions) { o.maxLength = n })
}

// AppendTerminator selects the terminator appended by a write.
func AppendTerminator(t Terminator) WriteOption {
	return writeOptFunc(func(o *writeOptions) { o.terminator = t })
}

// EncodingOption overrides the encoding of a single read or write.
type EncodingOption struct {
	enc Encoding
}

// WithEncoding uses enc instead of the Encoding attribute. It is valid for reads and writes.
func WithEncoding(enc Encoding) EncodingOption {
	return EncodingOption{enc: enc}
}

func (e EncodingOption) applyRead(o *readOptions)   { o.encoding = &e.enc }
func (e EncodingOption) applyWrite(o *writeOptions) { o.encoding = &e.enc }
