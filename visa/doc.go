// Package visa implements the message framing and query layer for laboratory and test
// instruments driven by line- or block-oriented command protocols over a byte stream.
//
// # Layers
//
//   - Transport: raw chunked reads and whole writes over a connection (see the tcpip and stream packages).
//   - Instrument: the framing engine. It assembles messages from chunk reads by scanning for a
//     terminator string or byte sequence, or by length, and appends terminators on writes.
//   - Attributes: per-instrument defaults (terminators, encoding, chunk size, operation delay)
//     consulted at call time whenever a read or write omits a parameter.
//   - Query: write a command and read the response back, optionally decoding it into a typed
//     value with the decoder package.
//
// # Example
//
//	inst, err := tcpip.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer inst.Close()
//
//	id, err := visa.Query(ctx, inst, "*IDN?")
//	volts, err := visa.QueryAs[float64](ctx, inst, "MEAS:VOLT?")
//	enabled, err := visa.QueryAs[bool](ctx, inst, "OUTP?")
//
// # Write Terminators
//
// Write takes a three-state terminator override: omitted (or DefaultTerminator) appends
// the WriteTerminator attribute, NoTerminator sends the message as is, and TerminatorOf
// appends an explicit value.
//
// # Concurrency
//
// An Instrument performs no serialization across calls. Callers must keep at most one
// operation in flight per instrument, otherwise a query's read may consume another
// query's response. Every read and write blocks only the calling goroutine, and a
// cancelled context interrupts a read between chunks.
//
// # Errors
//
// Failures carry one of ErrConnection, ErrTransportIO, ErrEncoding, ErrDecode or
// ErrProtocolTimeout. Query functions wrap them in *QueryError naming the failed stage.
// Nothing is retried internally.
package visa
