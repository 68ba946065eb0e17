// Package tcpip connects to instruments over raw TCP sockets, such as the SCPI
// socket service most bench instruments expose on port 5025.
//
// A Communicator is the socket itself. It implements visa.Transport and
// visa.Session, so it can be framed by a visa.Instrument:
//
//	cfg, err := tcpip.NewConnectionConfig("169.254.10.1", 5025, tcpip.WithTimeout(3*time.Second))
//	if err != nil {
//		return err
//	}
//
//	inst, err := tcpip.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer inst.Close()
//
//	idn, err := visa.Query(ctx, inst, "*IDN?")
//
// A Manager opens instruments by address and closes them together. It replaces a
// process-wide registry with a value owned by the caller.
package tcpip
