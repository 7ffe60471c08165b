// Package endpoint implements the Unix-domain datagram endpoints shared by
// the client and server: the tagged send entry, the FIFO send queue, the
// cooperative send pipeline with its retry budget and watchdog, and the
// receive loop that feeds per-peer liveness tracking.
//
// Each endpoint owns one io goroutine. All endpoint state is mutated on
// that goroutine; other goroutines interact by posting tasks to it. User-
// visible events cross onto the dispatcher as signals.
package endpoint
